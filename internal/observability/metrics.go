package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workbench"

type moduleMetrics struct {
	agentConfigs prometheus.Gauge

	cacheLookups   *prometheus.CounterVec
	cacheBuilds    *prometheus.CounterVec
	cacheBuildTime prometheus.Histogram
	cachedAgents   prometheus.Gauge

	toolSynthesisFailures *prometheus.CounterVec
	toolInvocations       *prometheus.CounterVec
	toolDuration          *prometheus.HistogramVec

	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	streamEvents    *prometheus.CounterVec
	streamOutcomes  *prometheus.CounterVec
	inFlightRuns    *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	queueWait       prometheus.Histogram
	conversations   prometheus.Gauge
	traces          prometheus.Gauge
	gatewayRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentConfigs: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "agent_configs",
					Help:      "Number of stored agent configurations.",
				},
			),
			cacheLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_cache_lookups_total",
					Help:      "Agent instance cache lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			cacheBuilds: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_cache_builds_total",
					Help:      "Agent instance builds by status.",
				},
				[]string{"status"},
			),
			cacheBuildTime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_cache_build_duration_seconds",
					Help:      "Time spent materializing an agent instance.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			cachedAgents: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "agent_cache_entries",
					Help:      "Number of cached agent instances.",
				},
			),
			toolSynthesisFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_synthesis_failures_total",
					Help:      "Tool specs dropped during synthesis by kind and reason.",
				},
				[]string{"kind", "reason"},
			),
			toolInvocations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_invocations_total",
					Help:      "Function tool invocations by source and status.",
				},
				[]string{"source", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_invocation_duration_seconds",
					Help:      "Function tool invocation duration by source.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"source"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "runs_total",
					Help:      "Completed agent runs by mode (batch, stream) and status.",
				},
				[]string{"mode", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Agent run duration by mode.",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"mode"},
			),
			streamEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stream_events_total",
					Help:      "Engine events forwarded to streaming clients by type.",
				},
				[]string{"type"},
			),
			streamOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stream_sessions_total",
					Help:      "Streaming sessions by terminal state.",
				},
				[]string{"outcome"},
			),
			inFlightRuns: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "runs_in_flight",
					Help:      "Runs currently executing by mode.",
				},
				[]string{"mode"},
			),
			queueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "lane_queue_depth",
					Help:      "Tasks waiting for a conversation lane.",
				},
			),
			queueWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_queue_wait_seconds",
					Help:      "Time a task waited for its lane.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			conversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "conversations",
					Help:      "Number of conversations held by the ledger.",
				},
			),
			traces: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "traces",
					Help:      "Number of run traces held by the recorder.",
				},
			),
			gatewayRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_requests_total",
					Help:      "Gateway HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.agentConfigs,
			m.cacheLookups,
			m.cacheBuilds,
			m.cacheBuildTime,
			m.cachedAgents,
			m.toolSynthesisFailures,
			m.toolInvocations,
			m.toolDuration,
			m.runTotal,
			m.runDuration,
			m.streamEvents,
			m.streamOutcomes,
			m.inFlightRuns,
			m.queueDepth,
			m.queueWait,
			m.conversations,
			m.traces,
			m.gatewayRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetAgentConfigs(count int) {
	getMetrics().agentConfigs.Set(float64(count))
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	getMetrics().cacheLookups.WithLabelValues(result).Inc()
}

func RecordCacheBuild(duration time.Duration, success bool) {
	m := getMetrics()
	m.cacheBuilds.WithLabelValues(statusLabel(success)).Inc()
	m.cacheBuildTime.Observe(duration.Seconds())
}

func SetCachedAgents(count int) {
	getMetrics().cachedAgents.Set(float64(count))
}

func RecordToolSynthesisFailure(kind, reason string) {
	getMetrics().toolSynthesisFailures.WithLabelValues(kind, reason).Inc()
}

func RecordToolInvocation(source string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolInvocations.WithLabelValues(source, statusLabel(success)).Inc()
	m.toolDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func RecordRun(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.runTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// TrackRun marks a run of the given mode as in flight until the returned func is called.
func TrackRun(mode string) func() {
	gauge := getMetrics().inFlightRuns.WithLabelValues(mode)
	gauge.Inc()
	return gauge.Dec
}

func RecordStreamEvent(eventType string) {
	getMetrics().streamEvents.WithLabelValues(eventType).Inc()
}

func RecordStreamOutcome(outcome string) {
	getMetrics().streamOutcomes.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(depth int) {
	getMetrics().queueDepth.Set(float64(depth))
}

func RecordQueueWait(duration time.Duration) {
	getMetrics().queueWait.Observe(duration.Seconds())
}

func SetConversations(count int) {
	getMetrics().conversations.Set(float64(count))
}

func SetTraces(count int) {
	getMetrics().traces.Set(float64(count))
}

func RecordGatewayRequest(route string, code int) {
	getMetrics().gatewayRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

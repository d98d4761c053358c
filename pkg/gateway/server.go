package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/orchestrator"
)

// TraceHeader carries a caller supplied trace id.
const TraceHeader = "X-Trace-Id"

// Server is the HTTP and WebSocket front end of the orchestrator.
type Server struct {
	addr         string
	orch         *orchestrator.Orchestrator
	auth         *APIKeyAuth
	limiters     *rateLimiters
	streams      *StreamRegistry
	health       HealthFunc
	origins      []string
	upgrader     websocket.Upgrader
	server       *http.Server
	logger       zerolog.Logger
	shutdownMu   sync.RWMutex
	shuttingDown bool
	sweepCancel  context.CancelFunc
	sweepWG      sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Addr                 string
	APIKey               string
	PublicAccess         bool
	AllowedOrigins       []string
	RequestsPerMinute    int
	MaxConcurrentStreams int
	Orchestrator         *orchestrator.Orchestrator
	Health               HealthFunc
	Logger               zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if !cfg.PublicAccess && cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required unless public access is enabled")
	}
	if cfg.Health == nil {
		cfg.Health = func(context.Context) HealthResponse {
			return HealthResponse{Status: "ok", Models: []string{}}
		}
	}

	observability.EnsureRegistered()

	s := &Server{
		addr:     cfg.Addr,
		orch:     cfg.Orchestrator,
		auth:     NewAPIKeyAuth(cfg.APIKey, cfg.PublicAccess),
		limiters: newRateLimiters(cfg.RequestsPerMinute, cfg.MaxConcurrentStreams),
		streams:  NewStreamRegistry(),
		health:   cfg.Health,
		origins:  cfg.AllowedOrigins,
		logger:   cfg.Logger.With().Str("component", "gateway").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	return s, nil
}

// Handler returns the HTTP handler with every route and middleware mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.MetricsHandler())

	mux.HandleFunc("POST /api/agents", s.auth.Require(s.handleCreateAgent, false))
	mux.HandleFunc("GET /api/agents", s.auth.Require(s.handleListAgents, false))
	mux.HandleFunc("GET /api/agents/{agent_id}", s.auth.Require(s.handleGetAgent, false))
	mux.HandleFunc("PUT /api/agents/{agent_id}", s.auth.Require(s.handleUpdateAgent, false))
	mux.HandleFunc("DELETE /api/agents/{agent_id}", s.auth.Require(s.handleDeleteAgent, false))

	mux.HandleFunc("POST /api/run", s.auth.Require(s.handleRun, false))
	mux.HandleFunc("GET /api/stream/{agent_id}", s.auth.Require(s.handleStream, true))
	mux.HandleFunc("GET /api/streams", s.auth.Require(s.handleListStreams, false))

	mux.HandleFunc("GET /api/conversations", s.auth.Require(s.handleListConversations, false))
	mux.HandleFunc("GET /api/conversations/{conversation_id}", s.auth.Require(s.handleGetConversation, false))
	mux.HandleFunc("DELETE /api/conversations/{conversation_id}", s.auth.Require(s.handleDeleteConversation, false))

	mux.HandleFunc("GET /api/traces/{run_id}", s.auth.Require(s.handleGetTrace, false))

	return s.withRequestContext(s.withCORS(mux))
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startSweeper()
	return nil
}

// Stop refuses new streams, closes open ones and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopSweeper()

	if n := s.streams.closeAll(); n > 0 {
		s.logger.Info().Int("streams", n).Msg("Closed open streams")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Streams returns the open streaming connections.
func (s *Server) Streams() []StreamInfo {
	return s.streams.List()
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shuttingDown
}

func (s *Server) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepWG.Add(1)

	go func() {
		defer s.sweepWG.Done()

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.limiters.sweep(now); n > 0 {
					s.logger.Debug().Int("clients", n).Msg("Dropped idle rate limiters")
				}
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepCancel = nil
	}
	s.sweepWG.Wait()
}

// withRequestContext attaches a trace id, logs the request and records metrics.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		observability.RecordGatewayRequest(route, rec.status)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// withCORS applies the configured origin allow-list.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			switch allowed, exact := s.matchOrigin(origin); {
			case exact:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			case allowed:
				// wildcard: credentialed requests are never allowed
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", APIKeyHeader, TraceHeader}, ", "))
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(600))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	allowed, _ := s.matchOrigin(origin)
	return allowed
}

// matchOrigin reports whether origin is allowed and whether it is listed
// explicitly rather than through "*".
func (s *Server) matchOrigin(origin string) (allowed, exact bool) {
	for _, o := range s.origins {
		if strings.EqualFold(o, origin) {
			return true, true
		}
		if o == "*" {
			allowed = true
		}
	}
	return allowed, false
}

// checkOrigin accepts non-browser clients and allow-listed browser origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}

// statusRecorder captures the response status for metrics. It forwards
// Hijack so WebSocket upgrades keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "key:" + fingerprint(key)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// Package agentcache materializes agent instances from stored
// configurations and keeps them until the configuration changes.
package agentcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/tools"
)

// Source supplies configurations and change notifications.
type Source interface {
	Get(id string) (agentconfig.AgentConfig, error)
	OnChange(fn agentconfig.ChangeFunc)
}

// ToolSynthesizer converts tool specs into tools.
type ToolSynthesizer interface {
	SynthesizeAll(ctx context.Context, specs []agentconfig.ToolSpec) []tools.Tool
}

type Config struct {
	Source      Source
	Synthesizer ToolSynthesizer
	Resolver    *ModelResolver
	Logger      zerolog.Logger
}

// build is an in-flight materialization shared by concurrent callers.
type build struct {
	done chan struct{}
	inst *engine.Instance
	err  error
}

// Cache holds one instance per configuration id. Concurrent misses for the
// same id share a single build, and a build that overlaps an invalidation
// is returned to its callers but not retained.
type Cache struct {
	source   Source
	synth    ToolSynthesizer
	resolver *ModelResolver
	logger   zerolog.Logger

	mu        sync.Mutex
	instances map[string]*engine.Instance
	inflight  map[string]*build
	gen       map[string]uint64
	epoch     uint64
}

func New(cfg Config) (*Cache, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("tool synthesizer is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewModelResolver(nil)
	}
	observability.EnsureRegistered()

	c := &Cache{
		source:    cfg.Source,
		synth:     cfg.Synthesizer,
		resolver:  cfg.Resolver,
		logger:    cfg.Logger.With().Str("component", "agentcache").Logger(),
		instances: make(map[string]*engine.Instance),
		inflight:  make(map[string]*build),
		gen:       make(map[string]uint64),
	}
	cfg.Source.OnChange(c.Invalidate)
	return c, nil
}

// GetOrBuild returns the cached instance for id, building it on a miss.
func (c *Cache) GetOrBuild(ctx context.Context, id string) (*engine.Instance, error) {
	c.mu.Lock()
	if inst, ok := c.instances[id]; ok {
		c.mu.Unlock()
		observability.RecordCacheLookup(true)
		return inst, nil
	}
	observability.RecordCacheLookup(false)

	if b, ok := c.inflight[id]; ok {
		c.mu.Unlock()
		return b.wait(ctx)
	}

	b := &build{done: make(chan struct{})}
	c.inflight[id] = b
	startGen, startEpoch := c.gen[id], c.epoch
	c.mu.Unlock()

	start := time.Now()
	b.inst, b.err = c.build(ctx, id)
	observability.RecordCacheBuild(time.Since(start), b.err == nil)

	c.mu.Lock()
	delete(c.inflight, id)
	if b.err == nil && c.gen[id] == startGen && c.epoch == startEpoch {
		c.instances[id] = b.inst
	}
	delete(c.gen, id)
	observability.SetCachedAgents(len(c.instances))
	c.mu.Unlock()
	close(b.done)

	return b.inst, b.err
}

func (b *build) wait(ctx context.Context) (*engine.Instance, error) {
	select {
	case <-b.done:
		return b.inst, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) build(ctx context.Context, id string) (*engine.Instance, error) {
	ctx, span := tracing.StartSpan(ctx, "workbench.agentcache", "agentcache.build",
		attribute.String("agent.id", id),
	)
	defer span.End()

	cfg, err := c.source.Get(id)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	ctx = tracing.WithAgentID(ctx, id)
	inst := &engine.Instance{
		ConfigID:     cfg.ID,
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        c.resolver.Resolve(cfg.Model),
		Tools:        c.synth.SynthesizeAll(ctx, cfg.Tools),
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Str("model", inst.Model).
		Int("tools", len(inst.Tools)).
		Int("tools_declared", len(cfg.Tools)).
		Msg("Built agent instance")

	return inst, nil
}

// Invalidate drops the cached instance for id. A generation is only kept
// while a build for id is in flight, so that build is not retained.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.instances, id)
	if _, building := c.inflight[id]; building {
		c.gen[id]++
	}
	observability.SetCachedAgents(len(c.instances))
	c.mu.Unlock()
}

// InvalidateAll drops every cached instance, e.g. after the model alias
// table changes.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	clear(c.instances)
	c.epoch++
	observability.SetCachedAgents(0)
	c.mu.Unlock()
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// Resolver returns the model alias resolver used for builds.
func (c *Cache) Resolver() *ModelResolver {
	return c.resolver
}

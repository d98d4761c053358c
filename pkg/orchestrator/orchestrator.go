// Package orchestrator runs stored agents against caller input, either as
// background batch runs or as streaming sessions over a single connection,
// and keeps each conversation's history and each run's trace.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/runqueue"
	"github.com/harun/workbench/pkg/trace"
)

var ErrShuttingDown = errors.New("orchestrator is shutting down")

// InstanceProvider resolves a configuration id to a runnable instance.
type InstanceProvider interface {
	GetOrBuild(ctx context.Context, configID string) (*engine.Instance, error)
}

type Config struct {
	Store     *agentconfig.Store
	Instances InstanceProvider
	Engine    engine.Engine
	Ledger    *conversation.Ledger
	Traces    *trace.Recorder
	// Queue serializes runs that share a conversation. Nil lets them interleave.
	Queue  *runqueue.Queue
	Logger zerolog.Logger
}

// Orchestrator owns batch and streaming runs.
type Orchestrator struct {
	store     *agentconfig.Store
	instances InstanceProvider
	engine    engine.Engine
	ledger    *conversation.Ledger
	traces    *trace.Recorder
	queue     *runqueue.Queue

	base   context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu     sync.Mutex
	closed bool

	logger zerolog.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if cfg.Instances == nil {
		return nil, fmt.Errorf("instance provider is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("conversation ledger is required")
	}
	if cfg.Traces == nil {
		return nil, fmt.Errorf("trace recorder is required")
	}

	observability.EnsureRegistered()

	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     cfg.Store,
		instances: cfg.Instances,
		engine:    cfg.Engine,
		ledger:    cfg.Ledger,
		traces:    cfg.Traces,
		queue:     cfg.Queue,
		base:      base,
		cancel:    cancel,
		logger:    cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// CreateAgent stores a new agent configuration.
func (o *Orchestrator) CreateAgent(ctx context.Context, cfg agentconfig.AgentConfig) (agentconfig.AgentConfig, error) {
	created, err := o.store.Create(cfg)
	if err != nil {
		return agentconfig.AgentConfig{}, err
	}
	observability.RecordConfigAudit(ctx, "agent.create", created.ID, map[string]any{
		"name":  created.Name,
		"model": created.Model,
		"tools": len(created.Tools),
	})
	return created, nil
}

func (o *Orchestrator) ListAgents() []agentconfig.AgentConfig {
	return o.store.List()
}

func (o *Orchestrator) GetAgent(id string) (agentconfig.AgentConfig, error) {
	return o.store.Get(id)
}

// UpdateAgent replaces a configuration. The store notifies the instance
// cache, so the next run rebuilds the agent.
func (o *Orchestrator) UpdateAgent(ctx context.Context, id string, cfg agentconfig.AgentConfig) (agentconfig.AgentConfig, error) {
	updated, err := o.store.Update(id, cfg)
	if err != nil {
		return agentconfig.AgentConfig{}, err
	}
	observability.RecordConfigAudit(ctx, "agent.update", id, map[string]any{
		"name":  updated.Name,
		"model": updated.Model,
		"tools": len(updated.Tools),
	})
	return updated, nil
}

func (o *Orchestrator) DeleteAgent(ctx context.Context, id string) error {
	if err := o.store.Delete(id); err != nil {
		return err
	}
	observability.RecordConfigAudit(ctx, "agent.delete", id, nil)
	return nil
}

func (o *Orchestrator) GetConversation(id string) ([]conversation.Message, error) {
	return o.ledger.Get(id)
}

func (o *Orchestrator) ListConversations() map[string][]conversation.Message {
	return o.ledger.List()
}

func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if err := o.ledger.Delete(id); err != nil {
		return err
	}
	o.logger.Info().Str("conversation_id", id).Msg("Conversation deleted")
	return nil
}

func (o *Orchestrator) GetTrace(runID string) (trace.RunRecord, error) {
	return o.traces.Get(runID)
}

// IsNotFound reports whether err names an unknown agent, conversation or run.
func IsNotFound(err error) bool {
	return errors.Is(err, agentconfig.ErrNotFound) ||
		errors.Is(err, conversation.ErrNotFound) ||
		errors.Is(err, trace.ErrNotFound)
}

// inLane runs fn in the conversation's lane when serialization is enabled.
func (o *Orchestrator) inLane(ctx context.Context, conversationID string, fn runqueue.Task) error {
	if o.queue == nil {
		return fn(ctx)
	}
	return o.queue.Do(ctx, "conversation:"+conversationID, fn)
}

// track registers a run with the shutdown wait group unless shutdown began.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.runs.Add(1)
	return true
}

// Shutdown stops accepting runs and waits for batch runs to finish. When ctx
// ends first, the remaining runs are cancelled and ctx.Err() is returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()

	defer o.cancel()

	select {
	case <-done:
		o.logger.Info().Msg("All runs completed")
		return nil
	case <-ctx.Done():
		o.logger.Warn().Msg("Shutdown deadline reached, cancelling in-flight runs")
		return ctx.Err()
	}
}

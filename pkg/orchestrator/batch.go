package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/trace"
)

// RunStatusRunning is the only status a batch run reports.
const RunStatusRunning = "running"

// RunRequest asks for a batch run of an agent.
type RunRequest struct {
	AgentID        string
	Input          string
	ConversationID string
}

// RunHandle identifies a submitted batch run. Completion is observed through
// the conversation and the trace, never through the handle.
type RunHandle struct {
	RunID          string `json:"run_id"`
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// SubmitRun schedules a batch run and returns without waiting for it.
// An unknown agent fails synchronously and leaves no conversation behind.
func (o *Orchestrator) SubmitRun(ctx context.Context, req RunRequest) (RunHandle, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workbench.orchestrator",
		"orchestrator.submit_run",
		attribute.String("agent_id", req.AgentID),
	)
	defer span.End()

	if !o.store.Exists(req.AgentID) {
		err := fmt.Errorf("%w: %s", agentconfig.ErrNotFound, req.AgentID)
		tracing.FailSpan(span, err)
		return RunHandle{}, err
	}

	handle := RunHandle{
		RunID:          tracing.NewRunID(),
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Status:         RunStatusRunning,
	}
	if handle.ConversationID == "" {
		handle.ConversationID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("run_id", handle.RunID),
		attribute.String("conversation_id", handle.ConversationID),
	)

	if !o.track() {
		tracing.FailSpan(span, ErrShuttingDown)
		return RunHandle{}, ErrShuttingDown
	}

	release := o.ledger.Hold(handle.ConversationID)

	runCtx := tracing.Detach(o.base, tracing.NewContext(ctx, tracing.Fields{
		RunID:          handle.RunID,
		AgentID:        handle.AgentID,
		ConversationID: handle.ConversationID,
	}))

	logger := tracing.LoggerFromContext(runCtx, o.logger)
	logger.Info().Msg("Batch run submitted")

	go func() {
		defer o.runs.Done()
		defer release()
		o.executeBatch(runCtx, handle, req.Input)
	}()

	return handle, nil
}

func (o *Orchestrator) executeBatch(ctx context.Context, handle RunHandle, input string) {
	ctx, span := tracing.StartSpan(ctx, "workbench.orchestrator", "orchestrator.batch_run")
	defer span.End()

	done := observability.TrackRun("batch")
	defer done()

	logger := tracing.LoggerFromContext(ctx, o.logger)
	start := time.Now()

	err := o.inLane(ctx, handle.ConversationID, func(ctx context.Context) error {
		o.ledger.Append(handle.ConversationID, conversation.RoleUser, input)

		result, err := o.runBatch(ctx, handle.AgentID, input)
		if err != nil {
			o.ledger.Append(handle.ConversationID, conversation.RoleSystem, "Error: "+err.Error())
			return err
		}

		o.ledger.Append(handle.ConversationID, conversation.RoleAssistant, result.FinalOutput)
		return o.traces.Record(trace.RunRecord{
			RunID:          handle.RunID,
			AgentID:        handle.AgentID,
			ConversationID: handle.ConversationID,
			RawResponses:   result.RawResponses,
			NewItems:       result.NewItems,
		})
	})

	duration := time.Since(start)
	observability.RecordRun("batch", duration, err == nil)

	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Dur("duration", duration).Msg("Batch run failed")
		return
	}
	logger.Info().Dur("duration", duration).Msg("Batch run completed")
}

func (o *Orchestrator) runBatch(ctx context.Context, agentID, input string) (engine.Result, error) {
	inst, err := o.instances.GetOrBuild(ctx, agentID)
	if err != nil {
		return engine.Result{}, err
	}
	return o.engine.Run(ctx, inst, input)
}

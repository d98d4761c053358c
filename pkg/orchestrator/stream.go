package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/trace"
)

// ErrDisconnected marks a transport failure caused by the client going away.
// Conn implementations wrap it into errors for closed or broken connections.
var ErrDisconnected = errors.New("client disconnected")

// Message types sent to streaming clients besides forwarded engine events.
const (
	MessageFinalOutput = "final_output"
	MessageError       = "error"
)

// StreamOutcome is the terminal state of a streaming session.
type StreamOutcome string

const (
	OutcomeClosedNormal       StreamOutcome = "closed-normal"
	OutcomeClosedOnDisconnect StreamOutcome = "closed-on-disconnect"
	OutcomeClosedOnError      StreamOutcome = "closed-on-error"
)

// Conn is one bidirectional JSON message connection to a client.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// StreamRequest is the single input message of a streaming session.
type StreamRequest struct {
	Input          *string `json:"input"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// StreamMessage is the envelope of every message sent to the client.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ServeStream runs one streaming session over conn and always closes it.
func (o *Orchestrator) ServeStream(ctx context.Context, agentID string, conn Conn) StreamOutcome {
	ctx = tracing.WithAgentID(ctx, agentID)
	ctx, span := tracing.StartSpan(
		ctx,
		"workbench.orchestrator",
		"orchestrator.stream",
		attribute.String("agent_id", agentID),
	)
	defer span.End()

	done := observability.TrackRun("stream")
	defer done()

	start := time.Now()
	s := &session{o: o, conn: conn, agentID: agentID}
	outcome := s.serve(ctx)
	_ = conn.Close()

	observability.RecordStreamOutcome(string(outcome))
	observability.RecordRun("stream", time.Since(start), outcome == OutcomeClosedNormal)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if s.err != nil && outcome == OutcomeClosedOnError {
		tracing.FailSpan(span, s.err)
	}

	s.logger.Info().
		Str("outcome", string(outcome)).
		Dur("duration", time.Since(start)).
		Msg("Stream session closed")
	return outcome
}

type session struct {
	o       *Orchestrator
	conn    Conn
	agentID string
	err     error
	logger  zerolog.Logger
}

func (s *session) serve(ctx context.Context) StreamOutcome {
	s.logger = tracing.LoggerFromContext(ctx, s.o.logger)

	var req StreamRequest
	if err := s.conn.ReadJSON(&req); err != nil {
		if errors.Is(err, ErrDisconnected) {
			return OutcomeClosedOnDisconnect
		}
		return s.fail(fmt.Errorf("invalid input message: %w", err))
	}
	if req.Input == nil {
		return s.fail(fmt.Errorf("invalid input message: input is required"))
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.o.base, func() { cancel(ErrShuttingDown) })
	defer stop()
	go s.readPump(cancel, s.logger)

	inst, err := s.o.instances.GetOrBuild(runCtx, s.agentID)
	if err != nil {
		if disconnected(runCtx, err) {
			return OutcomeClosedOnDisconnect
		}
		return s.fail(err)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	runID := tracing.NewRunID()
	runCtx = tracing.NewContext(runCtx, tracing.Fields{RunID: runID, ConversationID: conversationID})
	s.logger = tracing.LoggerFromContext(runCtx, s.o.logger)

	var finalSent bool
	err = s.o.inLane(runCtx, conversationID, func(ctx context.Context) error {
		release := s.o.ledger.Hold(conversationID)
		defer release()
		s.o.ledger.Append(conversationID, conversation.RoleUser, *req.Input)

		result, err := s.o.engine.RunStreamed(ctx, inst, *req.Input, s.forward)
		if err != nil {
			return err
		}

		final := StreamMessage{Type: MessageFinalOutput, Data: map[string]any{
			"content":         result.FinalOutput,
			"run_id":          runID,
			"conversation_id": conversationID,
		}}
		if err := s.write(final); err != nil {
			return err
		}
		finalSent = true

		s.o.ledger.Append(conversationID, conversation.RoleAssistant, result.FinalOutput)
		if err := s.o.traces.Record(trace.RunRecord{
			RunID:          runID,
			AgentID:        s.agentID,
			ConversationID: conversationID,
			RawResponses:   result.RawResponses,
			NewItems:       result.NewItems,
		}); err != nil {
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		return OutcomeClosedNormal
	case finalSent:
		// final_output already reached the client
		s.err = err
		s.logger.Error().Err(err).Msg("Failed to record trace")
		return OutcomeClosedOnError
	case disconnected(runCtx, err):
		s.logger.Debug().Err(err).Msg("Client disconnected, run abandoned")
		return OutcomeClosedOnDisconnect
	default:
		if cause := context.Cause(runCtx); errors.Is(cause, ErrShuttingDown) {
			err = cause
		}
		return s.fail(err)
	}
}

// readPump watches the connection for client disconnects while the run is
// in flight. Further client messages, readable or not, are ignored.
func (s *session) readPump(cancel context.CancelCauseFunc, logger zerolog.Logger) {
	for {
		var discard json.RawMessage
		err := s.conn.ReadJSON(&discard)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrDisconnected) {
			cancel(ErrDisconnected)
			return
		}
		logger.Debug().Err(err).Msg("Ignoring unreadable client message")
	}
}

func (s *session) forward(ev engine.Event) error {
	msg := EncodeEvent(ev)
	if err := s.write(msg); err != nil {
		return err
	}
	observability.RecordStreamEvent(msg.Type)
	return nil
}

// write sends msg. Every write failure is treated as a disconnect.
func (s *session) write(msg StreamMessage) error {
	if err := s.conn.WriteJSON(msg); err != nil {
		if errors.Is(err, ErrDisconnected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (s *session) fail(err error) StreamOutcome {
	s.err = err
	s.logger.Error().Err(err).Msg("Stream session failed")

	msg := StreamMessage{Type: MessageError, Data: map[string]any{"message": errorMessage(err)}}
	if werr := s.write(msg); werr != nil {
		s.logger.Debug().Err(werr).Msg("Failed to send error event")
	}
	return OutcomeClosedOnError
}

func errorMessage(err error) string {
	if errors.Is(err, agentconfig.ErrNotFound) {
		return "Agent not found"
	}
	return err.Error()
}

func disconnected(ctx context.Context, err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(context.Cause(ctx), ErrDisconnected)
}

// EncodeEvent converts an engine event to the wire envelope. An event without
// a kind is named after its Go type; a payload that cannot be serialized is
// replaced by a {message, content} description.
func EncodeEvent(ev engine.Event) StreamMessage {
	kind := ev.Kind()
	if kind == "" {
		kind = typeName(ev)
	}

	payload := ev.Payload()
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			return StreamMessage{Type: kind, Data: json.RawMessage(data)}
		}
	}

	return StreamMessage{Type: kind, Data: map[string]any{
		"message": "Unstructured event: " + kind,
		"content": fmt.Sprintf("%v", payload),
	}}
}

func typeName(ev engine.Event) string {
	var v any = ev
	if opaque, ok := ev.(engine.OpaqueEvent); ok && opaque.Value != nil {
		v = opaque.Value
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

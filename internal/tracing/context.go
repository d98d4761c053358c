package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for tracing context keys.
type ContextKey string

const (
	TraceIDKey        ContextKey = "trace_id"
	RunIDKey          ContextKey = "run_id"
	AgentIDKey        ContextKey = "agent_id"
	ConversationIDKey ContextKey = "conversation_id"
	ConnectionIDKey   ContextKey = "connection_id"
)

// Fields holds the identifiers carried through a request or run.
type Fields struct {
	TraceID        string
	RunID          string
	AgentID        string
	ConversationID string
	ConnectionID   string
}

func NewTraceID() string {
	return uuid.New().String()
}

func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connectionID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }
func GetRunID(ctx context.Context) string { return stringValue(ctx, RunIDKey) }
func GetAgentID(ctx context.Context) string { return stringValue(ctx, AgentIDKey) }
func GetConversationID(ctx context.Context) string { return stringValue(ctx, ConversationIDKey) }
func GetConnectionID(ctx context.Context) string { return stringValue(ctx, ConnectionIDKey) }

// FromContext extracts all tracing fields from ctx.
func FromContext(ctx context.Context) Fields {
	return Fields{
		TraceID:        GetTraceID(ctx),
		RunID:          GetRunID(ctx),
		AgentID:        GetAgentID(ctx),
		ConversationID: GetConversationID(ctx),
		ConnectionID:   GetConnectionID(ctx),
	}
}

// NewContext attaches the non-empty fields of f to ctx.
func NewContext(ctx context.Context, f Fields) context.Context {
	if f.TraceID != "" {
		ctx = WithTraceID(ctx, f.TraceID)
	}
	if f.RunID != "" {
		ctx = WithRunID(ctx, f.RunID)
	}
	if f.AgentID != "" {
		ctx = WithAgentID(ctx, f.AgentID)
	}
	if f.ConversationID != "" {
		ctx = WithConversationID(ctx, f.ConversationID)
	}
	if f.ConnectionID != "" {
		ctx = WithConnectionID(ctx, f.ConnectionID)
	}
	return ctx
}

// NewRequestContext returns ctx with a fresh trace ID.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// Detach copies the tracing fields of ctx onto a new background context, so
// work that outlives a request keeps its identifiers without its deadline.
func Detach(base, ctx context.Context) context.Context {
	return NewContext(base, FromContext(ctx))
}

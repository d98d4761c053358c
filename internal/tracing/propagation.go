package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base enriched with the tracing fields found in ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	f := FromContext(ctx)
	lc := base.With()
	if f.TraceID != "" {
		lc = lc.Str("trace_id", f.TraceID)
	}
	if f.RunID != "" {
		lc = lc.Str("run_id", f.RunID)
	}
	if f.AgentID != "" {
		lc = lc.Str("agent_id", f.AgentID)
	}
	if f.ConversationID != "" {
		lc = lc.Str("conversation_id", f.ConversationID)
	}
	if f.ConnectionID != "" {
		lc = lc.Str("connection_id", f.ConnectionID)
	}
	return lc.Logger()
}

// MergeContext fills fields missing from target with those set on source.
func MergeContext(target, source context.Context) context.Context {
	have := FromContext(target)
	add := FromContext(source)
	if have.TraceID == "" && add.TraceID != "" {
		target = WithTraceID(target, add.TraceID)
	}
	if have.RunID == "" && add.RunID != "" {
		target = WithRunID(target, add.RunID)
	}
	if have.AgentID == "" && add.AgentID != "" {
		target = WithAgentID(target, add.AgentID)
	}
	if have.ConversationID == "" && add.ConversationID != "" {
		target = WithConversationID(target, add.ConversationID)
	}
	if have.ConnectionID == "" && add.ConnectionID != "" {
		target = WithConnectionID(target, add.ConnectionID)
	}
	return target
}

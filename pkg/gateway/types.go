package gateway

import (
	"context"
	"time"
)

// RunRequest is the body of POST /api/run.
type RunRequest struct {
	AgentID        string `json:"agent_id"`
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse acknowledges a request that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports engine readiness and the deployments agents resolve to.
type HealthResponse struct {
	Status   string   `json:"status"`
	Provider string   `json:"provider,omitempty"`
	Models   []string `json:"models"`
}

// HealthFunc produces the body of GET /api/health.
type HealthFunc func(ctx context.Context) HealthResponse

// StreamInfo describes an open streaming connection.
type StreamInfo struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/orchestrator"
	"github.com/harun/workbench/pkg/trace"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "AI Agent Workbench API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health(r.Context()))
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var cfg agentconfig.AgentConfig
	if !decodeBody(w, r, &cfg) {
		return
	}

	created, err := s.orch.CreateAgent(r.Context(), cfg)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListAgents())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.orch.GetAgent(r.PathValue("agent_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var cfg agentconfig.AgentConfig
	if !decodeBody(w, r, &cfg) {
		return
	}

	updated, err := s.orch.UpdateAgent(r.Context(), r.PathValue("agent_id"), cfg)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteAgent(r.Context(), r.PathValue("agent_id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Agent deleted"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if ok, reason := s.limiters.get(clientKey(r)).Allow(); !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}

	var req RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	handle, err := s.orch.SubmitRun(r.Context(), orchestrator.RunRequest{
		AgentID:        req.AgentID,
		Input:          req.Input,
		ConversationID: req.ConversationID,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, handle)
	case errors.Is(err, agentconfig.ErrNotFound):
		writeError(w, http.StatusNotFound, "Agent not found")
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to submit run")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	limiter := s.limiters.get(clientKey(r))
	if ok, reason := limiter.Acquire(); !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}
	defer limiter.Release()

	agentID := r.PathValue("agent_id")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Failed to upgrade connection")
		return
	}

	connID, _ := gonanoid.New()
	client := &streamClient{
		info: StreamInfo{
			ID:          connID,
			AgentID:     agentID,
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn: newWSConn(ws),
	}
	s.streams.add(client)
	defer s.streams.remove(connID)

	ctx := tracing.WithConnectionID(r.Context(), connID)
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("agent_id", agentID).Logger()
	logger.Info().Str("ip", r.RemoteAddr).Msg("Stream connected")

	outcome := s.orch.ServeStream(ctx, agentID, client.conn)
	logger.Info().Str("outcome", string(outcome)).Msg("Stream finished")
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.streams.List())
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListConversations())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.orch.GetConversation(r.PathValue("conversation_id"))
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteConversation(r.Context(), r.PathValue("conversation_id")); err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Conversation deleted"})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.GetTrace(r.PathValue("run_id"))
	if errors.Is(err, trace.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Trace not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeStoreError maps configuration store errors to responses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agentconfig.ErrNotFound):
		writeError(w, http.StatusNotFound, "Agent not found")
	case errors.Is(err, agentconfig.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// decodeBody reads a JSON request body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/workbench/internal/config"
	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/gateway"
	"github.com/harun/workbench/pkg/orchestrator"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	observability.SetAuditLogger(zerolog.Nop())

	seed := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("agents:\n  - id: echo\n    name: Echo\n    instructions: repeat\n    model: gpt-4.1\n"), 0600))

	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Gateway.PublicAccess = true
	cfg.Models.Aliases = map[string]string{"gpt-4.1": "prod-gpt41", "gpt-4o": "prod-gpt4o", "latest": "prod-gpt41"}
	cfg.AgentsFile = seed

	app, err := NewApp(context.Background(), cfg, "", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func TestNewApp(t *testing.T) {
	t.Run("missing agents file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.AgentsFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := NewApp(context.Background(), cfg, "", zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agents file")
	})

	t.Run("unusable engine", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.Engine.Provider = config.ProviderAnthropic

		_, err := NewApp(context.Background(), cfg, "", zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine")
	})
}

func TestAppHealth(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health gateway.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, config.ProviderScripted, health.Provider)
	assert.Equal(t, []string{"prod-gpt41", "prod-gpt4o"}, health.Models)
}

func TestAppBatchRun(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	body, _ := json.Marshal(gateway.RunRequest{AgentID: "echo", Input: "hello"})
	resp, err := http.Post(srv.URL+"/api/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var handle orchestrator.RunHandle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&handle))
	require.NotEmpty(t, handle.ConversationID)

	require.Eventually(t, func() bool {
		msgs, err := app.orch.GetConversation(handle.ConversationID)
		return err == nil && len(msgs) == 2
	}, 5*time.Second, 10*time.Millisecond)

	msgs, err := app.orch.GetConversation(handle.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Echo: hello", msgs[1].Content)

	require.Eventually(t, func() bool {
		_, err := app.orch.GetTrace(handle.RunID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAppReload(t *testing.T) {
	app := newTestApp(t)
	_, err := app.cache.GetOrBuild(context.Background(), "echo")
	require.NoError(t, err)
	require.Equal(t, 1, app.cache.Len())

	next := config.DefaultConfig()
	next.Models.Aliases = map[string]string{"gpt-4.1": "canary-gpt41"}
	app.reload(next)

	assert.Equal(t, "canary-gpt41", app.resolver.Resolve("gpt-4.1"))
	assert.Equal(t, 0, app.cache.Len())

	inst, err := app.cache.GetOrBuild(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, "canary-gpt41", inst.Model)
}

func TestAppStartAndShutdown(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))

	_, err := app.orch.SubmitRun(context.Background(), orchestrator.RunRequest{AgentID: "echo", Input: "late"})
	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
}

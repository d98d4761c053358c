package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/tools"
)

const toolUseMessage = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4",
  "stop_reason": "tool_use",
  "content": [
    {"type": "text", "text": "Let me check."},
    {"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"key": "colour"}}
  ],
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

const finalMessage = `{
  "id": "msg_2", "type": "message", "role": "assistant", "model": "claude-sonnet-4",
  "stop_reason": "end_turn",
  "content": [{"type": "text", "text": "It is blue."}],
  "usage": {"input_tokens": 20, "output_tokens": 4}
}`

func lookupInstance(t *testing.T) *engine.Instance {
	t.Helper()
	fn, err := tools.NewFunction("lookup", "Look up a fact", map[string]any{
		"type":     "object",
		"required": []any{"key"},
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
	}, "", tools.InvokerFunc(func(context.Context, json.RawMessage) (string, error) {
		return "blue", nil
	}))
	require.NoError(t, err)
	return &engine.Instance{Name: "Facts", Instructions: "Answer briefly.", Model: "claude-sonnet-4", Tools: []tools.Tool{fn}}
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRunToolLoop(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)

		mu.Lock()
		bodies = append(bodies, body)
		call := len(bodies)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if call == 1 {
			_, _ = io.WriteString(w, toolUseMessage)
			return
		}
		_, _ = io.WriteString(w, finalMessage)
	}))
	defer srv.Close()

	e, err := New(Config{
		APIKey:  "sk-ant-test",
		Logger:  zerolog.Nop(),
		Options: []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), lookupInstance(t), "what colour?")
	require.NoError(t, err)

	assert.Equal(t, "It is blue.", res.FinalOutput)
	assert.Len(t, res.RawResponses, 2)
	require.Len(t, res.NewItems, 3)
	assert.Equal(t, "lookup", res.NewItems[0].ToolName)
	assert.JSONEq(t, `{"key":"colour"}`, string(res.NewItems[0].Arguments))
	assert.Equal(t, "blue", res.NewItems[1].Output)

	require.Len(t, bodies, 2)
	assert.Equal(t, "claude-sonnet-4", bodies[0]["model"])
	msgs := bodies[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[2].(map[string]any)["role"])
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, requiredFields([]any{"a", "b", 3}))
	assert.Equal(t, []string{"x"}, requiredFields([]string{"x"}))
	assert.Nil(t, requiredFields(nil))
}

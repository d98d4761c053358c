package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/engine"
)

// fakeConn is an in-memory Conn. Client messages are fed through send and
// the session's replies are captured as decoded maps.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []map[string]any
	failOn   string
	closeHit int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) send(raw string) { c.in <- []byte(raw) }

// hangUp simulates the client going away.
func (c *fakeConn) hangUp() { c.closeOnce.Do(func() { close(c.closed) }) }

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case data := <-c.in:
		return json.Unmarshal(data, v)
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", ErrDisconnected)
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", ErrDisconnected)
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	if c.failOn != "" && msg["type"] == c.failOn {
		c.mu.Unlock()
		return errors.New("broken pipe")
	}
	c.written = append(c.written, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeHit++
	c.mu.Unlock()
	c.hangUp()
	return nil
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.written...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeHit
}

func types(msgs []map[string]any) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i], _ = m["type"].(string)
	}
	return out
}

func TestServeStream(t *testing.T) {
	ctx := context.Background()

	t.Run("should forward events then final output and record the run", func(t *testing.T) {
		h := newHarness(t, nil)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"hello there","conversation_id":"conv-s"}`)

		outcome := h.orch.ServeStream(ctx, agent.ID, conn)
		assert.Equal(t, OutcomeClosedNormal, outcome)
		assert.Equal(t, 1, conn.closeCount())

		msgs := conn.messages()
		require.NotEmpty(t, msgs)
		kinds := types(msgs)
		assert.Equal(t, engine.KindAgentUpdated, kinds[0])
		assert.Equal(t, MessageFinalOutput, kinds[len(kinds)-1])
		assert.NotContains(t, kinds, MessageError)
		assert.Contains(t, kinds, engine.KindRawResponse)
		assert.Contains(t, kinds, engine.KindRunItem)

		final := msgs[len(msgs)-1]["data"].(map[string]any)
		assert.Equal(t, "Echo: hello there", final["content"])
		assert.Equal(t, "conv-s", final["conversation_id"])
		runID, _ := final["run_id"].(string)
		require.NotEmpty(t, runID)

		history, err := h.ledger.Get("conv-s")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, conversation.RoleUser, history[0].Role)
		assert.Equal(t, "hello there", history[0].Content)
		assert.Equal(t, conversation.RoleAssistant, history[1].Role)

		rec, err := h.traces.Get(runID)
		require.NoError(t, err)
		assert.Equal(t, agent.ID, rec.AgentID)
	})

	t.Run("generated conversation id", func(t *testing.T) {
		h := newHarness(t, nil)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"hi"}`)

		require.Equal(t, OutcomeClosedNormal, h.orch.ServeStream(ctx, agent.ID, conn))
		msgs := conn.messages()
		final := msgs[len(msgs)-1]["data"].(map[string]any)
		conversationID, _ := final["conversation_id"].(string)
		assert.NotEmpty(t, conversationID)
		assert.Equal(t, 1, h.ledger.Len())
	})

	t.Run("malformed input", func(t *testing.T) {
		for _, raw := range []string{`{"input":`, `{"conversation_id":"c"}`} {
			h := newHarness(t, nil)
			agent := h.createEcho(t)
			conn := newFakeConn()
			conn.send(raw)

			assert.Equal(t, OutcomeClosedOnError, h.orch.ServeStream(ctx, agent.ID, conn))
			msgs := conn.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, MessageError, msgs[0]["type"])
			assert.Equal(t, 0, h.ledger.Len())
			assert.Equal(t, 1, conn.closeCount())
		}
	})

	t.Run("unknown agent", func(t *testing.T) {
		h := newHarness(t, nil)
		conn := newFakeConn()
		conn.send(`{"input":"hi"}`)

		assert.Equal(t, OutcomeClosedOnError, h.orch.ServeStream(ctx, "missing", conn))
		msgs := conn.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, MessageError, msgs[0]["type"])
		assert.Equal(t, "Agent not found", msgs[0]["data"].(map[string]any)["message"])
		assert.Equal(t, 0, h.ledger.Len())
	})

	t.Run("should replace final output with an error when the engine fails", func(t *testing.T) {
		h := newHarness(t, failingEngine{err: errors.New("rate limited")})
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"hi","conversation_id":"conv-e"}`)

		assert.Equal(t, OutcomeClosedOnError, h.orch.ServeStream(ctx, agent.ID, conn))
		kinds := types(conn.messages())
		assert.Equal(t, []string{engine.KindAgentUpdated, MessageError}, kinds)
		assert.Equal(t, "rate limited", conn.messages()[1]["data"].(map[string]any)["message"])
		assert.Equal(t, 0, h.traces.Len())
	})

	t.Run("disconnect before input", func(t *testing.T) {
		h := newHarness(t, nil)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.hangUp()

		assert.Equal(t, OutcomeClosedOnDisconnect, h.orch.ServeStream(ctx, agent.ID, conn))
		assert.Empty(t, conn.messages())
	})

	t.Run("disconnect mid run", func(t *testing.T) {
		eng := newBlockingEngine()
		h := newHarness(t, eng)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"slow","conversation_id":"conv-d"}`)

		go func() {
			<-eng.started
			conn.hangUp()
		}()

		assert.Equal(t, OutcomeClosedOnDisconnect, h.orch.ServeStream(ctx, agent.ID, conn))
		assert.NotContains(t, types(conn.messages()), MessageError)
		assert.NotContains(t, types(conn.messages()), MessageFinalOutput)

		history, err := h.ledger.Get("conv-d")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, conversation.RoleUser, history[0].Role)
		assert.Equal(t, 0, h.traces.Len())
	})

	t.Run("disconnect after an unreadable message", func(t *testing.T) {
		eng := newBlockingEngine()
		h := newHarness(t, eng)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"slow","conversation_id":"conv-g"}`)

		go func() {
			<-eng.started
			conn.send(`not json`)
			for len(conn.in) > 0 {
				time.Sleep(time.Millisecond)
			}
			conn.hangUp()
		}()

		done := make(chan StreamOutcome, 1)
		go func() { done <- h.orch.ServeStream(ctx, agent.ID, conn) }()

		select {
		case outcome := <-done:
			assert.Equal(t, OutcomeClosedOnDisconnect, outcome)
		case <-time.After(5 * time.Second):
			t.Fatal("run kept going after the client went away")
		}

		history, err := h.ledger.Get("conv-g")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, 0, h.traces.Len())
	})

	t.Run("should treat a failed final write as a disconnect", func(t *testing.T) {
		h := newHarness(t, nil)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.failOn = MessageFinalOutput
		conn.send(`{"input":"hi","conversation_id":"conv-w"}`)

		assert.Equal(t, OutcomeClosedOnDisconnect, h.orch.ServeStream(ctx, agent.ID, conn))
		history, err := h.ledger.Get("conv-w")
		require.NoError(t, err)
		assert.Len(t, history, 1)
		assert.Equal(t, 0, h.traces.Len())
	})

	t.Run("shutdown during run", func(t *testing.T) {
		eng := newBlockingEngine()
		h := newHarness(t, eng)
		agent := h.createEcho(t)
		conn := newFakeConn()
		conn.send(`{"input":"slow"}`)

		go func() {
			<-eng.started
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
			defer cancel()
			_ = h.orch.Shutdown(shutdownCtx)
		}()

		assert.Equal(t, OutcomeClosedOnError, h.orch.ServeStream(ctx, agent.ID, conn))
		msgs := conn.messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, MessageError, last["type"])
		assert.Equal(t, ErrShuttingDown.Error(), last["data"].(map[string]any)["message"])
	})
}

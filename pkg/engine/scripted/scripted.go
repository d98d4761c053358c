// Package scripted provides a deterministic offline engine. It echoes the
// input back, optionally after calling one of the instance's function tools,
// which makes whole runs reproducible without a model provider.
package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/workbench/pkg/engine"
)

// CallPrefix makes the engine invoke a tool: "/call <tool> <json args>".
const CallPrefix = "/call "

// Config tunes the engine's output.
type Config struct {
	// Reply formats the final output. Defaults to "<agent>: <input>".
	Reply func(inst *engine.Instance, input string) string
	// ChunkDelay pauses between streamed chunks.
	ChunkDelay time.Duration
}

type Engine struct {
	reply      func(inst *engine.Instance, input string) string
	chunkDelay time.Duration
}

func New(cfg Config) *Engine {
	reply := cfg.Reply
	if reply == nil {
		reply = func(inst *engine.Instance, input string) string {
			return fmt.Sprintf("%s: %s", inst.Name, input)
		}
	}
	return &Engine{reply: reply, chunkDelay: cfg.ChunkDelay}
}

func (e *Engine) Run(ctx context.Context, inst *engine.Instance, input string) (engine.Result, error) {
	return e.RunStreamed(ctx, inst, input, nil)
}

func (e *Engine) RunStreamed(ctx context.Context, inst *engine.Instance, input string, emit engine.EmitFunc) (engine.Result, error) {
	var result engine.Result

	if err := engine.Emit(emit, engine.AgentUpdatedEvent{Agent: inst.Name}); err != nil {
		return result, err
	}

	output := e.reply(inst, input)
	if call, ok := parseCall(input); ok {
		callItem, _ := engine.ToolItems(inst.Name, call, "")
		result.NewItems = append(result.NewItems, callItem)
		if err := engine.Emit(emit, engine.RunItemEvent{Name: "tool_called", Item: callItem}); err != nil {
			return result, err
		}

		toolOutput := engine.ExecuteToolCall(ctx, inst, call)
		_, outputItem := engine.ToolItems(inst.Name, call, toolOutput)
		result.NewItems = append(result.NewItems, outputItem)
		if err := engine.Emit(emit, engine.RunItemEvent{Name: "tool_output", Item: outputItem}); err != nil {
			return result, err
		}
		output = toolOutput
	}

	for i, chunk := range chunks(output) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		data, _ := json.Marshal(map[string]any{"index": i, "delta": chunk})
		if err := engine.Emit(emit, engine.RawResponseEvent{Data: data}); err != nil {
			return result, err
		}
		if e.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(e.chunkDelay):
			}
		}
	}

	raw, _ := json.Marshal(map[string]any{"model": inst.Model, "output": output})
	result.RawResponses = append(result.RawResponses, raw)

	item := engine.Item{Type: engine.ItemMessageOutput, Agent: inst.Name, Content: output}
	result.NewItems = append(result.NewItems, item)
	if err := engine.Emit(emit, engine.RunItemEvent{Name: "message_output_created", Item: item}); err != nil {
		return result, err
	}

	result.FinalOutput = output
	return result, nil
}

func parseCall(input string) (engine.ToolCall, bool) {
	if !strings.HasPrefix(input, CallPrefix) {
		return engine.ToolCall{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(input, CallPrefix))
	name, args, _ := strings.Cut(rest, " ")
	if name == "" {
		return engine.ToolCall{}, false
	}
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	return engine.ToolCall{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}, true
}

// chunks splits s into word-sized deltas that concatenate back to s.
func chunks(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}

// Package anthropic runs agent instances on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/engine"
)

const (
	defaultMaxTurns  = 10
	defaultMaxTokens = 4096
)

type Config struct {
	APIKey    string
	MaxTurns  int
	MaxTokens int
	Logger    zerolog.Logger
	Options   []option.RequestOption
}

// Engine implements engine.Engine with a tool-use loop.
type Engine struct {
	client    anthropic.Client
	maxTurns  int
	maxTokens int
	logger    zerolog.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &Engine{
		client:    anthropic.NewClient(opts...),
		maxTurns:  cfg.MaxTurns,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger.With().Str("component", "engine").Str("provider", "anthropic").Logger(),
	}, nil
}

func (e *Engine) Run(ctx context.Context, inst *engine.Instance, input string) (engine.Result, error) {
	return e.run(ctx, inst, input, nil, false)
}

func (e *Engine) RunStreamed(ctx context.Context, inst *engine.Instance, input string, emit engine.EmitFunc) (engine.Result, error) {
	return e.run(ctx, inst, input, emit, true)
}

func (e *Engine) run(ctx context.Context, inst *engine.Instance, input string, emit engine.EmitFunc, stream bool) (engine.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "workbench.engine", "engine.run",
		attribute.String("engine.provider", "anthropic"),
		attribute.String("engine.model", inst.Model),
		attribute.Bool("engine.stream", stream),
	)
	defer span.End()

	var result engine.Result
	logger := tracing.LoggerFromContext(ctx, e.logger)
	for _, h := range inst.Hosted() {
		logger.Warn().Str("tool", h.Name()).Str("kind", h.Kind()).Msg("Hosted tool is not available on this provider, skipping")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(inst.Model),
		MaxTokens: int64(e.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input)),
		},
	}
	if inst.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: inst.Instructions}}
	}
	if toolParams := functionTools(inst); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	if err := engine.Emit(emit, engine.AgentUpdatedEvent{Agent: inst.Name}); err != nil {
		return result, err
	}

	for turn := 0; turn < e.maxTurns; turn++ {
		var (
			msg anthropic.Message
			raw json.RawMessage
			err error
		)
		if stream {
			msg, raw, err = e.complete(ctx, params, emit)
		} else {
			msg, raw, err = e.completeOnce(ctx, params)
		}
		if err != nil {
			tracing.FailSpan(span, err)
			return result, err
		}
		result.RawResponses = append(result.RawResponses, raw)

		text := ""
		var calls []engine.ToolCall
		for _, block := range msg.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				text += b.Text
			case anthropic.ToolUseBlock:
				calls = append(calls, engine.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
			}
		}

		if len(calls) == 0 {
			item := engine.Item{Type: engine.ItemMessageOutput, Agent: inst.Name, Content: text}
			result.NewItems = append(result.NewItems, item)
			if err := engine.Emit(emit, engine.RunItemEvent{Name: "message_output_created", Item: item}); err != nil {
				return result, err
			}
			result.FinalOutput = text
			span.SetAttributes(attribute.Int("engine.turns", turn+1))
			return result, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		results := make([]anthropic.ContentBlockParamUnion, 0, len(calls))
		for _, call := range calls {
			callItem, _ := engine.ToolItems(inst.Name, call, "")
			result.NewItems = append(result.NewItems, callItem)
			if err := engine.Emit(emit, engine.RunItemEvent{Name: "tool_called", Item: callItem}); err != nil {
				return result, err
			}

			output := engine.ExecuteToolCall(ctx, inst, call)
			_, outputItem := engine.ToolItems(inst.Name, call, output)
			result.NewItems = append(result.NewItems, outputItem)
			if err := engine.Emit(emit, engine.RunItemEvent{Name: "tool_output", Item: outputItem}); err != nil {
				return result, err
			}

			results = append(results, anthropic.NewToolResultBlock(call.ID, output, false))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	tracing.FailSpan(span, engine.ErrMaxTurns)
	return result, engine.ErrMaxTurns
}

func (e *Engine) completeOnce(ctx context.Context, params anthropic.MessageNewParams) (anthropic.Message, json.RawMessage, error) {
	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return anthropic.Message{}, nil, fmt.Errorf("messages: %w", err)
	}
	return *resp, rawOrMarshal(resp.RawJSON(), resp), nil
}

// complete streams one message, forwarding each server event as a raw
// response event, and returns the accumulated message.
func (e *Engine) complete(ctx context.Context, params anthropic.MessageNewParams, emit engine.EmitFunc) (anthropic.Message, json.RawMessage, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return anthropic.Message{}, nil, fmt.Errorf("accumulate stream: %w", err)
		}
		if err := engine.Emit(emit, engine.RawResponseEvent{Data: rawOrMarshal(event.RawJSON(), event)}); err != nil {
			return anthropic.Message{}, nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return anthropic.Message{}, nil, fmt.Errorf("messages stream: %w", err)
	}

	return msg, rawOrMarshal("", msg), nil
}

func functionTools(inst *engine.Instance) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, fn := range inst.Functions() {
		schema := fn.Parameters()
		toolParam := anthropic.ToolParam{
			Name:        fn.Name(),
			Description: anthropic.String(fn.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
			},
		}
		toolParam.InputSchema.Required = requiredFields(schema["required"])
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func rawOrMarshal(raw string, v any) json.RawMessage {
	if raw != "" && json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

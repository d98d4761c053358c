// Package openai runs agent instances on the OpenAI chat completions API,
// either directly or through an Azure OpenAI deployment.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/engine"
)

const defaultMaxTurns = 10

// Config configures the engine. A non-empty Endpoint selects Azure.
type Config struct {
	APIKey     string
	Endpoint   string
	APIVersion string
	MaxTurns   int
	MaxTokens  int
	Logger     zerolog.Logger
	Options    []option.RequestOption
}

// Engine implements engine.Engine with a function-calling loop.
type Engine struct {
	client    openai.Client
	maxTurns  int
	maxTokens int
	provider  string
	logger    zerolog.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}

	provider := "openai"
	var opts []option.RequestOption
	if cfg.Endpoint != "" {
		if cfg.APIVersion == "" {
			return nil, fmt.Errorf("api version is required for azure endpoints")
		}
		provider = "azure"
		opts = append(opts, azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion), azure.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, cfg.Options...)

	return &Engine{
		client:    openai.NewClient(opts...),
		maxTurns:  cfg.MaxTurns,
		maxTokens: cfg.MaxTokens,
		provider:  provider,
		logger:    cfg.Logger.With().Str("component", "engine").Str("provider", provider).Logger(),
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
		attribute.String("engine.provider", e.provider),
		attribute.String("engine.model", inst.Model),
		attribute.Bool("engine.stream", stream),
	)
	defer span.End()

	var result engine.Result
	logger := tracing.LoggerFromContext(ctx, e.logger)

	for _, h := range inst.Hosted() {
		logger.Warn().Str("tool", h.Name()).Str("kind", h.Kind()).Msg("Hosted tool is not available on chat completions, skipping")
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if inst.Instructions != "" {
		messages = append(messages, openai.SystemMessage(inst.Instructions))
	}
	messages = append(messages, openai.UserMessage(input))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(inst.Model),
		Messages: messages,
	}
	if e.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(e.maxTokens))
	}
	if toolParams := functionTools(inst); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	if err := engine.Emit(emit, engine.AgentUpdatedEvent{Agent: inst.Name}); err != nil {
		return result, err
	}

	for turn := 0; turn < e.maxTurns; turn++ {
		var (
			completion openai.ChatCompletion
			raw        json.RawMessage
			err        error
		)
		if stream {
			completion, raw, err = e.complete(ctx, params, emit)
		} else {
			completion, raw, err = e.completeOnce(ctx, params)
		}
		if err != nil {
			tracing.FailSpan(span, err)
			return result, err
		}
		result.RawResponses = append(result.RawResponses, raw)

		if len(completion.Choices) == 0 {
			tracing.FailSpan(span, engine.ErrEmptyOutput)
			return result, engine.ErrEmptyOutput
		}
		msg := completion.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			item := engine.Item{Type: engine.ItemMessageOutput, Agent: inst.Name, Content: msg.Content}
			result.NewItems = append(result.NewItems, item)
			if err := engine.Emit(emit, engine.RunItemEvent{Name: "message_output_created", Item: item}); err != nil {
				return result, err
			}
			result.FinalOutput = msg.Content
			span.SetAttributes(attribute.Int("engine.turns", turn+1))
			return result, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			call := engine.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
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

			params.Messages = append(params.Messages, openai.ToolMessage(output, tc.ID))
		}
	}

	tracing.FailSpan(span, engine.ErrMaxTurns)
	return result, engine.ErrMaxTurns
}

func (e *Engine) completeOnce(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, json.RawMessage, error) {
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, nil, fmt.Errorf("chat completion: %w", err)
	}
	return *resp, rawOrMarshal(resp.RawJSON(), resp), nil
}

// complete streams one completion, forwarding every chunk as a raw
// response event, and returns the accumulated completion.
func (e *Engine) complete(ctx context.Context, params openai.ChatCompletionNewParams, emit engine.EmitFunc) (openai.ChatCompletion, json.RawMessage, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if err := engine.Emit(emit, engine.RawResponseEvent{Data: rawOrMarshal(chunk.RawJSON(), chunk)}); err != nil {
			return openai.ChatCompletion{}, nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return openai.ChatCompletion{}, nil, fmt.Errorf("chat completion stream: %w", err)
	}

	return acc.ChatCompletion, rawOrMarshal("", acc.ChatCompletion), nil
}

func functionTools(inst *engine.Instance) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, fn := range inst.Functions() {
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        fn.Name(),
				Description: openai.String(fn.Description()),
				Parameters:  openai.FunctionParameters(fn.Parameters()),
			},
		})
	}
	return out
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

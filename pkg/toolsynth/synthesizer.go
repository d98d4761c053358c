// Package toolsynth turns declarative tool specs into callable capabilities.
package toolsynth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/tools"
	"github.com/harun/workbench/pkg/tools/script"
)

var (
	ErrMissingSource     = errors.New("function tool has neither source nor plugin")
	ErrInlineDisabled    = errors.New("inline function source is disabled")
	ErrMissingParameters = errors.New("file_search tool requires parameters")
	ErrUnknownKind       = errors.New("unknown tool kind")
)

// Config configures a Synthesizer.
type Config struct {
	Compiler          *script.Compiler
	Registry          *tools.Registry
	AllowInlineSource bool
	Logger            zerolog.Logger
}

// Synthesizer builds tools.Tool values from agentconfig.ToolSpec.
type Synthesizer struct {
	compiler    *script.Compiler
	registry    *tools.Registry
	allowInline bool
	logger      zerolog.Logger
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("script compiler is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	observability.EnsureRegistered()

	return &Synthesizer{
		compiler:    cfg.Compiler,
		registry:    cfg.Registry,
		allowInline: cfg.AllowInlineSource,
		logger:      cfg.Logger.With().Str("component", "toolsynth").Logger(),
	}, nil
}

// SynthesizeAll converts specs in order. Specs that cannot be turned into a
// tool are logged, counted and left out; they never fail the whole set.
func (s *Synthesizer) SynthesizeAll(ctx context.Context, specs []agentconfig.ToolSpec) []tools.Tool {
	ctx, span := tracing.StartSpan(ctx, "workbench.toolsynth", "toolsynth.all",
		attribute.Int("tools.requested", len(specs)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	out := make([]tools.Tool, 0, len(specs))
	for _, spec := range specs {
		tool, err := s.Synthesize(ctx, spec)
		if err != nil {
			reason := failureReason(err)
			observability.RecordToolSynthesisFailure(string(spec.Kind), reason)
			logger.Warn().
				Err(err).
				Str("tool", spec.Name).
				Str("kind", string(spec.Kind)).
				Str("reason", reason).
				Msg("Skipping tool")
			continue
		}
		out = append(out, tool)
	}

	span.SetAttributes(attribute.Int("tools.synthesized", len(out)))
	return out
}

// Synthesize converts a single spec.
func (s *Synthesizer) Synthesize(ctx context.Context, spec agentconfig.ToolSpec) (tools.Tool, error) {
	switch spec.Kind {
	case agentconfig.ToolKindFunction:
		return s.function(ctx, spec)
	case agentconfig.ToolKindWebSearch:
		return tools.NewWebSearch(spec.Name, spec.Description), nil
	case agentconfig.ToolKindFileSearch:
		if len(spec.Parameters) == 0 {
			return nil, ErrMissingParameters
		}
		if err := tools.ValidateFileSearch(spec.Parameters); err != nil {
			return nil, err
		}
		return tools.NewFileSearch(spec.Name, spec.Description, spec.Parameters), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

func (s *Synthesizer) function(ctx context.Context, spec agentconfig.ToolSpec) (tools.Tool, error) {
	if spec.FunctionCode != "" {
		if !s.allowInline {
			return nil, ErrInlineDisabled
		}

		prog, err := s.compiler.Compile(ctx, spec.Name, spec.FunctionCode)
		observability.RecordSecurityAudit(ctx, "tool.compile", tracing.GetAgentID(ctx), auditStatus(err), map[string]any{
			"tool": spec.Name,
		})
		if err != nil {
			return nil, err
		}
		return tools.NewFunction(spec.Name, spec.Description, spec.Parameters, "script", prog)
	}

	if spec.Plugin != "" {
		fn, err := s.registry.Lookup(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", spec.Plugin, err)
		}
		if fn.Source() != "plugin:"+spec.Plugin {
			return nil, fmt.Errorf("plugin %s: %w: %s is provided by %s", spec.Plugin, tools.ErrNotRegistered, spec.Name, fn.Source())
		}
		return fn, nil
	}

	return nil, ErrMissingSource
}

func auditStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, script.ErrCallableNotFound):
		return "callable_not_found"
	case errors.Is(err, script.ErrEmptySource), errors.Is(err, ErrMissingSource):
		return "missing_source"
	case errors.Is(err, script.ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInlineDisabled):
		return "inline_disabled"
	case errors.Is(err, ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, tools.ErrInvalidArguments):
		return "invalid_parameters"
	case errors.Is(err, tools.ErrNotRegistered):
		return "plugin_not_found"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	default:
		return "compile_error"
	}
}

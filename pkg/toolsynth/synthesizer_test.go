package toolsynth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/tools"
	"github.com/harun/workbench/pkg/tools/script"
)

func newSynth(t *testing.T, allowInline bool, registry *tools.Registry) *Synthesizer {
	t.Helper()
	observability.SetAuditLogger(zerolog.Nop())
	s, err := New(Config{
		Compiler:          script.NewCompiler(script.Config{Timeout: time.Second, Logger: zerolog.Nop()}),
		Registry:          registry,
		AllowInlineSource: allowInline,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t, true, nil)

	t.Run("should compile function source into callable tool", func(t *testing.T) {
		tool, err := s.Synthesize(ctx, agentconfig.ToolSpec{
			Name:         "double",
			Kind:         agentconfig.ToolKindFunction,
			FunctionCode: "function double(args) { return args.n * 2 }",
		})
		require.NoError(t, err)

		fn, ok := tool.(*tools.Function)
		require.True(t, ok)
		out, err := fn.Invoke(ctx, json.RawMessage(`{"n":21}`))
		require.NoError(t, err)
		assert.Equal(t, "42", out)
	})

	t.Run("should fail when callable name is absent", func(t *testing.T) {
		_, err := s.Synthesize(ctx, agentconfig.ToolSpec{
			Name:         "double",
			Kind:         agentconfig.ToolKindFunction,
			FunctionCode: "function triple(args) { return args.n * 3 }",
		})
		assert.True(t, errors.Is(err, script.ErrCallableNotFound))
	})

	t.Run("should fail without source or plugin", func(t *testing.T) {
		_, err := s.Synthesize(ctx, agentconfig.ToolSpec{Name: "double", Kind: agentconfig.ToolKindFunction})
		assert.True(t, errors.Is(err, ErrMissingSource))
	})

	t.Run("web search", func(t *testing.T) {
		tool, err := s.Synthesize(ctx, agentconfig.ToolSpec{Name: "search", Kind: agentconfig.ToolKindWebSearch})
		require.NoError(t, err)
		assert.Equal(t, tools.KindWebSearch, tool.Kind())
	})

	t.Run("should require file search parameters", func(t *testing.T) {
		_, err := s.Synthesize(ctx, agentconfig.ToolSpec{Name: "docs", Kind: agentconfig.ToolKindFileSearch})
		assert.True(t, errors.Is(err, ErrMissingParameters))

		_, err = s.Synthesize(ctx, agentconfig.ToolSpec{
			Name:       "docs",
			Kind:       agentconfig.ToolKindFileSearch,
			Parameters: map[string]any{"max_num_results": 5},
		})
		assert.True(t, errors.Is(err, tools.ErrInvalidArguments))

		tool, err := s.Synthesize(ctx, agentconfig.ToolSpec{
			Name:       "docs",
			Kind:       agentconfig.ToolKindFileSearch,
			Parameters: map[string]any{"vector_store_ids": []any{"vs_1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, tools.KindFileSearch, tool.Kind())
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := s.Synthesize(ctx, agentconfig.ToolSpec{Name: "x", Kind: "shell"})
		assert.True(t, errors.Is(err, ErrUnknownKind))
	})
}

func TestSynthesizeInlineDisabled(t *testing.T) {
	s := newSynth(t, false, nil)

	_, err := s.Synthesize(context.Background(), agentconfig.ToolSpec{
		Name:         "double",
		Kind:         agentconfig.ToolKindFunction,
		FunctionCode: "function double(args) { return args.n * 2 }",
	})
	assert.True(t, errors.Is(err, ErrInlineDisabled))
}

func TestSynthesizePlugin(t *testing.T) {
	registry := tools.NewRegistry()
	fn, err := tools.NewFunction("add", "", nil, "plugin:math", tools.InvokerFunc(func(context.Context, json.RawMessage) (string, error) {
		return "3", nil
	}))
	require.NoError(t, err)
	require.NoError(t, registry.Register(fn))

	s := newSynth(t, true, registry)

	tool, err := s.Synthesize(context.Background(), agentconfig.ToolSpec{Name: "add", Kind: agentconfig.ToolKindFunction, Plugin: "math"})
	require.NoError(t, err)
	assert.Same(t, fn, tool)

	_, err = s.Synthesize(context.Background(), agentconfig.ToolSpec{Name: "add", Kind: agentconfig.ToolKindFunction, Plugin: "other"})
	assert.True(t, errors.Is(err, tools.ErrNotRegistered))

	_, err = s.Synthesize(context.Background(), agentconfig.ToolSpec{Name: "sub", Kind: agentconfig.ToolKindFunction, Plugin: "math"})
	assert.True(t, errors.Is(err, tools.ErrNotRegistered))
}

func TestSynthesizeAllSkipsFailures(t *testing.T) {
	s := newSynth(t, true, nil)

	specs := []agentconfig.ToolSpec{
		{Name: "broken", Kind: agentconfig.ToolKindFunction, FunctionCode: "function other() {}"},
		{Name: "search", Kind: agentconfig.ToolKindWebSearch},
		{Name: "docs", Kind: agentconfig.ToolKindFileSearch},
		{Name: "syntax", Kind: agentconfig.ToolKindFunction, FunctionCode: "function syntax( {"},
		{Name: "ok", Kind: agentconfig.ToolKindFunction, FunctionCode: "function ok() { return 'fine' }"},
	}

	out := s.SynthesizeAll(context.Background(), specs)
	require.Len(t, out, 2)
	assert.Equal(t, "search", out[0].Name())
	assert.Equal(t, "ok", out[1].Name())
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "callable_not_found", failureReason(script.ErrCallableNotFound))
	assert.Equal(t, "inline_disabled", failureReason(ErrInlineDisabled))
	assert.Equal(t, "compile_error", failureReason(errors.New("SyntaxError")))
}

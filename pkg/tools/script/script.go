// Package script compiles caller supplied JavaScript into function tools.
// Every invocation runs on a fresh goja runtime that exposes nothing but a
// console logger, so tools cannot share state or reach the host.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

var (
	ErrCallableNotFound = errors.New("callable not found in function source")
	ErrTimeout          = errors.New("function execution timed out")
	ErrEmptySource      = errors.New("function source is empty")
)

// DefaultTimeout bounds one invocation when the caller sets none.
const DefaultTimeout = 5 * time.Second

// Config configures a Compiler.
type Config struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Compiler turns source text into Programs.
type Compiler struct {
	timeout time.Duration
	logger  zerolog.Logger
}

func NewCompiler(cfg Config) *Compiler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Compiler{
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "script").Logger(),
	}
}

// Program is compiled source that defines a global function named Name.
type Program struct {
	name    string
	program *goja.Program
	timeout time.Duration
	logger  zerolog.Logger
}

// Compile parses source and checks that evaluating it defines a global
// function called name.
func (c *Compiler) Compile(ctx context.Context, name, source string) (*Program, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}

	prog, err := goja.Compile(name+".js", source, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	p := &Program{
		name:    name,
		program: prog,
		timeout: c.timeout,
		logger:  c.logger.With().Str("tool", name).Logger(),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vm, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := goja.AssertFunction(vm.Get(name)); !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallableNotFound, name)
	}

	return p, nil
}

func (p *Program) Name() string {
	return p.name
}

// Invoke runs the function with the decoded JSON arguments object as its
// single parameter. Strings are returned as is, other values as JSON.
func (p *Program) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vm, err := p.load(ctx)
	if err != nil {
		return "", err
	}

	fn, ok := goja.AssertFunction(vm.Get(p.name))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCallableNotFound, p.name)
	}

	stop := interruptOnDone(ctx, vm)
	defer stop()

	var callArgs []goja.Value
	if decoded != nil {
		callArgs = append(callArgs, vm.ToValue(decoded))
	}

	value, err := fn(goja.Undefined(), callArgs...)
	if err != nil {
		return "", p.runtimeError(ctx, err)
	}
	return exportResult(value)
}

// load evaluates the program on a fresh runtime.
func (p *Program) load(ctx context.Context) (*goja.Runtime, error) {
	vm := goja.New()
	_ = vm.Set("console", newConsole(p.logger))

	stop := interruptOnDone(ctx, vm)
	defer stop()

	if _, err := vm.RunProgram(p.program); err != nil {
		return nil, p.runtimeError(ctx, err)
	}
	return vm, nil
}

func (p *Program) runtimeError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", p.name, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

// interruptOnDone interrupts vm once ctx is done. The returned func must be
// called when execution finishes.
func interruptOnDone(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func exportResult(value goja.Value) (string, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	exported := value.Export()
	if s, ok := exported.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(exported)
	if err != nil {
		return fmt.Sprintf("%v", exported), nil
	}
	return string(data), nil
}

func newConsole(logger zerolog.Logger) map[string]any {
	emit := func(level zerolog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			logger.WithLevel(level).Msg(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	return map[string]any{
		"log":   emit(zerolog.InfoLevel),
		"info":  emit(zerolog.InfoLevel),
		"warn":  emit(zerolog.WarnLevel),
		"error": emit(zerolog.ErrorLevel),
		"debug": emit(zerolog.DebugLevel),
	}
}

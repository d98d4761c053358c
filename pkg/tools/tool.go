// Package tools defines the capabilities an agent instance can call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/workbench/internal/observability"
)

// Tool kinds.
const (
	KindFunction   = "function"
	KindWebSearch  = "web_search"
	KindFileSearch = "file_search"
)

var (
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrNotRegistered    = errors.New("tool not registered")
)

// Tool is a capability attached to an agent instance.
type Tool interface {
	Name() string
	Description() string
	Kind() string
}

// Invoker executes a function tool with JSON encoded arguments.
type Invoker interface {
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

// Function is a locally executed tool. Source names where the
// implementation lives ("script", "plugin:<name>", "native").
type Function struct {
	name        string
	description string
	parameters  map[string]any
	source      string
	invoker     Invoker
}

// NewFunction builds a function tool. parameters is an optional JSON Schema
// for the arguments object.
func NewFunction(name, description string, parameters map[string]any, source string, invoker Invoker) (*Function, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	if source == "" {
		source = "native"
	}
	return &Function{
		name:        name,
		description: description,
		parameters:  parameters,
		source:      source,
		invoker:     invoker,
	}, nil
}

func (f *Function) Name() string { return f.name }
func (f *Function) Description() string { return f.description }
func (f *Function) Kind() string { return KindFunction }
func (f *Function) Source() string { return f.source }

// Parameters returns the argument schema, defaulting to an open object.
func (f *Function) Parameters() map[string]any {
	if len(f.parameters) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return f.parameters
}

// Invoke validates args against the parameter schema, when one is set, and
// runs the tool.
func (f *Function) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if len(f.parameters) > 0 {
		if err := ValidateAgainst(f.parameters, args); err != nil {
			return "", fmt.Errorf("%s: %w", f.name, err)
		}
	}

	start := time.Now()
	out, err := f.invoker.Invoke(ctx, args)
	observability.RecordToolInvocation(f.source, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", f.name, err)
	}
	return out, nil
}

// Hosted is a capability executed by the model provider, such as web or
// file search.
type Hosted struct {
	kind       string
	name       string
	desc       string
	parameters map[string]any
}

// NewWebSearch describes the provider's web search capability.
func NewWebSearch(name, description string) *Hosted {
	if name == "" {
		name = KindWebSearch
	}
	return &Hosted{kind: KindWebSearch, name: name, desc: description}
}

// NewFileSearch describes the provider's file search capability with its
// parameters (vector store ids and options).
func NewFileSearch(name, description string, parameters map[string]any) *Hosted {
	if name == "" {
		name = KindFileSearch
	}
	return &Hosted{kind: KindFileSearch, name: name, desc: description, parameters: parameters}
}

func (h *Hosted) Name() string { return h.name }
func (h *Hosted) Description() string { return h.desc }
func (h *Hosted) Kind() string { return h.kind }
func (h *Hosted) Parameters() map[string]any { return h.parameters }

// VectorStoreIDs returns the file search store ids, if any.
func (h *Hosted) VectorStoreIDs() []string {
	raw, ok := h.parameters["vector_store_ids"].([]any)
	if !ok {
		if ids, ok := h.parameters["vector_store_ids"].([]string); ok {
			return ids
		}
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

package agentconfig

import (
	"errors"
	"fmt"
	"time"
)

// DefaultModel is used when a configuration does not name a model.
const DefaultModel = "gpt-4.1"

var (
	// ErrNotFound is returned when no agent configuration exists for an id.
	ErrNotFound = errors.New("agent not found")

	// ErrConflict is returned when creating a configuration whose id is taken.
	ErrConflict = errors.New("agent id already exists")
)

// ToolKind identifies how a ToolSpec is turned into a capability.
type ToolKind string

const (
	ToolKindFunction   ToolKind = "function"
	ToolKindWebSearch  ToolKind = "web_search"
	ToolKindFileSearch ToolKind = "file_search"
)

// Valid reports whether k is one of the known tool kinds.
func (k ToolKind) Valid() bool {
	switch k {
	case ToolKindFunction, ToolKindWebSearch, ToolKindFileSearch:
		return true
	}
	return false
}

// ToolSpec is the declarative description of a single agent tool.
type ToolSpec struct {
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	Kind         ToolKind       `json:"type" yaml:"type"`
	FunctionCode string         `json:"function_code,omitempty" yaml:"function_code,omitempty"`
	Plugin       string         `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// AgentConfig is a stored agent definition.
type AgentConfig struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Instructions string     `json:"instructions" yaml:"instructions"`
	Model        string     `json:"model" yaml:"model"`
	Tools        []ToolSpec `json:"tools" yaml:"tools"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"-"`
}

// Validate checks the fields a caller must supply.
func (c AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, tool := range c.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if !tool.Kind.Valid() {
			return fmt.Errorf("tool %q: unknown type %q", tool.Name, tool.Kind)
		}
	}
	return nil
}

// Clone returns a deep copy so stored configurations never alias caller memory.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	if c.Tools != nil {
		out.Tools = make([]ToolSpec, len(c.Tools))
		for i, tool := range c.Tools {
			out.Tools[i] = tool.clone()
		}
	}
	return out
}

func (t ToolSpec) clone() ToolSpec {
	out := t
	if t.Parameters != nil {
		out.Parameters = cloneMap(t.Parameters)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		items := make([]any, len(typed))
		for i, item := range typed {
			items[i] = cloneValue(item)
		}
		return items
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

// Package engine is the boundary between the orchestrator and the model
// runtime that executes an agent instance.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/harun/workbench/pkg/tools"
)

var (
	ErrMaxTurns    = errors.New("agent exceeded maximum turns")
	ErrEmptyOutput = errors.New("model returned no choices")
)

// Instance is a runnable agent built from a stored configuration.
type Instance struct {
	ConfigID     string
	Name         string
	Instructions string
	// Model is the resolved provider deployment name.
	Model string
	Tools []tools.Tool
}

// Functions returns the locally executed tools in declaration order.
func (i *Instance) Functions() []*tools.Function {
	var out []*tools.Function
	for _, t := range i.Tools {
		if fn, ok := t.(*tools.Function); ok {
			out = append(out, fn)
		}
	}
	return out
}

// Hosted returns the provider executed tools in declaration order.
func (i *Instance) Hosted() []*tools.Hosted {
	var out []*tools.Hosted
	for _, t := range i.Tools {
		if h, ok := t.(*tools.Hosted); ok {
			out = append(out, h)
		}
	}
	return out
}

// Function looks up a local tool by name.
func (i *Instance) Function(name string) (*tools.Function, bool) {
	for _, fn := range i.Functions() {
		if fn.Name() == name {
			return fn, true
		}
	}
	return nil, false
}

// Result is the outcome of a completed run.
type Result struct {
	FinalOutput  string
	RawResponses []json.RawMessage
	NewItems     []Item
}

// EmitFunc receives streaming events in emission order. Returning an error
// aborts the run with that error.
type EmitFunc func(Event) error

// Engine executes agent instances.
type Engine interface {
	Run(ctx context.Context, inst *Instance, input string) (Result, error)
	RunStreamed(ctx context.Context, inst *Instance, input string, emit EmitFunc) (Result, error)
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ExecuteToolCall runs call against the instance's local tools. Failures
// are reported to the model as text rather than aborting the run.
func ExecuteToolCall(ctx context.Context, inst *Instance, call ToolCall) string {
	fn, ok := inst.Function(call.Name)
	if !ok {
		return fmt.Sprintf("Error: tool %s is not available", call.Name)
	}
	out, err := fn.Invoke(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// ToolItems returns the call and output items for one tool invocation.
func ToolItems(agent string, call ToolCall, output string) (Item, Item) {
	args := call.Arguments
	if len(args) > 0 && !json.Valid(args) {
		args, _ = json.Marshal(string(args))
	}
	callItem := Item{
		Type:      ItemToolCall,
		Agent:     agent,
		ToolName:  call.Name,
		CallID:    call.ID,
		Arguments: args,
	}
	outputItem := Item{
		Type:     ItemToolOutput,
		Agent:    agent,
		ToolName: call.Name,
		CallID:   call.ID,
		Output:   output,
	}
	return callItem, outputItem
}

// Emit calls emit when it is non-nil.
func Emit(emit EmitFunc, ev Event) error {
	if emit == nil {
		return nil
	}
	return emit(ev)
}

package engine

import "encoding/json"

// Event kinds forwarded to streaming clients.
const (
	KindRawResponse  = "raw_response_event"
	KindRunItem      = "run_item_stream_event"
	KindAgentUpdated = "agent_updated_stream_event"
)

// Item types recorded in Result.NewItems.
const (
	ItemMessageOutput = "message_output_item"
	ItemToolCall      = "tool_call_item"
	ItemToolOutput    = "tool_call_output_item"
)

// Item is a structured record produced during a run.
type Item struct {
	Type      string          `json:"type"`
	Agent     string          `json:"agent,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// Event is one of the engine's streaming events. The set is closed:
// RawResponseEvent, RunItemEvent, AgentUpdatedEvent and OpaqueEvent.
type Event interface {
	// Kind is the wire type tag. It may be empty for OpaqueEvent.
	Kind() string
	// Payload is the value serialized as the event's data.
	Payload() any
	isEvent()
}

// RawResponseEvent carries a raw provider payload, such as a stream chunk.
type RawResponseEvent struct {
	Data json.RawMessage
}

func (RawResponseEvent) Kind() string   { return KindRawResponse }
func (e RawResponseEvent) Payload() any { return e.Data }
func (RawResponseEvent) isEvent()       {}

// RunItemEvent announces a new run item.
type RunItemEvent struct {
	Name string
	Item Item
}

func (RunItemEvent) Kind() string { return KindRunItem }
func (e RunItemEvent) Payload() any {
	return map[string]any{"name": e.Name, "item": e.Item}
}
func (RunItemEvent) isEvent() {}

// AgentUpdatedEvent reports the agent now producing output.
type AgentUpdatedEvent struct {
	Agent string
}

func (AgentUpdatedEvent) Kind() string { return KindAgentUpdated }
func (e AgentUpdatedEvent) Payload() any {
	return map[string]any{"new_agent": e.Agent}
}
func (AgentUpdatedEvent) isEvent() {}

// OpaqueEvent wraps a provider event that has no structured mapping.
// Consumers fall back to the value's type name when Type is empty.
type OpaqueEvent struct {
	Type  string
	Value any
}

func (e OpaqueEvent) Kind() string { return e.Type }
func (e OpaqueEvent) Payload() any { return e.Value }
func (OpaqueEvent) isEvent()       {}

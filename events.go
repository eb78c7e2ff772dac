package agentwire

import "encoding/json"

// EventType discriminates the kinds of session events the server emits.
type EventType string

// Event kinds used by the runtime. The server may emit further kinds;
// they pass through the envelope untouched and reach subscribers with
// their raw payload intact.
const (
	EventAssistantMessage      EventType = "assistant.message"
	EventAssistantMessageDelta EventType = "assistant.message_delta"
	EventSessionIdle           EventType = "session.idle"
	EventSessionError          EventType = "session.error"
	EventToolExecutionStart    EventType = "tool.execution_start"
	EventToolExecutionEnd      EventType = "tool.execution_end"
)

// SessionEvent is the tagged-union envelope for server notifications.
// Events are delivered at most once per occurrence to every subscriber of
// the matching session, in wire arrival order.
type SessionEvent struct {
	// Type discriminates the event kind.
	Type EventType `json:"type"`

	// Data carries the well-known payload fields. Fields beyond these are
	// available through Raw.
	Data EventData `json:"data,omitempty"`

	// Raw is the original unparsed event JSON, populated on unmarshal.
	Raw json.RawMessage `json:"-"`
}

// EventData holds the payload fields the runtime itself understands.
type EventData struct {
	// MessageID correlates the event with a sent message.
	MessageID string `json:"messageId,omitempty"`

	// Content is assistant text (assistant.message, assistant.message_delta).
	Content string `json:"content,omitempty"`

	// ToolName identifies the tool for tool execution events.
	ToolName string `json:"toolName,omitempty"`

	// Error describes a session.error event.
	Error string `json:"error,omitempty"`
}

// UnmarshalJSON decodes the envelope and keeps a copy of the raw payload.
func (e *SessionEvent) UnmarshalJSON(b []byte) error {
	type plain SessionEvent
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = SessionEvent(p)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

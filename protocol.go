package agentwire

import "encoding/json"

// JSON-RPC 2.0 method constants for the agent server wire protocol.
const (
	methodPing            = "ping"
	methodSessionCreate   = "session.create"
	methodSessionResume   = "session.resume"
	methodSessionSend     = "session.send"
	methodSessionAbort    = "session.abort"
	methodSessionMessages = "session.getMessages"
	methodSessionDestroy  = "session.destroy"

	// Server → client.
	methodSessionEvent      = "session.event"
	methodToolCall          = "tool.call"
	methodPermissionRequest = "permission.request"
)

// Protocol and client identity constants.
const (
	protocolVersion = 1
	clientName      = "agentwire"
	clientVersion   = "0.1.0"
)

// --- Ping / handshake ---

type pingParams struct {
	Message string `json:"message,omitempty"`
}

type pingResult struct {
	Message         string `json:"message,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	ProtocolVersion *int   `json:"protocolVersion,omitempty"`
}

// --- Session lifecycle ---

// toolDefinition advertises a client-side tool to the server.
type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type createSessionParams struct {
	SessionID         string           `json:"sessionId,omitempty"`
	Model             string           `json:"model,omitempty"`
	Tools             []toolDefinition `json:"tools,omitempty"`
	RequestPermission bool             `json:"requestPermission,omitempty"`
}

type createSessionResult struct {
	SessionID string `json:"sessionId"`
}

type resumeSessionParams struct {
	SessionID         string           `json:"sessionId"`
	Tools             []toolDefinition `json:"tools,omitempty"`
	RequestPermission bool             `json:"requestPermission,omitempty"`
}

type resumeSessionResult struct {
	SessionID string `json:"sessionId"`
}

type destroySessionParams struct {
	SessionID string `json:"sessionId"`
}

// --- Messaging ---

type sendMessageParams struct {
	SessionID   string   `json:"sessionId"`
	MessageID   string   `json:"messageId"`
	Prompt      string   `json:"prompt"`
	Attachments []string `json:"attachments,omitempty"`
	Mode        string   `json:"mode,omitempty"`
}

type abortParams struct {
	SessionID string `json:"sessionId"`
}

type getMessagesParams struct {
	SessionID string `json:"sessionId"`
}

type getMessagesResult struct {
	Messages []SessionEvent `json:"messages"`
}

// --- Server-originated traffic ---

// sessionEventParams is the session.event notification envelope.
type sessionEventParams struct {
	SessionID string       `json:"sessionId"`
	Event     SessionEvent `json:"event"`
}

// toolCallParams is a server request to run a client-registered tool.
type toolCallParams struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

type toolCallResult struct {
	Result ToolResult `json:"result"`
}

// permissionRequestParams is a server request for a permission decision.
type permissionRequestParams struct {
	SessionID         string            `json:"sessionId"`
	PermissionRequest PermissionRequest `json:"permissionRequest"`
}

type permissionRequestResult struct {
	Result PermissionResult `json:"result"`
}

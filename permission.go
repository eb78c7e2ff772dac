package agentwire

// PermissionKindDenied is the fixed denial returned when no permission
// handler is registered, or a handler fails. Permission requests always
// resolve to a concrete decision; none is left pending.
const PermissionKindDenied = "denied-no-approval-rule-and-could-not-request-from-user"

// PermissionKindApproved approves the requested action.
const PermissionKindApproved = "approved"

// PermissionRequest carries a server permission.request to the session's
// handler. The payload is a stateless value; it is not retained after the
// response is sent.
type PermissionRequest struct {
	// Kind names the action the server wants approved (e.g. "shell",
	// "write").
	Kind string `json:"kind,omitempty"`

	// ToolCallID correlates the request with a pending tool call, when
	// applicable.
	ToolCallID string `json:"toolCallId,omitempty"`

	// Description is the server's human-readable rationale.
	Description string `json:"description,omitempty"`
}

// PermissionResult is the decision sent back to the server.
type PermissionResult struct {
	Kind string `json:"kind"`
}

// Approve returns an approval decision.
func Approve() PermissionResult {
	return PermissionResult{Kind: PermissionKindApproved}
}

// Deny returns the fixed denial decision.
func Deny() PermissionResult {
	return PermissionResult{Kind: PermissionKindDenied}
}

// PermissionHandler decides a server permission request. It runs in a
// dedicated goroutine. An error (or panic) resolves the request with the
// fixed denial rather than leaving it unanswered.
type PermissionHandler func(req PermissionRequest) (PermissionResult, error)

package agentwire

import (
	"encoding/json"
	"fmt"

	"github.com/dmora/agentwire/internal/rpc"
)

// handleToolCall answers a server tool.call request. An unknown tool name
// resolves to the fixed unsupported-tool failure result, and a handler
// error or panic resolves to a failure result; neither faults the
// connection. Only a malformed payload or an unknown session becomes a
// JSON-RPC error.
func (c *Client) handleToolCall(params json.RawMessage) (any, error) {
	var req toolCallParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "invalid tool call payload"}
	}
	if req.SessionID == "" || req.ToolCallID == "" || req.ToolName == "" {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "tool call missing sessionId, toolCallId or toolName"}
	}

	s := c.sessionByID(req.SessionID)
	if s == nil {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "unknown session " + req.SessionID}
	}

	handler := s.toolHandler(req.ToolName)
	if handler == nil {
		return toolCallResult{Result: unsupportedToolResult(req.ToolName)}, nil
	}

	inv := ToolInvocation{
		SessionID:  req.SessionID,
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Arguments:  req.Arguments,
	}
	return toolCallResult{Result: c.invokeTool(handler, inv)}, nil
}

func (c *Client) invokeTool(handler ToolHandler, inv ToolInvocation) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("tool handler panic", "tool", inv.ToolName, "session", inv.SessionID, "panic", r)
			result = failedToolResult(fmt.Sprintf("tool handler panic: %v", r))
		}
	}()

	res, err := handler(inv)
	if err != nil {
		c.log.Debug("tool handler error", "tool", inv.ToolName, "session", inv.SessionID, "err", err)
		return failedToolResult(err.Error())
	}
	return res
}

// handlePermissionRequest answers a server permission.request. Every
// request resolves to a concrete decision: a missing handler, a handler
// error, or a handler panic all produce the fixed denial.
func (c *Client) handlePermissionRequest(params json.RawMessage) (any, error) {
	var req permissionRequestParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "invalid permission request payload"}
	}
	if req.SessionID == "" {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "permission request missing sessionId"}
	}

	s := c.sessionByID(req.SessionID)
	if s == nil {
		return nil, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "unknown session " + req.SessionID}
	}

	handler := s.permissionHandler()
	if handler == nil {
		return permissionRequestResult{Result: Deny()}, nil
	}
	return permissionRequestResult{Result: c.invokePermission(handler, req.PermissionRequest)}, nil
}

func (c *Client) invokePermission(handler PermissionHandler, req PermissionRequest) (result PermissionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("permission handler panic", "kind", req.Kind, "panic", r)
			result = Deny()
		}
	}()

	res, err := handler(req)
	if err != nil {
		c.log.Debug("permission handler error", "kind", req.Kind, "err", err)
		return Deny()
	}
	return res
}

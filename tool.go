package agentwire

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolHandler executes a client-side tool on the server's behalf. It runs
// in a dedicated goroutine and never blocks the connection's read loop.
// A returned error is converted to a failure ToolResult on the wire; it
// does not fault the connection.
type ToolHandler func(inv ToolInvocation) (ToolResult, error)

// Tool is a client-side tool advertised to the server at session
// creation. Parameters describes the tool's argument schema; use NewTool
// to derive it from a typed params struct.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     ToolHandler
}

// ToolInvocation carries one tool.call request to its handler. It is a
// stateless value; the runtime does not retain it after the response is
// sent.
type ToolInvocation struct {
	SessionID  string
	ToolCallID string
	ToolName   string
	Arguments  json.RawMessage
}

// ToolResult is the structured outcome of a tool invocation.
type ToolResult struct {
	// TextResultForLLM is the text surfaced to the model.
	TextResultForLLM string `json:"textResultForLLM"`

	// ResultType is "success" or "failure".
	ResultType string `json:"resultType"`

	// Error carries the internal failure detail. Not surfaced to the
	// model.
	Error string `json:"error,omitempty"`

	// ToolTelemetry holds optional handler-provided measurements.
	ToolTelemetry map[string]any `json:"toolTelemetry,omitempty"`
}

// TextResult builds a success ToolResult from plain text.
func TextResult(text string) ToolResult {
	return ToolResult{
		TextResultForLLM: text,
		ResultType:       "success",
		ToolTelemetry:    map[string]any{},
	}
}

// failedToolResult hides the internal error detail from the model while
// preserving it for the caller's telemetry.
func failedToolResult(internalError string) ToolResult {
	return ToolResult{
		TextResultForLLM: "Invoking this tool produced an error. Detailed information is not available.",
		ResultType:       "failure",
		Error:            internalError,
		ToolTelemetry:    map[string]any{},
	}
}

// unsupportedToolResult is the fixed failure for a tool name with no
// registered handler. A normal, expected outcome — not a fault.
func unsupportedToolResult(toolName string) ToolResult {
	return ToolResult{
		TextResultForLLM: fmt.Sprintf("Tool '%s' is not supported by this client instance.", toolName),
		ResultType:       "failure",
		Error:            fmt.Sprintf("tool '%s' not supported", toolName),
		ToolTelemetry:    map[string]any{},
	}
}

// NewTool builds a Tool whose parameter schema is generated from T's
// json and jsonschema struct tags, and whose handler receives decoded
// arguments instead of raw JSON.
//
//	type echoParams struct {
//	    Text string `json:"text" jsonschema:"required,description=Text to echo back"`
//	}
//
//	tool := agentwire.NewTool("echo", "Echo back the input",
//	    func(inv agentwire.ToolInvocation, p echoParams) (agentwire.ToolResult, error) {
//	        return agentwire.TextResult(p.Text), nil
//	    })
func NewTool[T any](name, description string, handler func(inv ToolInvocation, params T) (ToolResult, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  generateSchema[T](),
		Handler: func(inv ToolInvocation) (ToolResult, error) {
			var params T
			if len(inv.Arguments) > 0 {
				if err := json.Unmarshal(inv.Arguments, &params); err != nil {
					return ToolResult{}, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
				}
			}
			return handler(inv, params)
		},
	}
}

// generateSchema reflects a JSON schema from T's struct tags, inlining
// definitions so the server receives a self-contained schema object.
func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("agentwire: generate schema for %T: %v", zero, err))
	}
	return json.RawMessage(data)
}

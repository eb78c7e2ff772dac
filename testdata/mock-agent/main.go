//go:build ignore

// Command mock-agent simulates an agent server for integration tests.
// It implements the JSON-RPC 2.0 wire protocol over stdio (--server
// --stdio) or TCP (--server --port N, announcing the bound port on
// stdout): ping, session.create, session.resume, session.send,
// session.abort, session.getMessages, session.destroy.
//
// Environment variables control failure modes:
//
//	MOCK_AGENT_MODE=no-announce    — TCP mode: listen but never announce the port
//	MOCK_AGENT_MODE=wrong-version  — report an incompatible protocol version
//	MOCK_AGENT_MODE=exit-on-create — exit(1) when session.create arrives
//	MOCK_AGENT_MODE=ignore-term    — swallow SIGTERM (forces SIGKILL escalation)
//	MOCK_AGENT_MODE=early-exit     — exit(1) immediately at startup
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var (
	mode     = os.Getenv("MOCK_AGENT_MODE")
	nextSess int
)

func main() {
	server := flag.Bool("server", false, "run as server")
	stdio := flag.Bool("stdio", false, "serve over stdio")
	port := flag.Int("port", -1, "serve over TCP on this port (0 = ephemeral)")
	flag.Parse()

	if !*server {
		fmt.Fprintln(os.Stderr, "mock-agent: --server required")
		os.Exit(2)
	}
	if mode == "early-exit" {
		fmt.Fprintln(os.Stderr, "mock-agent: early exit requested")
		os.Exit(1)
	}

	if mode == "ignore-term" {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM)
		go func() {
			for range ch {
				// Swallowed. Only SIGKILL gets rid of us.
			}
		}()
	}

	switch {
	case *stdio:
		serve(os.Stdin, os.Stdout)
	case *port >= 0:
		serveTCP(*port)
	default:
		fmt.Fprintln(os.Stderr, "mock-agent: --stdio or --port required")
		os.Exit(2)
	}
}

func serveTCP(port int) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: listen: %v\n", err)
		os.Exit(1)
	}
	bound := ln.Addr().(*net.TCPAddr).Port

	if mode == "no-announce" {
		// Keep the client waiting until its start timeout trips.
		time.Sleep(time.Hour)
	}
	fmt.Printf("mock-agent listening on port %d\n", bound)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serve(conn, conn)
		conn.Close()
	}
}

func serve(r io.Reader, w io.Writer) {
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		handleRequest(enc, &req)
	}
}

func handleRequest(enc *json.Encoder, req *rpcRequest) {
	switch req.Method {
	case "ping":
		version := 1
		if mode == "wrong-version" {
			version = 99
		}
		respond(enc, req.ID, map[string]any{
			"message":         "pong",
			"timestamp":       time.Now().UnixMilli(),
			"protocolVersion": version,
		})
	case "session.create":
		if mode == "exit-on-create" {
			os.Exit(1)
		}
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		sid := params.SessionID
		if sid == "" {
			nextSess++
			sid = fmt.Sprintf("mock-session-%d-%03d", os.Getpid(), nextSess)
		}
		respond(enc, req.ID, map[string]string{"sessionId": sid})
	case "session.resume":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		respond(enc, req.ID, map[string]string{"sessionId": params.SessionID})
	case "session.send":
		var params struct {
			SessionID string `json:"sessionId"`
			MessageID string `json:"messageId"`
			Prompt    string `json:"prompt"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.Prompt == "crash" {
			// Simulated mid-turn crash for restart tests.
			os.Exit(1)
		}
		respond(enc, req.ID, map[string]any{})
		notifyEvent(enc, params.SessionID, map[string]any{
			"type": "assistant.message",
			"data": map[string]any{
				"messageId": params.MessageID,
				"content":   "echo: " + params.Prompt,
			},
		})
		notifyEvent(enc, params.SessionID, map[string]any{"type": "session.idle"})
	case "session.abort", "session.destroy":
		respond(enc, req.ID, map[string]any{})
	case "session.getMessages":
		respond(enc, req.ID, map[string]any{"messages": []any{}})
	default:
		if req.ID != nil {
			respondError(enc, req.ID, -32601, "method not found: "+req.Method)
		}
	}
}

func respond(enc *json.Encoder, id *int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: marshal: %v\n", err)
		return
	}
	_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: data})
}

func respondError(enc *json.Encoder, id *int64, code int, message string) {
	_ = enc.Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func notifyEvent(enc *json.Encoder, sessionID string, event any) {
	params, err := json.Marshal(map[string]any{"sessionId": sessionID, "event": event})
	if err != nil {
		return
	}
	_ = enc.Encode(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session.event",
		"params":  json.RawMessage(params),
	})
}

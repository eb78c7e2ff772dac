// Package agentwire is a client runtime for agent CLI servers speaking
// JSON-RPC 2.0: it supervises the server process (or attaches to a running
// one over TCP), multiplexes conversational sessions over a single
// bidirectional connection, and dispatches the server's tool-call and
// permission-request callbacks to handlers registered per session.
//
// # Core Types
//
//   - [Client] — owns the connection, the process supervisor, and the
//     session registry
//   - [Session] — a logical, server-tracked conversation multiplexed over
//     the client's connection
//   - [SessionEvent] — the tagged-union envelope for server notifications
//   - [Tool] / [ToolHandler] — client-side tools the server may invoke
//   - [PermissionHandler] — callback for server permission requests
//
// # Quick Start
//
//	client, err := agentwire.NewClient(agentwire.WithExecutable("agentd"))
//	if err != nil { log.Fatal(err) }
//	if err := client.Start(ctx); err != nil { log.Fatal(err) }
//	defer client.Stop(ctx)
//
//	session, err := client.CreateSession(ctx, &agentwire.SessionConfig{Model: "gpt-4"})
//	if err != nil { log.Fatal(err) }
//
//	reply, err := session.SendAndWait(ctx, agentwire.MessageOptions{Prompt: "Hello!"})
//	if err != nil { log.Fatal(err) }
//	fmt.Println(reply.Data.Content)
//
// A client can also attach to an externally managed server instead of
// spawning one:
//
//	client, err := agentwire.NewClient(agentwire.WithRemoteTarget("localhost:3000"))
//
// Remote targets accept "PORT", "HOST:PORT", and "http(s)://HOST:PORT"
// forms; an attached client never spawns or terminates the server.
package agentwire

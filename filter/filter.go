// Package filter provides composable middleware for session event
// subscribers. Consumers wrap the function they pass to Session.On with
// these combinators to select the event granularity they need.
package filter

import (
	"strings"

	"github.com/dmora/agentwire"
)

// Handler consumes session events, matching the signature Session.On
// accepts.
type Handler func(agentwire.SessionEvent)

// Types wraps fn so it only receives events of the given types.
// With no types, every event is dropped.
func Types(fn Handler, types ...agentwire.EventType) Handler {
	allowed := make(map[agentwire.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return accept(fn, func(ev agentwire.SessionEvent) bool {
		_, ok := allowed[ev.Type]
		return ok
	})
}

// Completed wraps fn so it drops all delta events, passing only complete
// ones.
func Completed(fn Handler) Handler {
	return accept(fn, func(ev agentwire.SessionEvent) bool {
		return !IsDelta(ev.Type)
	})
}

// Messages wraps fn so it only receives complete assistant messages.
func Messages(fn Handler) Handler {
	return Types(fn, agentwire.EventAssistantMessage)
}

// Errors wraps fn so it only receives session error events.
func Errors(fn Handler) Handler {
	return Types(fn, agentwire.EventSessionError)
}

// IsDelta reports whether t is a streaming delta (partial) event type.
// Convention: all delta types use the "_delta" suffix (e.g.,
// assistant.message_delta). This avoids needing to update a switch
// statement each time a new delta type is added.
func IsDelta(t agentwire.EventType) bool {
	return strings.HasSuffix(string(t), "_delta")
}

func accept(fn Handler, pred func(agentwire.SessionEvent) bool) Handler {
	return func(ev agentwire.SessionEvent) {
		if pred(ev) {
			fn(ev)
		}
	}
}

package agentwire

// ConnectionState is the client's connection state machine value.
//
// Disconnected → (Start) → Connecting → (handshake ok) → Connected →
// (Stop/ForceStop) → Disconnected, or → (crash, protocol violation) →
// Error. From Error a fresh Start may re-attempt Connecting. Transitions
// are serialized; there is exactly one current value per Client.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

func (s ConnectionState) String() string { return string(s) }

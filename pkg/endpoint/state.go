// Package endpoint implements the two endpoint roles this module hosts: a
// client endpoint that drives a connection state machine and a resilient
// call engine over one transport, and a server endpoint that serves a
// capability registry to any number of bound transports. Both roles share a
// single mutual-exclusion domain per endpoint, so capability mutations can
// never race a connection-state transition.
package endpoint

// State is the lifecycle position of a client connection.
type State string

const (
	// StateDisconnected is the initial state before Start.
	StateDisconnected State = "disconnected"
	// StateConnecting covers transport open and protocol negotiation.
	StateConnecting State = "connecting"
	// StateConnected allows outbound calls.
	StateConnected State = "connected"
	// StateDegraded is entered when a transport error is observed before an
	// explicit stop. No new calls are accepted; a fresh Start is required.
	StateDegraded State = "degraded"
	// StateClosed is terminal for one connection instance.
	StateClosed State = "closed"
)

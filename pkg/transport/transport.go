// Package transport provides the bidirectional message channels MCP
// endpoints communicate over. A Transport moves opaque mcpwire.Message
// values; framing and encoding are entirely its concern, never the
// connection layer's. Three implementations ship with the module: stdio
// (child process), SSE (HTTP POST up, event stream down), and in-process
// (paired halves for same-process endpoints and tests).
package transport

import (
	"context"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// MessageHandler receives each inbound message in arrival order.
type MessageHandler func(msg mcpwire.Message)

// CloseHandler fires exactly once when the channel stops working, whether by
// explicit Close (err == nil) or by a transport-level failure.
type CloseHandler func(err error)

// Transport is a bidirectional message channel to one peer.
//
// SetHandlers must be called before Open. Open either establishes the channel
// or returns an error leaving no partial state behind. Close is idempotent.
type Transport interface {
	SetHandlers(onMessage MessageHandler, onClose CloseHandler)
	Open(ctx context.Context) error
	Send(ctx context.Context, msg mcpwire.Message) error
	Close() error
}

package transport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

const inprocBuffer = 64

// InProc is one half of an in-process transport pair. Messages sent on one
// half arrive, in order, at the other half's message handler.
type InProc struct {
	peer *InProc

	mu        sync.Mutex
	onMessage MessageHandler
	onClose   CloseHandler
	opened    bool
	closed    bool

	inbox chan mcpwire.Message
	done  chan struct{}
}

var _ Transport = (*InProc)(nil)

// NewInProcPipe returns two linked transport halves. By convention the first
// is handed to the client endpoint and the second to the server endpoint,
// though the halves are symmetric.
func NewInProcPipe() (*InProc, *InProc) {
	a := &InProc{inbox: make(chan mcpwire.Message, inprocBuffer), done: make(chan struct{})}
	b := &InProc{inbox: make(chan mcpwire.Message, inprocBuffer), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// SetHandlers implements Transport.
func (t *InProc) SetHandlers(onMessage MessageHandler, onClose CloseHandler) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClose = onClose
	t.mu.Unlock()
}

// Open starts the delivery pump for this half.
func (t *InProc) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport: in-process pipe already closed")
	}
	if t.opened {
		return nil
	}
	t.opened = true
	go t.pump()
	return nil
}

// pump delivers inbound messages one at a time, preserving send order.
func (t *InProc) pump() {
	for {
		select {
		case msg := <-t.inbox:
			t.mu.Lock()
			handler := t.onMessage
			t.mu.Unlock()
			if handler != nil {
				handler(msg)
			}
		case <-t.done:
			return
		}
	}
}

// Send delivers msg to the peer half.
func (t *InProc) Send(ctx context.Context, msg mcpwire.Message) error {
	peer := t.peer
	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		return errors.New("transport: peer closed")
	}
	select {
	case peer.inbox <- msg:
		return nil
	case <-peer.done:
		return errors.New("transport: peer closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down both halves. Each half's close handler fires once.
func (t *InProc) Close() error {
	t.closeWith(nil, true)
	return nil
}

// FailPeer simulates a transport-level fault: both halves observe err on
// their close handlers. Tests use this to drive degraded-state behavior.
func (t *InProc) FailPeer(err error) {
	t.closeWith(err, true)
}

func (t *InProc) closeWith(err error, propagate bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	onClose := t.onClose
	close(t.done)
	t.mu.Unlock()

	if onClose != nil {
		onClose(err)
	}
	if propagate {
		t.peer.closeWith(err, false)
	}
}

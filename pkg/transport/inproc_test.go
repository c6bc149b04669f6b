package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// collector gathers handler callbacks for assertions.
type collector struct {
	mu       sync.Mutex
	messages []string
	closed   bool
	closeErr error
}

func (c *collector) bind(t Transport) {
	t.SetHandlers(
		func(msg mcpwire.Message) {
			c.mu.Lock()
			c.messages = append(c.messages, string(msg))
			c.mu.Unlock()
		},
		func(err error) {
			c.mu.Lock()
			c.closed = true
			c.closeErr = err
			c.mu.Unlock()
		},
	)
}

func (c *collector) snapshot() ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...), c.closed, c.closeErr
}

func TestInProcDeliversInOrder(t *testing.T) {
	t.Parallel()

	a, b := NewInProcPipe()
	var got collector
	got.bind(b)
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, b.Open(context.Background()))

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, a.Send(context.Background(), mcpwire.Message(fmt.Sprintf("m%d", i))))
	}

	require.Eventually(t, func() bool {
		msgs, _, _ := got.snapshot()
		return len(msgs) == n
	}, time.Second, 5*time.Millisecond)

	msgs, _, _ := got.snapshot()
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg)
	}
}

func TestInProcClosePropagatesToPeer(t *testing.T) {
	t.Parallel()

	a, b := NewInProcPipe()
	var left, right collector
	left.bind(a)
	right.bind(b)
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, b.Open(context.Background()))

	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		_, closedA, _ := left.snapshot()
		_, closedB, _ := right.snapshot()
		return closedA && closedB
	}, time.Second, 5*time.Millisecond)

	err := a.Send(context.Background(), mcpwire.Message("late"))
	assert.Error(t, err)
}

func TestInProcCloseHandlerFiresOnce(t *testing.T) {
	t.Parallel()

	a, _ := NewInProcPipe()
	var fired int
	var mu sync.Mutex
	a.SetHandlers(nil, func(err error) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	require.NoError(t, a.Open(context.Background()))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestInProcFailPeerSurfacesError(t *testing.T) {
	t.Parallel()

	a, b := NewInProcPipe()
	var left, right collector
	left.bind(a)
	right.bind(b)
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, b.Open(context.Background()))

	boom := errors.New("wire fault")
	a.FailPeer(boom)

	require.Eventually(t, func() bool {
		_, closedA, errA := left.snapshot()
		_, closedB, errB := right.snapshot()
		return closedA && closedB && errA != nil && errB != nil
	}, time.Second, 5*time.Millisecond)

	_, _, errA := left.snapshot()
	assert.ErrorIs(t, errA, boom)
}

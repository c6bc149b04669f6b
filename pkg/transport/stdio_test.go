package transport

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// TestStdioRoundTrip drives the transport against cat, which echoes each
// line back, exercising framing in both directions.
func TestStdioRoundTrip(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires cat")
	}

	tr := &Stdio{Command: "cat"}
	var got collector
	got.bind(tr)
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	payload := `{"jsonrpc":"2.0","id":"1","method":"ping"}`
	require.NoError(t, tr.Send(context.Background(), mcpwire.Message(payload)))

	require.Eventually(t, func() bool {
		msgs, _, _ := got.snapshot()
		return len(msgs) == 1 && msgs[0] == payload
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStdioCloseFiresHandlerOnce(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires cat")
	}

	tr := &Stdio{Command: "cat"}
	var got collector
	got.bind(tr)
	require.NoError(t, tr.Open(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	require.Eventually(t, func() bool {
		_, closed, _ := got.snapshot()
		return closed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStdioOpenFailsForMissingCommand(t *testing.T) {
	t.Parallel()

	tr := &Stdio{Command: "/nonexistent/definitely-not-a-binary"}
	tr.SetHandlers(nil, nil)
	err := tr.Open(context.Background())
	require.Error(t, err)
}

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// TestSSERoundTrip runs the client transport against the server handler and
// checks that a POSTed message comes back on the event stream.
func TestSSERoundTrip(t *testing.T) {
	t.Parallel()

	srv := &SSEServer{Path: "/mcp"}
	srv.OnSession = func(tr Transport) {
		// Echo every inbound message back on the stream.
		tr.SetHandlers(func(msg mcpwire.Message) {
			_ = tr.Send(context.Background(), msg)
		}, nil)
		require.NoError(t, tr.Open(context.Background()))
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := &SSE{Endpoint: ts.URL + "/mcp"}
	var echoed collector
	echoed.bind(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Open(ctx))
	defer client.Close()

	payload := `{"jsonrpc":"2.0","method":"ping","id":"1"}`
	require.NoError(t, client.Send(ctx, mcpwire.Message(payload)))

	require.Eventually(t, func() bool {
		msgs, _, _ := echoed.snapshot()
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	msgs, _, _ := echoed.snapshot()
	assert.JSONEq(t, payload, msgs[0])
}

func TestSSEUnknownSessionRejected(t *testing.T) {
	t.Parallel()

	srv := &SSEServer{Path: "/mcp"}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp/message?sessionId=nope", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSESendBeforeOpenFails(t *testing.T) {
	t.Parallel()

	client := &SSE{Endpoint: "http://127.0.0.1:0/mcp"}
	err := client.Send(context.Background(), mcpwire.Message("{}"))
	assert.Error(t, err)
}

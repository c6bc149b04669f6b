package manager

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/endpoint"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// startWiredManagers builds a server manager hosting "docs" and a client
// manager whose "local" client is connected to it over an in-process pipe.
func startWiredManagers(t *testing.T) (*ServerManager, *ClientManager) {
	t.Helper()
	ctx := context.Background()

	servers := NewServerManager(Options{DefaultName: "docs"})
	srv, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)
	require.NoError(t, servers.Start(ctx, "docs"))

	clientHalf, serverHalf := transport.NewInProcPipe()
	require.NoError(t, srv.Bind(ctx, serverHalf))

	clients := NewClientManager(Options{DefaultName: "local"})
	_, err = clients.Create(endpoint.Config{Name: "local"}, nil)
	require.NoError(t, err)
	require.NoError(t, clients.Start(ctx, "local", clientHalf))

	t.Cleanup(func() {
		_ = clients.StopAll(context.Background())
		_ = servers.StopAll(context.Background())
	})
	return servers, clients
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{})
	_, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)

	_, err = servers.Create(endpoint.Config{Name: "docs"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrDuplicateEndpoint))

	clients := NewClientManager(Options{})
	_, err = clients.Create(endpoint.Config{Name: "local"}, nil)
	require.NoError(t, err)
	_, err = clients.Create(endpoint.Config{Name: "local"}, nil)
	assert.True(t, errors.Is(err, mcperr.ErrDuplicateEndpoint))
}

func TestGetResolvesDefaultName(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{DefaultName: "docs"})
	created, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)

	got, err := servers.Get("")
	require.NoError(t, err)
	assert.Same(t, created, got)

	_, err = servers.Get("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrEndpointNotFound))
}

func TestGetWithoutDefaultFails(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{})
	_, err := servers.Get("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrNoDefaultEndpoint))

	clients := NewClientManager(Options{})
	_, err = clients.Get("")
	assert.True(t, errors.Is(err, mcperr.ErrNoDefaultEndpoint))
}

func TestListExistsAndStatus(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{})
	for _, name := range []string{"zeta", "alpha"} {
		_, err := servers.Create(endpoint.Config{Name: name})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "zeta"}, servers.List())
	assert.True(t, servers.Exists("alpha"))
	assert.False(t, servers.Exists("ghost"))
	assert.False(t, servers.IsRunning("alpha"))
	assert.False(t, servers.IsRunning("ghost"))

	require.NoError(t, servers.Start(context.Background(), "alpha"))
	assert.True(t, servers.IsRunning("alpha"))
	status, err := servers.Status("alpha")
	require.NoError(t, err)
	assert.Equal(t, endpoint.StateConnected, status)
}

func TestRemoveStopsAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	servers := NewServerManager(Options{})
	_, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)
	require.NoError(t, servers.Start(ctx, "docs"))

	require.NoError(t, servers.Remove(ctx, "docs"))
	assert.False(t, servers.Exists("docs"))

	err = servers.Remove(ctx, "docs")
	assert.True(t, errors.Is(err, mcperr.ErrEndpointNotFound))
}

func TestRecreateAfterRemoveStartsFresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	servers := NewServerManager(Options{})
	first, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)
	require.NoError(t, servers.AddTool("docs", capability.Entry{
		Name:    "docs/search",
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	}))
	require.NoError(t, servers.Remove(ctx, "docs"))

	second, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	tools, err := servers.GetTools("docs")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestCapabilityDelegation(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{DefaultName: "docs"})
	_, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)

	require.NoError(t, servers.AddTool("", capability.Entry{
		Name: "docs/search",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	}))

	tools, err := servers.GetTools("")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "docs/search", tools[0].Name)
	assert.Equal(t, capability.KindTool, tools[0].Kind)

	err = servers.AddTool("", capability.Entry{Name: "docs/search", Handler: tools[0].Handler})
	assert.True(t, errors.Is(err, mcperr.ErrDuplicateCapability))

	removed, err := servers.RemoveTool("", "docs/search")
	require.NoError(t, err)
	assert.True(t, removed)

	tools, err = servers.GetTools("")
	require.NoError(t, err)
	assert.Empty(t, tools)

	removed, err = servers.RemoveTool("", "docs/search")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegisterBatchDelegation(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{DefaultName: "docs"})
	_, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)

	handler := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }
	outcomes, err := servers.RegisterBatch("", []capability.Entry{
		{Kind: capability.KindTool, Name: "a", Handler: handler},
		{Kind: capability.KindTool, Name: "a", Handler: handler},
		{Kind: capability.KindPrompt, Name: "p", Handler: handler},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.True(t, errors.Is(outcomes[1].Err, mcperr.ErrDuplicateCapability))
	assert.NoError(t, outcomes[2].Err)
}

func TestCapabilitiesDelegation(t *testing.T) {
	t.Parallel()

	servers := NewServerManager(Options{DefaultName: "docs"})
	_, err := servers.Create(endpoint.Config{Name: "docs"})
	require.NoError(t, err)

	caps := endpoint.Capabilities{Logging: true}
	require.NoError(t, servers.SetCapabilities("", caps))
	got, err := servers.GetCapabilities("")
	require.NoError(t, err)
	assert.Equal(t, caps, got)

	_, err = servers.GetCapabilities("ghost")
	assert.True(t, errors.Is(err, mcperr.ErrEndpointNotFound))
}

func TestClientManagerPassthrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	servers, clients := startWiredManagers(t)
	require.NoError(t, servers.AddTool("", capability.Entry{
		Name: "docs/search",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "hit", nil
		},
	}))

	require.NoError(t, clients.Ping(ctx, ""))

	tools, err := clients.ListTools(ctx, "")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)

	result, err := clients.CallTool(ctx, "", "docs/search", map[string]any{"query": "q"})
	require.NoError(t, err)
	text := result.Content[0].(*mcp.TextContent)
	assert.Equal(t, "hit", text.Text)

	assert.True(t, clients.IsRunning("local"))
	status, err := clients.Status("")
	require.NoError(t, err)
	assert.Equal(t, endpoint.StateConnected, status)
}

func TestStopAllIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, clients := startWiredManagers(t)
	require.NoError(t, clients.StopAll(ctx))
	require.NoError(t, clients.StopAll(ctx))
	assert.False(t, clients.IsRunning("local"))
}

func TestRootDelegation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, clients := startWiredManagers(t)
	require.NoError(t, clients.AddRoot(ctx, "", capability.Root{URI: "file:///ws", Name: "A"}))
	require.NoError(t, clients.AddRoot(ctx, "", capability.Root{URI: "file:///ws", Name: "B"}))

	roots, err := clients.GetRoots("")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "B", roots[0].Name)

	require.NoError(t, clients.RemoveRoot(ctx, "", "file:///ws"))
	roots, err = clients.GetRoots("")
	require.NoError(t, err)
	assert.Empty(t, roots)
}

package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/endpoint"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// ClientManager owns a named set of client endpoints and proxies capability
// calls to them.
type ClientManager struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*endpoint.Client
}

// NewClientManager builds an empty client manager.
func NewClientManager(opts Options) *ClientManager {
	opts = opts.withDefaults()
	return &ClientManager{
		opts:    opts,
		log:     opts.Logger,
		clients: make(map[string]*endpoint.Client),
	}
}

// Create registers a new client endpoint under cfg.Name. The name must be
// unique within the manager.
func (m *ClientManager) Create(cfg endpoint.Config, factory endpoint.TransportFactory) (*endpoint.Client, error) {
	if cfg.Name == "" {
		return nil, mcperr.New(mcperr.KindProtocol, "endpoint name required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = m.opts.DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[cfg.Name]; ok {
		return nil, mcperr.New(mcperr.KindDuplicateEndpoint, "client %q already exists", cfg.Name).WithEndpoint(cfg.Name)
	}
	c := endpoint.NewClient(cfg, factory)
	m.clients[cfg.Name] = c
	m.log.Info("client created", "endpoint", cfg.Name)
	return c, nil
}

// resolve maps an empty name to the configured default.
func (m *ClientManager) resolve(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if m.opts.DefaultName == "" {
		return "", mcperr.New(mcperr.KindNoDefaultEndpoint, "no default endpoint configured")
	}
	return m.opts.DefaultName, nil
}

// Get returns the named client; an empty name selects the default.
func (m *ClientManager) Get(name string) (*endpoint.Client, error) {
	name, err := m.resolve(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	c, ok := m.clients[name]
	m.mu.RUnlock()
	if !ok {
		return nil, mcperr.New(mcperr.KindEndpointNotFound, "client %q not found", name).WithEndpoint(name)
	}
	return c, nil
}

// Start connects the named client. A non-nil transport overrides the
// client's factory for this connection.
func (m *ClientManager) Start(ctx context.Context, name string, override transport.Transport) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	return c.Start(ctx, override)
}

// Stop disconnects the named client. Idempotent per client.
func (m *ClientManager) Stop(ctx context.Context, name string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	return c.Stop(ctx)
}

// Remove stops and deletes the named client.
func (m *ClientManager) Remove(ctx context.Context, name string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := c.Stop(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.clients, c.Name())
	m.mu.Unlock()
	m.log.Info("client removed", "endpoint", c.Name())
	return nil
}

// List returns the managed client names in sorted order.
func (m *ClientManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a client is registered under name.
func (m *ClientManager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[name]
	return ok
}

// IsRunning reports whether the named client has a usable connection.
// Unknown names report false.
func (m *ClientManager) IsRunning(name string) bool {
	c, err := m.Get(name)
	if err != nil {
		return false
	}
	return c.IsRunning()
}

// Status reports the named client's connection state.
func (m *ClientManager) Status(name string) (endpoint.State, error) {
	c, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return c.Status(), nil
}

// StopAll disconnects every client concurrently and returns the first
// error encountered.
func (m *ClientManager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	clients := make([]*endpoint.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		g.Go(func() error { return c.Stop(ctx) })
	}
	return g.Wait()
}

// GetCapabilities returns the flag set the named client advertises.
func (m *ClientManager) GetCapabilities(name string) (endpoint.Capabilities, error) {
	c, err := m.Get(name)
	if err != nil {
		return endpoint.Capabilities{}, err
	}
	return c.Capabilities(), nil
}

// SetCapabilities replaces the flag set the named client will advertise on
// its next negotiation.
func (m *ClientManager) SetCapabilities(name string, caps endpoint.Capabilities) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	c.SetCapabilities(caps)
	return nil
}

// Ping pings through the named client.
func (m *ClientManager) Ping(ctx context.Context, name string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// ListTools lists tools through the named client.
func (m *ClientManager) ListTools(ctx context.Context, name string) (*mcp.ListToolsResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.ListTools(ctx)
}

// CallTool invokes a tool through the named client.
func (m *ClientManager) CallTool(ctx context.Context, name, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, tool, args)
}

// ListResources lists resources through the named client.
func (m *ClientManager) ListResources(ctx context.Context, name string) (*mcp.ListResourcesResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.ListResources(ctx)
}

// ReadResource reads a resource through the named client.
func (m *ClientManager) ReadResource(ctx context.Context, name, uri string) (*mcp.ReadResourceResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri)
}

// ListPrompts lists prompts through the named client.
func (m *ClientManager) ListPrompts(ctx context.Context, name string) (*mcp.ListPromptsResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.ListPrompts(ctx)
}

// GetPrompt renders a prompt through the named client.
func (m *ClientManager) GetPrompt(ctx context.Context, name, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.GetPrompt(ctx, prompt, args)
}

// Complete requests completion suggestions through the named client.
func (m *ClientManager) Complete(ctx context.Context, name string, ref map[string]any, arg endpoint.CompleteArgument) (*endpoint.Completion, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Complete(ctx, ref, arg)
}

// AddRoot exposes a root on the named client.
func (m *ClientManager) AddRoot(ctx context.Context, name string, root capability.Root) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	return c.AddRoot(ctx, root)
}

// RemoveRoot withdraws a root from the named client.
func (m *ClientManager) RemoveRoot(ctx context.Context, name, uri string) error {
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	return c.RemoveRoot(ctx, uri)
}

// GetRoots lists the named client's roots.
func (m *ClientManager) GetRoots(name string) ([]capability.Root, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Roots().List(), nil
}

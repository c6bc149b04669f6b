package endpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// TransportFactory produces a fresh transport for each connection attempt.
type TransportFactory func() (transport.Transport, error)

// Client is the consuming endpoint: it drives one connection to a peer
// server, issues capability calls over it, and answers the small set of
// requests a server may send back (ping, roots listing).
type Client struct {
	cfg     Config
	log     *slog.Logger
	factory TransportFactory

	// mu guards cfg.Capabilities, conn, and the negotiated peer fields, and
	// doubles as the registry lock so capability and connection mutations
	// serialize against each other.
	mu   sync.Mutex
	conn *connection

	registry *capability.Registry
	roots    *capability.RootStore
	events   emitter
	watcher  *capability.Watcher

	serverInfo mcp.Implementation
	serverCaps json.RawMessage
}

// NewClient builds a client endpoint. The factory is invoked on each Start
// unless a transport is supplied directly.
func NewClient(cfg Config, factory TransportFactory) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		factory: factory,
		roots:   capability.NewRootStore(),
	}
	c.registry = capability.NewRegistryWithLock(&c.mu)
	c.registry.OnChange(func(kind capability.Kind, name string, added bool) {
		typ := EventCapabilityAdded
		if !added {
			typ = EventCapabilityRemoved
		}
		c.events.emit(Event{Type: typ, Endpoint: c.cfg.Name, Kind: kind, Name: name})
	})
	return c
}

// Name returns the endpoint name.
func (c *Client) Name() string { return c.cfg.Name }

// Registry exposes the client's local capability registry.
func (c *Client) Registry() *capability.Registry { return c.registry }

// Roots exposes the client's root store.
func (c *Client) Roots() *capability.RootStore { return c.roots }

// Subscribe registers an observer for lifecycle and capability events.
func (c *Client) Subscribe(fn Observer) { c.events.subscribe(fn) }

// Capabilities returns the flag set that will be advertised on the next
// negotiation.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Capabilities
}

// SetCapabilities replaces the advertised flag set. An established
// connection is unaffected until it renegotiates.
func (c *Client) SetCapabilities(caps Capabilities) {
	c.mu.Lock()
	c.cfg.Capabilities = caps
	c.mu.Unlock()
}

// ServerInfo returns the peer identity from the last completed negotiation.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities decodes the peer flag set from the last completed
// negotiation. Before a handshake it is the zero value.
func (c *Client) ServerCapabilities() Capabilities {
	c.mu.Lock()
	raw := c.serverCaps
	c.mu.Unlock()
	var caps Capabilities
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &caps)
	}
	return caps
}

// Status reports the connection state; disconnected if never started.
func (c *Client) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return StateDisconnected
	}
	return c.conn.state
}

// IsRunning reports whether the connection is usable or being established.
func (c *Client) IsRunning() bool {
	s := c.Status()
	return s == StateConnecting || s == StateConnected
}

// Start opens the transport and completes the protocol handshake. A nil
// override uses the configured factory. Starting an already running client
// is a no-op; a degraded or closed client gets a fresh connection.
func (c *Client) Start(ctx context.Context, override transport.Transport) error {
	c.mu.Lock()
	if c.conn != nil && (c.conn.state == StateConnecting || c.conn.state == StateConnected) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	tr := override
	if tr == nil {
		if c.factory == nil {
			return mcperr.New(mcperr.KindConnectionFailed, "no transport configured").WithEndpoint(c.cfg.Name)
		}
		var err error
		tr, err = c.factory()
		if err != nil {
			return mcperr.Wrap(mcperr.KindConnectionFailed, err, "build transport").WithEndpoint(c.cfg.Name)
		}
	}

	conn := newConnection(c.cfg.Name, tr, c.cfg, &c.mu, &c.events, c.serveRequest, c.handleNotification)
	c.mu.Lock()
	if c.conn != nil && (c.conn.state == StateConnecting || c.conn.state == StateConnected) {
		c.mu.Unlock()
		_ = tr.Close()
		return nil
	}
	c.conn = conn
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    c.cfg.Capabilities,
		ClientInfo:      mcp.Implementation{Name: c.cfg.Name, Version: c.cfg.Version},
	}
	c.mu.Unlock()

	if err := conn.open(ctx); err != nil {
		return err
	}
	raw, err := conn.handshakeCall(ctx, mcpwire.MethodInitialize, &params)
	if err != nil {
		_ = conn.close()
		return mcperr.Wrap(mcperr.KindConnectionFailed, err, "negotiation failed").WithEndpoint(c.cfg.Name)
	}
	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		_ = conn.close()
		return mcperr.Wrap(mcperr.KindProtocol, err, "decode initialize result").WithEndpoint(c.cfg.Name)
	}

	c.mu.Lock()
	c.serverInfo = res.ServerInfo
	c.serverCaps = res.Capabilities
	c.mu.Unlock()

	conn.markConnected()
	if err := conn.Notify(ctx, mcpwire.NotificationInitialized, nil); err != nil {
		_ = conn.close()
		return mcperr.Wrap(mcperr.KindConnectionFailed, err, "confirm negotiation").WithEndpoint(c.cfg.Name)
	}
	c.log.Info("client connected",
		"endpoint", c.cfg.Name,
		"server", res.ServerInfo.Name,
		"serverVersion", res.ServerInfo.Version,
	)

	c.startDiscovery(ctx)
	return nil
}

// startDiscovery runs manifest discovery for the feature sets that asked
// for auto registration and keeps a watcher on their directories.
func (c *Client) startDiscovery(ctx context.Context) {
	dirs := c.cfg.discoverDirs()
	if len(dirs) == 0 {
		return
	}
	source := &capability.DirSource{Dirs: dirs, Factory: c.cfg.Handlers}
	report := capability.Discover(ctx, c.registry, source)
	for _, f := range report.Failures {
		c.log.Warn("capability discovery failure", "endpoint", c.cfg.Name, "origin", f.Origin, "name", f.Name, "error", f.Err)
	}
	c.mu.Lock()
	needWatcher := c.watcher == nil
	c.mu.Unlock()
	if needWatcher {
		w := capability.NewWatcher(c.registry, source, c.log)
		if err := w.Start(ctx); err != nil {
			c.log.Warn("capability watcher unavailable", "endpoint", c.cfg.Name, "error", err)
			return
		}
		c.mu.Lock()
		c.watcher = w
		c.mu.Unlock()
	}
}

// Stop closes the connection. Idempotent; stopping a never-started or
// already stopped client returns nil.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	if conn == nil {
		return nil
	}
	return conn.close()
}

// call routes one request through the live connection.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, mcperr.New(mcperr.KindClientNotConnected, "client not started").WithEndpoint(c.cfg.Name)
	}
	return conn.Call(ctx, method, params)
}

// Ping verifies the peer is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, mcpwire.MethodPing, nil)
	return err
}

// ListTools fetches the peer's tool catalog.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var res mcp.ListToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode tools/list result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// CallTool invokes a named tool on the peer.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodToolsCall, &callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode tools/call result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// ListResources fetches the peer's resource catalog.
func (c *Client) ListResources(ctx context.Context) (*mcp.ListResourcesResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodResourcesList, nil)
	if err != nil {
		return nil, err
	}
	var res mcp.ListResourcesResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode resources/list result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// ReadResource reads a resource by URI from the peer.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodResourcesRead, &readResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var res mcp.ReadResourceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode resources/read result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// ListPrompts fetches the peer's prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) (*mcp.ListPromptsResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodPromptsList, nil)
	if err != nil {
		return nil, err
	}
	var res mcp.ListPromptsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode prompts/list result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// GetPrompt renders a prompt on the peer.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	raw, err := c.call(ctx, mcpwire.MethodPromptsGet, &getPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res mcp.GetPromptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode prompts/get result").WithEndpoint(c.cfg.Name)
	}
	return &res, nil
}

// Complete requests argument completion from the peer.
func (c *Client) Complete(ctx context.Context, ref map[string]any, arg CompleteArgument) (*Completion, error) {
	raw, err := c.call(ctx, mcpwire.MethodComplete, &completeParams{Ref: ref, Argument: arg})
	if err != nil {
		return nil, err
	}
	var res completeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode completion result").WithEndpoint(c.cfg.Name)
	}
	return &res.Completion, nil
}

// AddRoot exposes a root to the peer, replacing any root with the same URI.
// A change notification is sent when the capability was negotiated.
func (c *Client) AddRoot(ctx context.Context, root capability.Root) error {
	c.roots.Add(root)
	return c.notifyRootsChanged(ctx)
}

// RemoveRoot withdraws a root by URI.
func (c *Client) RemoveRoot(ctx context.Context, uri string) error {
	if !c.roots.Remove(uri) {
		return nil
	}
	return c.notifyRootsChanged(ctx)
}

func (c *Client) notifyRootsChanged(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	listChanged := c.cfg.Capabilities.Roots.ListChanged
	c.mu.Unlock()
	if conn == nil || !listChanged || conn.State() != StateConnected {
		return nil
	}
	return conn.Notify(ctx, mcpwire.NotificationRootsChanged, nil)
}

// serveRequest answers the requests a server may initiate toward a client.
func (c *Client) serveRequest(ctx context.Context, method string, params json.RawMessage) (any, *mcpwire.Error) {
	switch method {
	case mcpwire.MethodPing:
		return emptyResult{}, nil
	case mcpwire.MethodRootsList:
		return rootsListResult{Roots: c.roots.List()}, nil
	default:
		return nil, &mcpwire.Error{Code: mcpwire.CodeMethodNotFound, Message: "method not available: " + method}
	}
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	c.log.Debug("notification received", "endpoint", c.cfg.Name, "method", method)
}

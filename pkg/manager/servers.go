package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/endpoint"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// ServerManager owns a named set of server endpoints and delegates
// capability registration to them.
type ServerManager struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	servers map[string]*endpoint.Server
}

// NewServerManager builds an empty server manager.
func NewServerManager(opts Options) *ServerManager {
	opts = opts.withDefaults()
	return &ServerManager{
		opts:    opts,
		log:     opts.Logger,
		servers: make(map[string]*endpoint.Server),
	}
}

// Create registers a new server endpoint under cfg.Name. The name must be
// unique within the manager.
func (m *ServerManager) Create(cfg endpoint.Config) (*endpoint.Server, error) {
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
	if _, ok := m.servers[cfg.Name]; ok {
		return nil, mcperr.New(mcperr.KindDuplicateEndpoint, "server %q already exists", cfg.Name).WithEndpoint(cfg.Name)
	}
	s := endpoint.NewServer(cfg)
	m.servers[cfg.Name] = s
	m.log.Info("server created", "endpoint", cfg.Name)
	return s, nil
}

func (m *ServerManager) resolve(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if m.opts.DefaultName == "" {
		return "", mcperr.New(mcperr.KindNoDefaultEndpoint, "no default endpoint configured")
	}
	return m.opts.DefaultName, nil
}

// Get returns the named server; an empty name selects the default.
func (m *ServerManager) Get(name string) (*endpoint.Server, error) {
	name, err := m.resolve(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, mcperr.New(mcperr.KindEndpointNotFound, "server %q not found", name).WithEndpoint(name)
	}
	return s, nil
}

// Start makes the named server accept sessions.
func (m *ServerManager) Start(ctx context.Context, name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop shuts the named server down. Idempotent per server.
func (m *ServerManager) Stop(ctx context.Context, name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// Remove stops and deletes the named server.
func (m *ServerManager) Remove(ctx context.Context, name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.servers, s.Name())
	m.mu.Unlock()
	m.log.Info("server removed", "endpoint", s.Name())
	return nil
}

// Bind attaches a transport to the named server as a new session.
func (m *ServerManager) Bind(ctx context.Context, name string, tr transport.Transport) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Bind(ctx, tr)
}

// List returns the managed server names in sorted order.
func (m *ServerManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a server is registered under name.
func (m *ServerManager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[name]
	return ok
}

// IsRunning reports whether the named server accepts sessions. Unknown
// names report false.
func (m *ServerManager) IsRunning(name string) bool {
	s, err := m.Get(name)
	if err != nil {
		return false
	}
	return s.IsRunning()
}

// Status reports the named server's state.
func (m *ServerManager) Status(name string) (endpoint.State, error) {
	s, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return s.Status(), nil
}

// StopAll shuts every server down concurrently and returns the first error
// encountered.
func (m *ServerManager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	servers := make([]*endpoint.Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error { return s.Stop(ctx) })
	}
	return g.Wait()
}

// GetCapabilities returns the flag set the named server advertises.
func (m *ServerManager) GetCapabilities(name string) (endpoint.Capabilities, error) {
	s, err := m.Get(name)
	if err != nil {
		return endpoint.Capabilities{}, err
	}
	return s.Capabilities(), nil
}

// SetCapabilities replaces the flag set the named server advertises to new
// sessions.
func (m *ServerManager) SetCapabilities(name string, caps endpoint.Capabilities) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.SetCapabilities(caps)
	return nil
}

// AddTool registers a tool on the named server.
func (m *ServerManager) AddTool(name string, entry capability.Entry) error {
	return m.add(name, capability.KindTool, entry)
}

// RemoveTool unregisters a tool from the named server. It reports whether
// the tool was present.
func (m *ServerManager) RemoveTool(name, tool string) (bool, error) {
	return m.remove(name, capability.KindTool, tool)
}

// GetTools lists the named server's tools in registration order.
func (m *ServerManager) GetTools(name string) ([]capability.Entry, error) {
	return m.list(name, capability.KindTool)
}

// AddResource registers a resource on the named server.
func (m *ServerManager) AddResource(name string, entry capability.Entry) error {
	return m.add(name, capability.KindResource, entry)
}

// RemoveResource unregisters a resource from the named server.
func (m *ServerManager) RemoveResource(name, uri string) (bool, error) {
	return m.remove(name, capability.KindResource, uri)
}

// GetResources lists the named server's resources in registration order.
func (m *ServerManager) GetResources(name string) ([]capability.Entry, error) {
	return m.list(name, capability.KindResource)
}

// AddPrompt registers a prompt on the named server.
func (m *ServerManager) AddPrompt(name string, entry capability.Entry) error {
	return m.add(name, capability.KindPrompt, entry)
}

// RemovePrompt unregisters a prompt from the named server.
func (m *ServerManager) RemovePrompt(name, prompt string) (bool, error) {
	return m.remove(name, capability.KindPrompt, prompt)
}

// GetPrompts lists the named server's prompts in registration order.
func (m *ServerManager) GetPrompts(name string) ([]capability.Entry, error) {
	return m.list(name, capability.KindPrompt)
}

// RegisterBatch registers several capabilities on the named server,
// reporting a per-entry outcome.
func (m *ServerManager) RegisterBatch(name string, entries []capability.Entry) ([]capability.BatchOutcome, error) {
	s, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return s.Registry().RegisterBatch(entries), nil
}

func (m *ServerManager) add(name string, kind capability.Kind, entry capability.Entry) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	entry.Kind = kind
	return s.Registry().Add(entry)
}

func (m *ServerManager) remove(name string, kind capability.Kind, capName string) (bool, error) {
	s, err := m.Get(name)
	if err != nil {
		return false, err
	}
	return s.Registry().Remove(kind, capName), nil
}

func (m *ServerManager) list(name string, kind capability.Kind) ([]capability.Entry, error) {
	s, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return s.Registry().List(kind), nil
}

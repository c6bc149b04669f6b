package endpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// Server is the providing endpoint: it owns a capability registry and
// serves it to every transport bound to it. Each bound transport becomes an
// independent session with its own negotiation state.
type Server struct {
	cfg Config
	log *slog.Logger

	// mu guards running, sessions, and cfg.Capabilities, and doubles as the
	// registry lock and every session connection's lock.
	mu       sync.Mutex
	running  bool
	sessions map[string]*session

	registry *capability.Registry
	events   emitter
	watcher  *capability.Watcher
}

// session is one client bound to the server.
type session struct {
	id   string
	srv  *Server
	conn *connection

	clientInfo mcp.Implementation
	clientCaps Capabilities
}

// NewServer builds a server endpoint around a fresh registry.
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*session),
	}
	s.registry = capability.NewRegistryWithLock(&s.mu)
	s.registry.OnChange(s.capabilityChanged)
	return s
}

// Name returns the endpoint name.
func (s *Server) Name() string { return s.cfg.Name }

// Registry exposes the server's capability registry.
func (s *Server) Registry() *capability.Registry { return s.registry }

// Subscribe registers an observer for lifecycle and capability events.
func (s *Server) Subscribe(fn Observer) { s.events.subscribe(fn) }

// Capabilities returns the flag set advertised to newly negotiating clients.
func (s *Server) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Capabilities
}

// SetCapabilities replaces the advertised flag set. Established sessions
// keep the flags they negotiated.
func (s *Server) SetCapabilities(caps Capabilities) {
	s.mu.Lock()
	s.cfg.Capabilities = caps
	s.mu.Unlock()
}

// IsRunning reports whether the server accepts new sessions.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status reports connected when the server runs, closed otherwise.
func (s *Server) Status() State {
	if s.IsRunning() {
		return StateConnected
	}
	return StateClosed
}

// Start marks the server as accepting sessions and runs capability
// discovery for the feature sets that asked for it. Idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if dirs := s.cfg.discoverDirs(); len(dirs) > 0 {
		source := &capability.DirSource{Dirs: dirs, Factory: s.cfg.Handlers}
		report := capability.Discover(ctx, s.registry, source)
		for _, f := range report.Failures {
			s.log.Warn("capability discovery failure", "endpoint", s.cfg.Name, "origin", f.Origin, "name", f.Name, "error", f.Err)
		}
		w := capability.NewWatcher(s.registry, source, s.log)
		if err := w.Start(ctx); err != nil {
			s.log.Warn("capability watcher unavailable", "endpoint", s.cfg.Name, "error", err)
		} else {
			s.mu.Lock()
			s.watcher = w
			s.mu.Unlock()
		}
	}
	s.log.Info("server started", "endpoint", s.cfg.Name)
	return nil
}

// Stop closes every session and stops accepting new ones. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running && len(s.sessions) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	for _, sess := range sessions {
		_ = sess.conn.close()
	}
	s.log.Info("server stopped", "endpoint", s.cfg.Name, "sessions", len(sessions))
	return nil
}

// Bind attaches a transport as a new session. The session serves requests
// as soon as the transport delivers them; it counts as established once the
// client confirms negotiation.
func (s *Server) Bind(ctx context.Context, tr transport.Transport) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return mcperr.New(mcperr.KindClientNotConnected, "server not running").WithEndpoint(s.cfg.Name)
	}
	s.mu.Unlock()

	sess := &session{id: ulid.Make().String(), srv: s}
	sess.conn = newConnection(s.cfg.Name, tr, s.cfg, &s.mu, &s.events, sess.route, sess.notified)
	sess.conn.onTerminal = func() { s.dropSession(sess.id) }
	if err := sess.conn.open(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.log.Debug("session bound", "endpoint", s.cfg.Name, "session", sess.id)
	return nil
}

// Sessions lists the ids of sessions currently bound.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ListRoots asks a session's client for its filesystem roots.
func (s *Server) ListRoots(ctx context.Context, sessionID string) ([]capability.Root, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, mcperr.New(mcperr.KindClientNotConnected, "no such session %q", sessionID).WithEndpoint(s.cfg.Name)
	}
	s.mu.Lock()
	advertised := sess.clientCaps.Roots.Enabled
	s.mu.Unlock()
	if !advertised {
		return nil, mcperr.New(mcperr.KindProtocol, "session %q did not advertise roots", sessionID).WithEndpoint(s.cfg.Name)
	}
	raw, err := sess.conn.Call(ctx, mcpwire.MethodRootsList, nil)
	if err != nil {
		return nil, err
	}
	var res rootsListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "decode roots/list result").WithEndpoint(s.cfg.Name)
	}
	return res.Roots, nil
}

// capabilityChanged fans a registry change out as an event and as a
// list_changed notification to every established session.
func (s *Server) capabilityChanged(kind capability.Kind, name string, added bool) {
	typ := EventCapabilityAdded
	if !added {
		typ = EventCapabilityRemoved
	}
	s.events.emit(Event{Type: typ, Endpoint: s.cfg.Name, Kind: kind, Name: name})

	var method string
	switch kind {
	case capability.KindTool:
		method = mcpwire.NotificationToolsChanged
	case capability.KindResource:
		method = mcpwire.NotificationResourcesChanged
	case capability.KindPrompt:
		method = mcpwire.NotificationPromptsChanged
	default:
		return
	}
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		if sess.conn.State() != StateConnected {
			continue
		}
		if err := sess.conn.Notify(context.Background(), method, nil); err != nil {
			s.log.Debug("change notification dropped", "endpoint", s.cfg.Name, "session", sess.id, "error", err)
		}
	}
}

func (s *Server) dropSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// advertisedCapabilities builds the negotiation wire shape: the configured
// flags plus a listChanged-capable section per capability kind the server
// serves.
func (s *Server) advertisedCapabilities() (json.RawMessage, error) {
	s.mu.Lock()
	flags := s.cfg.Capabilities
	s.mu.Unlock()

	raw, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	for _, key := range []string{"tools", "resources", "prompts"} {
		out[key] = map[string]any{"listChanged": true}
	}
	return json.Marshal(out)
}

// route answers one client request.
func (sess *session) route(ctx context.Context, method string, params json.RawMessage) (any, *mcpwire.Error) {
	s := sess.srv
	switch method {
	case mcpwire.MethodInitialize:
		var p initializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "malformed initialize params"}
		}
		s.mu.Lock()
		sess.clientInfo = p.ClientInfo
		sess.clientCaps = p.Capabilities
		s.mu.Unlock()
		caps, err := s.advertisedCapabilities()
		if err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInternalError, Message: "encode capabilities"}
		}
		return initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    caps,
			ServerInfo:      mcp.Implementation{Name: s.cfg.Name, Version: s.cfg.Version},
		}, nil

	case mcpwire.MethodPing:
		return emptyResult{}, nil

	case mcpwire.MethodToolsList:
		return sess.listTools(), nil

	case mcpwire.MethodToolsCall:
		var p callToolParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "malformed tools/call params"}
		}
		return sess.callTool(ctx, p)

	case mcpwire.MethodResourcesList:
		return sess.listResources(), nil

	case mcpwire.MethodResourcesRead:
		var p readResourceParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "malformed resources/read params"}
		}
		return sess.readResource(ctx, p.URI)

	case mcpwire.MethodPromptsList:
		return sess.listPrompts(), nil

	case mcpwire.MethodPromptsGet:
		var p getPromptParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "malformed prompts/get params"}
		}
		return sess.getPrompt(ctx, p)

	case mcpwire.MethodComplete:
		var p completeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "malformed completion params"}
		}
		return sess.complete(p)

	default:
		return nil, &mcpwire.Error{Code: mcpwire.CodeMethodNotFound, Message: "method not available: " + method}
	}
}

// notified handles client notifications for this session.
func (sess *session) notified(method string, params json.RawMessage) {
	switch method {
	case mcpwire.NotificationInitialized:
		sess.conn.markConnected()
		sess.srv.log.Info("session established",
			"endpoint", sess.srv.cfg.Name,
			"session", sess.id,
			"client", sess.clientInfo.Name,
		)
	default:
		sess.srv.log.Debug("notification received", "endpoint", sess.srv.cfg.Name, "session", sess.id, "method", method)
	}
}

func (sess *session) listTools() *mcp.ListToolsResult {
	entries := sess.srv.registry.List(capability.KindTool)
	tools := make([]*mcp.Tool, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, &mcp.Tool{
			Name:        e.Name,
			Title:       e.Title,
			Description: e.Description,
			InputSchema: e.Schema,
		})
	}
	return &mcp.ListToolsResult{Tools: tools}
}

func (sess *session) callTool(ctx context.Context, p callToolParams) (any, *mcpwire.Error) {
	entry, ok := sess.srv.registry.Get(capability.KindTool, p.Name)
	if !ok {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "unknown tool: " + p.Name}
	}
	result, err := entry.Handler(ctx, p.Arguments)
	if err != nil {
		// Tool execution failures travel inside the result, not as
		// protocol errors.
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil
	}
	return toolResultOf(result), nil
}

func (sess *session) listResources() *mcp.ListResourcesResult {
	entries := sess.srv.registry.List(capability.KindResource)
	resources := make([]*mcp.Resource, 0, len(entries))
	for _, e := range entries {
		resources = append(resources, &mcp.Resource{
			URI:         e.Name,
			Name:        e.Name,
			Title:       e.Title,
			Description: e.Description,
			MIMEType:    e.MIMEType,
		})
	}
	return &mcp.ListResourcesResult{Resources: resources}
}

func (sess *session) readResource(ctx context.Context, uri string) (any, *mcpwire.Error) {
	entry, ok := sess.srv.registry.Get(capability.KindResource, uri)
	if !ok {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "unknown resource: " + uri}
	}
	result, err := entry.Handler(ctx, map[string]any{"uri": uri})
	if err != nil {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInternalError, Message: err.Error()}
	}
	return resourceResultOf(uri, entry.MIMEType, result), nil
}

func (sess *session) listPrompts() *mcp.ListPromptsResult {
	entries := sess.srv.registry.List(capability.KindPrompt)
	prompts := make([]*mcp.Prompt, 0, len(entries))
	for _, e := range entries {
		prompts = append(prompts, &mcp.Prompt{
			Name:        e.Name,
			Title:       e.Title,
			Description: e.Description,
		})
	}
	return &mcp.ListPromptsResult{Prompts: prompts}
}

func (sess *session) getPrompt(ctx context.Context, p getPromptParams) (any, *mcpwire.Error) {
	entry, ok := sess.srv.registry.Get(capability.KindPrompt, p.Name)
	if !ok {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInvalidParams, Message: "unknown prompt: " + p.Name}
	}
	args := make(map[string]any, len(p.Arguments))
	for k, v := range p.Arguments {
		args[k] = v
	}
	result, err := entry.Handler(ctx, args)
	if err != nil {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInternalError, Message: err.Error()}
	}
	return promptResultOf(entry.Description, result), nil
}

func (sess *session) complete(p completeParams) (any, *mcpwire.Error) {
	fn := sess.srv.cfg.Complete
	if fn == nil {
		return completeResult{}, nil
	}
	values, err := fn(p.Ref, p.Argument)
	if err != nil {
		return nil, &mcpwire.Error{Code: mcpwire.CodeInternalError, Message: err.Error()}
	}
	return completeResult{Completion: Completion{Values: values, Total: len(values)}}, nil
}

// toolResultOf normalizes a handler return value into a call result.
func toolResultOf(v any) *mcp.CallToolResult {
	switch r := v.(type) {
	case *mcp.CallToolResult:
		return r
	case string:
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: r}}}
	case nil:
		return &mcp.CallToolResult{}
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "unencodable tool result"}},
			}
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}}}
	}
}

// resourceResultOf normalizes a handler return value into resource contents.
func resourceResultOf(uri, mimeType string, v any) *mcp.ReadResourceResult {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	switch r := v.(type) {
	case *mcp.ReadResourceResult:
		return r
	case []byte:
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Blob: r}}}
	case string:
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: r}}}
	default:
		raw, _ := json.Marshal(r)
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(raw)}}}
	}
}

// promptResultOf normalizes a handler return value into prompt messages.
func promptResultOf(description string, v any) *mcp.GetPromptResult {
	switch r := v.(type) {
	case *mcp.GetPromptResult:
		return r
	case string:
		return &mcp.GetPromptResult{
			Description: description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: r}},
			},
		}
	default:
		raw, _ := json.Marshal(r)
		return &mcp.GetPromptResult{
			Description: description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: string(raw)}},
			},
		}
	}
}

package endpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
	"github.com/hostbridge/mcp-endpoint-go/pkg/transport"
)

// outcome is the terminal result of one in-flight call.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCall tracks one outstanding request. done is buffered so the single
// resolver never blocks on a caller that already gave up.
type pendingCall struct {
	id     string
	method string
	sentAt time.Time
	done   chan outcome
}

// requestHandler answers a peer-initiated request. A non-nil *mcpwire.Error
// is sent back verbatim as the JSON-RPC error object.
type requestHandler func(ctx context.Context, method string, params json.RawMessage) (any, *mcpwire.Error)

type notificationHandler func(method string, params json.RawMessage)

// connection binds one transport to the call engine and the connection
// state machine. It shares its mutex with the owning endpoint so registry
// access and state transitions are atomic with respect to each other.
//
// Every pending call is resolved exactly once, by exactly one of: a matching
// response, its own timeout, or connection teardown. Whichever path wins
// removes the entry from the pending map before writing the outcome, so the
// losers find nothing to resolve.
type connection struct {
	endpoint string
	log      *slog.Logger
	events   *emitter

	mu      *sync.Mutex
	state   State
	lastErr error
	pending map[string]*pendingCall

	tr      transport.Transport
	timeout time.Duration
	retry   RetryPolicy

	onRequest      requestHandler
	onNotification notificationHandler

	// onTerminal, when set, runs once after the connection leaves the
	// usable states for good (degraded or closed).
	onTerminal func()
	terminated bool
}

func newConnection(endpoint string, tr transport.Transport, cfg Config, mu *sync.Mutex, events *emitter, onRequest requestHandler, onNotification notificationHandler) *connection {
	c := &connection{
		endpoint:       endpoint,
		log:            cfg.Logger,
		events:         events,
		mu:             mu,
		state:          StateDisconnected,
		pending:        make(map[string]*pendingCall),
		tr:             tr,
		timeout:        cfg.Timeout,
		retry:          cfg.Retry,
		onRequest:      onRequest,
		onNotification: onNotification,
	}
	tr.SetHandlers(c.handleMessage, c.handleClose)
	return c
}

// State reports the current lifecycle position.
func (c *connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastErr reports the error that degraded or closed the connection, if any.
func (c *connection) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// open moves disconnected -> connecting and opens the transport. It does not
// negotiate; the owner completes the handshake and calls markConnected.
func (c *connection) open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return mcperr.New(mcperr.KindConnectionFailed, "connection already %s", state).WithEndpoint(c.endpoint)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.tr.Open(ctx); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.lastErr = err
		c.mu.Unlock()
		return mcperr.Wrap(mcperr.KindConnectionFailed, err, "open transport").WithEndpoint(c.endpoint)
	}
	return nil
}

// markConnected completes negotiation. Only valid from connecting.
func (c *connection) markConnected() {
	c.mu.Lock()
	ok := c.state == StateConnecting
	if ok {
		c.state = StateConnected
	}
	c.mu.Unlock()
	if ok {
		c.events.emit(Event{Type: EventConnectionOpened, Endpoint: c.endpoint})
	}
}

// Call performs a request/response exchange, re-issuing on timeout per the
// retry policy. Each attempt carries a fresh correlation id.
func (c *connection) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		result, err := c.roundTrip(ctx, method, params, false)
		if err == nil || mcperr.KindOf(err) != mcperr.KindTimeout || attempt >= c.retry.MaxRetries {
			return result, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if wait := c.retry.delay(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, err
			}
			timer.Stop()
		}
		c.log.Debug("retrying call after timeout",
			"endpoint", c.endpoint,
			"method", method,
			"attempt", attempt+1,
		)
	}
}

// handshakeCall is Call for the negotiation phase, permitted while the
// connection is still connecting. No retry applies.
func (c *connection) handshakeCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.roundTrip(ctx, method, params, true)
}

func (c *connection) roundTrip(ctx context.Context, method string, params any, handshake bool) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected && !(handshake && c.state == StateConnecting) {
		state := c.state
		c.mu.Unlock()
		return nil, mcperr.New(mcperr.KindClientNotConnected, "connection is %s", state).WithEndpoint(c.endpoint)
	}
	pc := &pendingCall{
		id:     ulid.Make().String(),
		method: method,
		sentAt: time.Now(),
		done:   make(chan outcome, 1),
	}
	c.pending[pc.id] = pc
	tr := c.tr
	timeout := c.timeout
	c.mu.Unlock()

	msg, err := mcpwire.NewRequest(pc.id, method, params)
	if err != nil {
		c.resolve(pc.id, outcome{})
		return nil, mcperr.Wrap(mcperr.KindProtocol, err, "encode %s request", method).WithEndpoint(c.endpoint)
	}
	if err := tr.Send(ctx, msg); err != nil {
		c.resolve(pc.id, outcome{})
		c.degrade(err)
		return nil, mcperr.Wrap(mcperr.KindConnectionClosed, err, "send %s request", method).WithEndpoint(c.endpoint)
	}
	c.log.Debug("request sent", "endpoint", c.endpoint, "method", method, "id", pc.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-pc.done:
		return out.result, out.err
	case <-timer.C:
		c.resolve(pc.id, outcome{
			err: mcperr.New(mcperr.KindTimeout, "%s timed out after %s", method, timeout).WithEndpoint(c.endpoint),
		})
		// If a response won the race instead, done already holds it.
		out := <-pc.done
		return out.result, out.err
	case <-ctx.Done():
		// The caller detaches; the engine stays the terminal observer so
		// the pending entry is still cleaned up exactly once.
		go c.reap(pc, timeout-time.Since(pc.sentAt))
		return nil, mcperr.Wrap(mcperr.KindTimeout, ctx.Err(), "%s abandoned by caller", method).WithEndpoint(c.endpoint)
	}
}

// reap waits out an abandoned call until its response, timeout, or the
// connection teardown settles it.
func (c *connection) reap(pc *pendingCall, remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	var out outcome
	select {
	case out = <-pc.done:
	case <-timer.C:
		c.resolve(pc.id, outcome{
			err: mcperr.New(mcperr.KindTimeout, "%s timed out after caller detached", pc.method).WithEndpoint(c.endpoint),
		})
		out = <-pc.done
	}
	c.log.Debug("abandoned call settled",
		"endpoint", c.endpoint,
		"method", pc.method,
		"id", pc.id,
		"error", out.err,
	)
}

// resolve removes the pending entry and delivers the outcome. It reports
// false when another path already resolved the call.
func (c *connection) resolve(id string, out outcome) bool {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	pc.done <- out
	return true
}

// Notify sends a one-way notification. Requires a connected state.
func (c *connection) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return mcperr.New(mcperr.KindClientNotConnected, "connection is %s", state).WithEndpoint(c.endpoint)
	}
	tr := c.tr
	c.mu.Unlock()

	msg, err := mcpwire.NewNotification(method, params)
	if err != nil {
		return mcperr.Wrap(mcperr.KindProtocol, err, "encode %s notification", method).WithEndpoint(c.endpoint)
	}
	if err := tr.Send(ctx, msg); err != nil {
		c.degrade(err)
		return mcperr.Wrap(mcperr.KindConnectionClosed, err, "send %s notification", method).WithEndpoint(c.endpoint)
	}
	return nil
}

func (c *connection) handleMessage(msg mcpwire.Message) {
	env, err := mcpwire.Decode(msg)
	if err != nil {
		c.log.Warn("dropping malformed message", "endpoint", c.endpoint, "error", err)
		return
	}
	switch env.Type() {
	case mcpwire.TypeResponse:
		id := env.ID.String()
		var out outcome
		if env.Error != nil {
			out.err = mcperr.New(mcperr.KindProtocol, "peer error %d: %s", env.Error.Code, env.Error.Message).WithEndpoint(c.endpoint)
		} else {
			out.result = env.Result
		}
		if !c.resolve(id, out) {
			// Late reply to a call that already timed out. The id is never
			// reused, so it cannot complete a newer call.
			c.log.Debug("dropping response for settled request", "endpoint", c.endpoint, "id", id)
		}
	case mcpwire.TypeRequest:
		go c.serveRequest(env)
	case mcpwire.TypeNotification:
		if c.onNotification != nil {
			c.onNotification(env.Method, env.Params)
		}
	}
}

func (c *connection) serveRequest(env *mcpwire.Envelope) {
	var resp mcpwire.Message
	var err error
	if c.onRequest == nil {
		resp, err = mcpwire.NewErrorResponse(env.ID, mcpwire.CodeMethodNotFound, "method not available: "+env.Method)
	} else {
		result, werr := c.onRequest(context.Background(), env.Method, env.Params)
		if werr != nil {
			resp, err = mcpwire.NewErrorResponse(env.ID, werr.Code, werr.Message)
		} else {
			resp, err = mcpwire.NewResultResponse(env.ID, result)
			if err != nil {
				resp, err = mcpwire.NewErrorResponse(env.ID, mcpwire.CodeInternalError, "encode result")
			}
		}
	}
	if err != nil {
		c.log.Warn("encoding response failed", "endpoint", c.endpoint, "method", env.Method, "error", err)
		return
	}
	if err := c.tr.Send(context.Background(), resp); err != nil {
		c.log.Warn("sending response failed", "endpoint", c.endpoint, "method", env.Method, "error", err)
	}
}

// degrade records a connection-level fault. The state flips to degraded
// before any stranded caller observes its failure, so a caller that sees
// ConnectionClosed and immediately checks the state finds it degraded.
func (c *connection) degrade(cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateDegraded || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	c.lastErr = cause
	stranded := c.takePendingLocked()
	terminal := c.takeTerminalLocked()
	c.mu.Unlock()

	failure := mcperr.Wrap(mcperr.KindConnectionClosed, cause, "connection lost").WithEndpoint(c.endpoint)
	for _, pc := range stranded {
		pc.done <- outcome{err: failure}
	}
	c.log.Warn("connection degraded",
		"endpoint", c.endpoint,
		"stranded", len(stranded),
		"error", cause,
	)
	c.events.emit(Event{Type: EventConnectionDegraded, Endpoint: c.endpoint, Err: cause})
	if terminal != nil {
		terminal()
	}
}

// handleClose is the transport close callback.
func (c *connection) handleClose(err error) {
	c.degrade(err)
}

// close tears the connection down. Safe to call repeatedly and from any
// state; in-flight calls resolve with ConnectionClosed.
func (c *connection) close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = StateClosed
	stranded := c.takePendingLocked()
	terminal := c.takeTerminalLocked()
	c.mu.Unlock()

	_ = c.tr.Close()

	failure := mcperr.New(mcperr.KindConnectionClosed, "connection closed").WithEndpoint(c.endpoint)
	for _, pc := range stranded {
		pc.done <- outcome{err: failure}
	}
	if prev != StateDisconnected {
		c.events.emit(Event{Type: EventConnectionClosed, Endpoint: c.endpoint})
	}
	if terminal != nil {
		terminal()
	}
	return nil
}

func (c *connection) takeTerminalLocked() func() {
	if c.terminated {
		return nil
	}
	c.terminated = true
	return c.onTerminal
}

func (c *connection) takePendingLocked() []*pendingCall {
	stranded := make([]*pendingCall, 0, len(c.pending))
	for _, pc := range c.pending {
		stranded = append(stranded, pc)
	}
	c.pending = make(map[string]*pendingCall)
	return stranded
}

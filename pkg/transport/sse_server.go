package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

const sseOutboundBuffer = 64

// SSEServer accepts HTTP+SSE sessions and hands each one to OnSession as a
// ready-to-bind Transport. A GET on Path opens the event stream and announces
// the per-session message URL; POSTs to Path/message deliver inbound
// messages. The handler is CORS-wrapped so browser-hosted MCP clients can
// reach it.
type SSEServer struct {
	// Path is the stream mount point, e.g. "/mcp". Messages POST to Path+"/message".
	Path string
	// OnSession receives each accepted session's transport half. The receiver
	// must call SetHandlers and Open before messages flow.
	OnSession func(t Transport)
	Logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sseSession
}

type sseSession struct {
	id  string
	srv *SSEServer

	mu        sync.Mutex
	onMessage MessageHandler
	onClose   CloseHandler
	closed    bool

	outbound chan mcpwire.Message
	done     chan struct{}
}

var _ Transport = (*sseSession)(nil)

// Handler returns the CORS-wrapped HTTP handler serving the stream and
// message routes.
func (s *SSEServer) Handler() http.Handler {
	path := s.Path
	if path == "" {
		path = "/mcp"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, s.handleStream)
	mux.HandleFunc("POST "+path+"/message", s.handleMessage)
	return cors.AllowAll().Handler(mux)
}

// CloseAll tears down every live session.
func (s *SSEServer) CloseAll() {
	s.mu.Lock()
	sessions := make([]*sseSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.Close()
	}
}

func (s *SSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sess := &sseSession{
		id:       uuid.NewString(),
		srv:      s,
		outbound: make(chan mcpwire.Message, sseOutboundBuffer),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*sseSession)
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Debug("sse session opened", "session", sess.id)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	path := s.Path
	if path == "" {
		path = "/mcp"
	}
	fmt.Fprintf(w, "event: %s\ndata: %s/message?sessionId=%s\n\n", sseEventEndpoint, path, sess.id)
	flusher.Flush()

	if s.OnSession != nil {
		s.OnSession(sess)
	}

	for {
		select {
		case msg := <-sess.outbound:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventMessage, msg)
			flusher.Flush()
		case <-sess.done:
			return
		case <-r.Context().Done():
			sess.fail(r.Context().Err())
			return
		}
	}
}

func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, stdioMaxLine))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	sess.mu.Lock()
	handler := sess.onMessage
	sess.mu.Unlock()
	if handler != nil {
		handler(mcpwire.Message(body))
	}
	w.WriteHeader(http.StatusAccepted)
}

// SetHandlers implements Transport.
func (t *sseSession) SetHandlers(onMessage MessageHandler, onClose CloseHandler) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClose = onClose
	t.mu.Unlock()
}

// Open implements Transport. The stream is already live when the session is
// handed out, so Open only validates state.
func (t *sseSession) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport: sse session closed")
	}
	return nil
}

// Send enqueues one outbound event for the stream writer.
func (t *sseSession) Send(ctx context.Context, msg mcpwire.Message) error {
	select {
	case t.outbound <- msg:
		return nil
	case <-t.done:
		return errors.New("transport: sse session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Transport.
func (t *sseSession) Close() error {
	t.finish(nil)
	return nil
}

func (t *sseSession) fail(err error) {
	t.finish(err)
}

func (t *sseSession) finish(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	onClose := t.onClose
	t.onClose = nil
	close(t.done)
	t.mu.Unlock()

	t.srv.mu.Lock()
	delete(t.srv.sessions, t.id)
	t.srv.mu.Unlock()

	if onClose != nil {
		onClose(err)
	}
}

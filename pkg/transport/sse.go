package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// SSE event names used by the HTTP+SSE MCP transport.
const (
	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"
)

// SSE is the client side of the HTTP+SSE transport: a long-lived GET carries
// inbound messages as server-sent events, and each outbound message is POSTed
// to the per-session message URL announced by the server's first event.
type SSE struct {
	Endpoint   string
	HTTPClient *http.Client
	Header     http.Header
	Logger     *slog.Logger

	mu         sync.Mutex
	onMessage  MessageHandler
	onClose    CloseHandler
	messageURL string
	closed     bool
	cancel     context.CancelFunc
	body       io.ReadCloser
}

var _ Transport = (*SSE)(nil)

// SetHandlers implements Transport.
func (t *SSE) SetHandlers(onMessage MessageHandler, onClose CloseHandler) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClose = onClose
	t.mu.Unlock()
}

// Open establishes the event stream and waits for the server to announce the
// message URL. The stream itself outlives ctx; ctx only bounds the handshake.
func (t *SSE) Open(ctx context.Context) error {
	if t.Endpoint == "" {
		return errors.New("transport: sse endpoint missing")
	}
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.Endpoint, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "transport: sse request")
	}
	for k, values := range t.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return errors.Wrap(err, "transport: sse connect")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return errors.Newf("transport: sse connect status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.body = resp.Body
	t.mu.Unlock()

	endpointCh := make(chan string, 1)
	go t.readLoop(resp.Body, endpointCh)

	select {
	case raw := <-endpointCh:
		msgURL, err := t.resolveMessageURL(raw)
		if err != nil {
			t.Close()
			return err
		}
		t.mu.Lock()
		t.messageURL = msgURL
		t.mu.Unlock()
		return nil
	case <-ctx.Done():
		t.Close()
		return errors.Wrap(ctx.Err(), "transport: sse handshake")
	}
}

// resolveMessageURL resolves the announced (possibly relative) message URL
// against the stream endpoint.
func (t *SSE) resolveMessageURL(raw string) (string, error) {
	base, err := url.Parse(t.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "transport: sse endpoint url")
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrap(err, "transport: sse message url")
	}
	return base.ResolveReference(ref).String(), nil
}

func (t *SSE) readLoop(body io.Reader, endpointCh chan<- string) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLine)

	var event string
	var data bytes.Buffer
	flush := func() {
		defer func() {
			event = ""
			data.Reset()
		}()
		switch event {
		case sseEventEndpoint:
			select {
			case endpointCh <- data.String():
			default:
			}
		case sseEventMessage, "":
			if data.Len() == 0 {
				return
			}
			payload := make(mcpwire.Message, data.Len())
			copy(payload, data.Bytes())
			t.mu.Lock()
			handler := t.onMessage
			t.mu.Unlock()
			if handler != nil {
				handler(payload)
			}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	t.finish(scanner.Err())
}

// Send POSTs one message to the session's message URL.
func (t *SSE) Send(ctx context.Context, msg mcpwire.Message) error {
	t.mu.Lock()
	msgURL := t.messageURL
	closed := t.closed
	t.mu.Unlock()
	if closed || msgURL == "" {
		return errors.New("transport: sse not open")
	}
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msgURL, bytes.NewReader(msg))
	if err != nil {
		return errors.Wrap(err, "transport: sse post")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "transport: sse post")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Newf("transport: sse post status %d", resp.StatusCode)
	}
	return nil
}

// Close tears down the event stream. Safe to call more than once.
func (t *SSE) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	body := t.body
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		_ = body.Close()
	}
	t.finish(nil)
	return nil
}

func (t *SSE) finish(err error) {
	t.mu.Lock()
	t.closed = true
	onClose := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	if err != nil && t.Logger != nil {
		t.Logger.Debug("sse transport stream ended", "endpoint", t.Endpoint, "error", err)
	}
	if onClose != nil {
		onClose(err)
	}
}

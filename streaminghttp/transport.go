package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/mathpro-app/mathpro-mcp/internal/httperr"
	"github.com/mathpro-app/mathpro-mcp/internal/jsonrpc"
	"github.com/mathpro-app/mathpro-mcp/internal/logctx"
	"github.com/mathpro-app/mathpro-mcp/mcp"
	"github.com/mathpro-app/mathpro-mcp/sessions"
)

// DefaultMaxBodyBytes bounds the size of one inbound message.
const DefaultMaxBodyBytes = 4 << 20

var (
	// ErrTransportClosed is returned by writes attempted after Close.
	ErrTransportClosed = errors.New("transport closed")
	// ErrNotConnected is returned by HandleRequest before Connect.
	ErrNotConnected = errors.New("transport not connected")
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const mcpProtocolVersionHeader = "Mcp-Protocol-Version"

var _ sessions.Transport = (*Transport)(nil)

// Transport adapts one HTTP exchange into a single inbound JSON-RPC message
// and its reply. It is used for exactly one session and never reused.
type Transport struct {
	w            http.ResponseWriter
	r            *http.Request
	log          *slog.Logger
	jsonResponse bool
	maxBody      int64

	mu        sync.Mutex
	handler   sessions.MessageHandler
	committed bool
	closed    bool
}

// TransportOption configures transports built by NewTransportFactory.
type TransportOption func(*transportConfig)

type transportConfig struct {
	log          *slog.Logger
	jsonResponse bool
	maxBody      int64
}

// WithJSONResponse selects plain application/json replies (true, the
// default) or a single Server-Sent Event per reply when the client accepts
// text/event-stream (false).
func WithJSONResponse(enabled bool) TransportOption {
	return func(c *transportConfig) { c.jsonResponse = enabled }
}

// WithTransportLogger sets the logger for transport events.
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(c *transportConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) TransportOption {
	return func(c *transportConfig) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewTransportFactory returns a sessions.TransportFactory producing a fresh
// Transport for every exchange.
func NewTransportFactory(opts ...TransportOption) sessions.TransportFactory {
	cfg := transportConfig{
		log:          slog.New(slog.DiscardHandler),
		jsonResponse: true,
		maxBody:      DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(w http.ResponseWriter, r *http.Request) (sessions.Transport, error) {
		if w == nil || r == nil {
			return nil, errors.New("transport requires a request and response writer")
		}
		return &Transport{
			w:            w,
			r:            r,
			log:          cfg.log,
			jsonResponse: cfg.jsonResponse,
			maxBody:      cfg.maxBody,
		}, nil
	}
}

// Connect attaches the message handler. It may be called once.
func (t *Transport) Connect(h sessions.MessageHandler) error {
	if h == nil {
		return errors.New("nil message handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.handler != nil {
		return errors.New("transport already connected")
	}
	t.handler = h
	return nil
}

// Committed reports whether a status line has been written.
func (t *Transport) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Close stops all further writes. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// HandleRequest reads the inbound message, dispatches it and writes the
// reply. HTTP-level rejections are written here and are not errors.
func (t *Transport) HandleRequest(ctx context.Context) error {
	start := time.Now()
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}

	if t.r.Method != http.MethodPost {
		// No standalone stream and no session to terminate.
		t.w.Header().Set("Allow", http.MethodPost)
		t.log.InfoContext(ctx, "http.method.unsupported", slog.String("method", t.r.Method))
		return t.writeError(http.StatusMethodNotAllowed, "method not allowed")
	}

	ctype, err := contenttype.GetMediaType(t.r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		t.log.WarnContext(ctx, "content_type.unsupported")
		return t.writeError(http.StatusUnsupportedMediaType, "content-type must be application/json")
	}

	if pv := t.r.Header.Get(mcpProtocolVersionHeader); pv != "" && !mcp.IsSupportedProtocolVersion(pv) {
		t.log.WarnContext(ctx, "protocol.version.unsupported", slog.String("client_version", pv))
		return t.writeError(http.StatusBadRequest, "unsupported protocol version: "+pv)
	}

	body, err := io.ReadAll(http.MaxBytesReader(t.w, t.r.Body, t.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			t.log.WarnContext(ctx, "body.too_large", slog.Int64("limit", tooLarge.Limit))
			return t.writeError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return fmt.Errorf("read body: %w", err)
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrBatchUnsupported) {
			t.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
			return t.writeError(http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		}
		code, text := jsonrpc.ErrorCodeInvalidRequest, "Invalid Request"
		if !json.Valid(body) {
			code, text = jsonrpc.ErrorCodeParseError, "Parse error"
		}
		t.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return t.writeJSON(http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, code, text, nil))
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	useSSE := false
	if msg.Type() == jsonrpc.TypeRequest {
		var ok bool
		if useSSE, ok = t.negotiate(); !ok {
			t.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", t.r.Header.Get("Accept")))
			return t.writeError(http.StatusNotAcceptable, "client must accept application/json or text/event-stream")
		}
	}

	res, err := h.HandleMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.Method, err)
	}
	if res == nil {
		if err := t.writeStatus(http.StatusAccepted); err != nil {
			return err
		}
		t.log.DebugContext(ctx, "message.inbound.accepted", slog.Duration("dur", time.Since(start)))
		return nil
	}

	if useSSE {
		err = t.writeSSE(res)
	} else {
		err = t.writeJSON(http.StatusOK, res)
	}
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	t.log.DebugContext(ctx, "rpc.inbound.ok", slog.Bool("sse", useSSE), slog.Duration("dur", time.Since(start)))
	return nil
}

// negotiate picks the reply framing from the Accept header. A missing
// header accepts anything.
func (t *Transport) negotiate() (sse bool, ok bool) {
	acceptsJSON := accepts(t.r, jsonMediaType)
	acceptsSSE := accepts(t.r, eventStreamMediaType)
	switch {
	case !t.jsonResponse && acceptsSSE:
		return true, true
	case acceptsJSON:
		return false, true
	case acceptsSSE:
		return true, true
	default:
		return false, false
	}
}

func accepts(r *http.Request, mt contenttype.MediaType) bool {
	_, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{mt})
	return err == nil
}

// commit claims the right to write the status line.
func (t *Transport) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.committed = true
	return nil
}

func (t *Transport) writeStatus(status int) error {
	if err := t.commit(); err != nil {
		return err
	}
	t.w.WriteHeader(status)
	return nil
}

func (t *Transport) writeError(status int, msg string) error {
	if err := t.commit(); err != nil {
		return err
	}
	httperr.Write(t.w, status, msg)
	return nil
}

func (t *Transport) writeJSON(status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := t.commit(); err != nil {
		return err
	}
	t.w.Header().Set("Content-Type", jsonMediaType.String())
	t.w.WriteHeader(status)
	_, err = t.w.Write(b)
	return err
}

// writeSSE frames res as a single "message" event.
func (t *Transport) writeSSE(res *jsonrpc.Response) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := t.commit(); err != nil {
		return err
	}
	hdr := t.w.Header()
	hdr.Set("Content-Type", eventStreamMediaType.String())
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	t.w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(t.w, "event: message\ndata: %s\n\n", b); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

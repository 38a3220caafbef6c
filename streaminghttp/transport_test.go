package streaminghttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mathpro-app/mathpro-mcp/internal/jsonrpc"
	"github.com/mathpro-app/mathpro-mcp/sessions"
	"github.com/mathpro-app/mathpro-mcp/streaminghttp"
)

// echoHandler answers requests with {"method": <method>} and swallows
// everything else.
type echoHandler struct {
	calls int
	err   error
}

func (e *echoHandler) HandleMessage(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if msg.Type() != jsonrpc.TypeRequest {
		return nil, nil
	}
	return jsonrpc.NewResultResponse(msg.ID, map[string]string{"method": msg.Method})
}

type exchange struct {
	method  string
	body    string
	headers map[string]string
}

func newRequest(ex exchange) *http.Request {
	method := ex.method
	if method == "" {
		method = http.MethodPost
	}
	req := httptest.NewRequest(method, "/mcp", strings.NewReader(ex.body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range ex.headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	return req
}

func serve(t *testing.T, h sessions.MessageHandler, ex exchange, opts ...streaminghttp.TransportOption) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	tr, err := streaminghttp.NewTransportFactory(opts...)(rec, newRequest(ex))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := tr.Connect(h); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return rec, tr.HandleRequest(context.Background())
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestTransport_Rejections(t *testing.T) {
	const ping = `{"jsonrpc":"2.0","id":1,"method":"ping"}`

	tests := []struct {
		name   string
		ex     exchange
		status int
	}{
		{"GET", exchange{method: http.MethodGet}, http.StatusMethodNotAllowed},
		{"DELETE", exchange{method: http.MethodDelete}, http.StatusMethodNotAllowed},
		{"text content type", exchange{body: ping, headers: map[string]string{"Content-Type": "text/plain"}}, http.StatusUnsupportedMediaType},
		{"missing content type", exchange{body: ping, headers: map[string]string{"Content-Type": ""}}, http.StatusUnsupportedMediaType},
		{"unknown protocol version", exchange{body: ping, headers: map[string]string{"Mcp-Protocol-Version": "1999-01-01"}}, http.StatusBadRequest},
		{"batch", exchange{body: "[" + ping + "]"}, http.StatusBadRequest},
		{"not acceptable", exchange{body: ping, headers: map[string]string{"Accept": "text/html"}}, http.StatusNotAcceptable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &echoHandler{}
			rec, err := serve(t, h, tt.ex)
			if err != nil {
				t.Fatalf("HandleRequest: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status: want %d got %d", tt.status, rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
			}
			if body.Error.Code != tt.status || body.Error.Message == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
			if h.calls != 0 {
				t.Fatalf("handler should not run, got %d calls", h.calls)
			}
		})
	}
}

func TestTransport_MethodNotAllowedAdvertisesPOST(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{method: http.MethodGet})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow: want POST got %q", got)
	}
}

func TestTransport_BodyTooLarge(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 256) + `"}}`
	rec, err := serve(t, &echoHandler{}, exchange{body: body}, streaminghttp.WithMaxBodyBytes(64))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: want 413 got %d", rec.Code)
	}
}

func TestTransport_MalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		code jsonrpc.ErrorCode
	}{
		{"invalid json", `{"jsonrpc":"2.0",`, jsonrpc.ErrorCodeParseError},
		{"empty body", ``, jsonrpc.ErrorCodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, jsonrpc.ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := serve(t, &echoHandler{}, exchange{body: tt.body})
			if err != nil {
				t.Fatalf("HandleRequest: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: want 400 got %d", rec.Code)
			}
			var res struct {
				ID    json.RawMessage `json:"id"`
				Error *jsonrpc.Error  `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if string(res.ID) != "null" {
				t.Fatalf("id: want null got %s", res.ID)
			}
			if res.Error == nil || res.Error.Code != tt.code {
				t.Fatalf("error: want code %d got %+v", tt.code, res.Error)
			}
		})
	}
}

func TestTransport_NotificationAccepted(t *testing.T) {
	h := &echoHandler{}
	rec, err := serve(t, h, exchange{body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want 202 got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
	if h.calls != 1 {
		t.Fatalf("handler calls: want 1 got %d", h.calls)
	}
}

func TestTransport_NotificationIgnoresAccept(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{
		body:    `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		headers: map[string]string{"Accept": "text/html"},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want 202 got %d", rec.Code)
	}
}

func TestTransport_JSONReply(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{
		body:    `{"jsonrpc":"2.0","id":"abc","method":"ping"}`,
		headers: map[string]string{"Mcp-Protocol-Version": "2025-06-18"},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type: %q", ct)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ID.String() != "abc" {
		t.Fatalf("id: want abc got %s", res.ID.String())
	}
	if string(res.Result) != `{"method":"ping"}` {
		t.Fatalf("result: %s", res.Result)
	}
}

func TestTransport_SSEReply(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{body: `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`}, streaminghttp.WithJSONResponse(false))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("cache control: %q", got)
	}

	var event, data string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != "message" {
		t.Fatalf("event: want message got %q", event)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		t.Fatalf("decode data %q: %v", data, err)
	}
	if string(res.Result) != `{"method":"tools/list"}` {
		t.Fatalf("result: %s", res.Result)
	}
}

func TestTransport_SSEModeFallsBackToJSON(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{
		body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		headers: map[string]string{"Accept": "application/json"},
	}, streaminghttp.WithJSONResponse(false))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type: %q", ct)
	}
}

func TestTransport_JSONModeFallsBackToSSE(t *testing.T) {
	rec, err := serve(t, &echoHandler{}, exchange{
		body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		headers: map[string]string{"Accept": "text/event-stream"},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}
}

func TestTransport_HandlerErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	rec, err := serve(t, &echoHandler{err: boom}, exchange{body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("nothing should be written")
	}
}

func TestTransport_Lifecycle(t *testing.T) {
	factory := streaminghttp.NewTransportFactory()

	t.Run("handle before connect", func(t *testing.T) {
		tr, err := factory(httptest.NewRecorder(), newRequest(exchange{body: `{}`}))
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if err := tr.HandleRequest(context.Background()); !errors.Is(err, streaminghttp.ErrNotConnected) {
			t.Fatalf("want ErrNotConnected, got %v", err)
		}
	})

	t.Run("connect twice", func(t *testing.T) {
		tr, err := factory(httptest.NewRecorder(), newRequest(exchange{body: `{}`}))
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if err := tr.Connect(&echoHandler{}); err != nil {
			t.Fatalf("first connect: %v", err)
		}
		if err := tr.Connect(&echoHandler{}); err == nil {
			t.Fatalf("second connect should fail")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		tr, err := factory(httptest.NewRecorder(), newRequest(exchange{body: `{}`}))
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if err := tr.Connect(nil); err == nil {
			t.Fatalf("nil handler should be rejected")
		}
	})

	t.Run("writes after close are refused", func(t *testing.T) {
		rec := httptest.NewRecorder()
		tr, err := factory(rec, newRequest(exchange{body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`}))
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if err := tr.Connect(&echoHandler{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		err = tr.HandleRequest(context.Background())
		if !errors.Is(err, streaminghttp.ErrTransportClosed) {
			t.Fatalf("want ErrTransportClosed, got %v", err)
		}
		if tr.Committed() {
			t.Fatalf("closed transport must not commit")
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("committed after reply", func(t *testing.T) {
		tr, err := factory(httptest.NewRecorder(), newRequest(exchange{body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`}))
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if err := tr.Connect(&echoHandler{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if tr.Committed() {
			t.Fatalf("should not be committed before handling")
		}
		if err := tr.HandleRequest(context.Background()); err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		if !tr.Committed() {
			t.Fatalf("should be committed after reply")
		}
	})

	t.Run("missing request", func(t *testing.T) {
		if _, err := factory(httptest.NewRecorder(), nil); err == nil {
			t.Fatalf("nil request should be rejected")
		}
	})
}

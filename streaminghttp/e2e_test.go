package streaminghttp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mathpro-app/mathpro-mcp/internal/engine"
	"github.com/mathpro-app/mathpro-mcp/internal/jsonrpc"
	"github.com/mathpro-app/mathpro-mcp/internal/mathpro"
	"github.com/mathpro-app/mathpro-mcp/internal/observability"
	"github.com/mathpro-app/mathpro-mcp/sessions"
	"github.com/mathpro-app/mathpro-mcp/streaminghttp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const widgetHTML = "<html><body>mathpro widget</body></html>"

func newStack(t *testing.T, metrics *observability.Metrics, opts ...streaminghttp.TransportOption) *httptest.Server {
	t.Helper()
	log := quietLogger()
	mgr := sessions.NewManager(
		mathpro.NewServerFactory(mathpro.NewWidget(widgetHTML), engine.WithLogger(log), engine.WithMetrics(metrics)),
		streaminghttp.NewTransportFactory(append([]streaminghttp.TransportOption{streaminghttp.WithTransportLogger(log)}, opts...)...),
		sessions.WithLogger(log),
		sessions.WithMetrics(metrics),
	)
	srv := httptest.NewServer(mustHandler(t, mgr))
	t.Cleanup(srv.Close)
	return srv
}

func postRPC(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+streaminghttp.DefaultMCPPath, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp, b
}

func TestEndToEnd_GoSDKClient(t *testing.T) {
	srv := newStack(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + streaminghttp.DefaultMCPPath}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != mathpro.ToolName {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      mathpro.ToolName,
		Arguments: map[string]any{"content": "x^2 + y^2 = z^2"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("unexpected call result: %+v", res)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok || text.Text != mathpro.RenderedMessage {
		t.Fatalf("unexpected content: %#v", res.Content[0])
	}

	lr, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(lr.Resources) != 1 || lr.Resources[0].URI != mathpro.WidgetURI {
		t.Fatalf("unexpected resources: %+v", lr.Resources)
	}

	rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: mathpro.WidgetURI})
	if err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
	if len(rr.Contents) != 1 || rr.Contents[0].Text != widgetHTML || rr.Contents[0].MIMEType != mathpro.WidgetMimeType {
		t.Fatalf("unexpected contents: %+v", rr.Contents)
	}
}

func TestEndToEnd_StatelessRequests(t *testing.T) {
	srv := newStack(t, nil)

	// No initialize: each request is served by a fresh server.
	resp, body := postRPC(t, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"render_handwriting","arguments":{"content":""}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: want 200 got %d: %s", resp.StatusCode, body)
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.Fatalf("stateless server must not issue session ids, got %q", sid)
	}
	var call struct {
		Result struct {
			IsError           bool `json:"isError"`
			StructuredContent struct {
				Content string `json:"content"`
				Error   string `json:"error"`
			} `json:"structuredContent"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if call.Result.IsError || call.Result.StructuredContent.Error != mathpro.EmptyContentError {
		t.Fatalf("unexpected empty-content result: %s", body)
	}
	if len(call.Result.Content) != 1 || call.Result.Content[0].Text != mathpro.EmptyContentMessage {
		t.Fatalf("unexpected text: %s", body)
	}
}

func TestEndToEnd_ProtocolErrors(t *testing.T) {
	srv := newStack(t, nil)
	tests := []struct {
		name string
		body string
		code jsonrpc.ErrorCode
	}{
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`, jsonrpc.ErrorCodeMethodNotFound},
		{"unknown tool", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`, jsonrpc.ErrorCodeInvalidParams},
		{"unknown resource", `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"ui://widget/other.html"}}`, jsonrpc.ErrorCodeResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postRPC(t, srv.URL, tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status: want 200 got %d", resp.StatusCode)
			}
			var res jsonrpc.Response
			if err := json.Unmarshal(body, &res); err != nil {
				t.Fatalf("decode %s: %v", body, err)
			}
			if res.Error == nil || res.Error.Code != tt.code {
				t.Fatalf("want error code %d, got %s", tt.code, body)
			}
		})
	}
}

func TestEndToEnd_SSEFraming(t *testing.T) {
	srv := newStack(t, nil, streaminghttp.WithJSONResponse(false))
	resp, body := postRPC(t, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.HasPrefix(string(body), "event: message\ndata: ") || !strings.HasSuffix(string(body), "\n\n") {
		t.Fatalf("unexpected frame %q", body)
	}
}

func TestEndToEnd_ConcurrentSessionsAreMetered(t *testing.T) {
	metrics := observability.NewMetrics()
	srv := newStack(t, metrics)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"render_handwriting","arguments":{"content":"n=%d"}}}`, i, i)
			req, _ := http.NewRequest(http.MethodPost, srv.URL+streaminghttp.DefaultMCPPath, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			var res jsonrpc.Response
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				errs <- err
				return
			}
			if res.Error != nil || res.ID.String() != fmt.Sprint(i) {
				errs <- fmt.Errorf("request %d: unexpected response %+v", i, res)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	scrape := rec.Body.String()
	for _, want := range []string{
		fmt.Sprintf(`mathpro_sessions_total{outcome="ok"} %d`, n),
		fmt.Sprintf(`mathpro_tool_calls_total{outcome="ok",tool="render_handwriting"} %d`, n),
		"mathpro_active_sessions 0",
	} {
		if !strings.Contains(scrape, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

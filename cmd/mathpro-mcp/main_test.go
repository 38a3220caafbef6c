package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mathpro-app/mathpro-mcp/internal/config"
	"github.com/mathpro-app/mathpro-mcp/internal/mathpro"
	"github.com/mathpro-app/mathpro-mcp/internal/observability"
	"github.com/mathpro-app/mathpro-mcp/streaminghttp"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got, want := strings.TrimSpace(out.String()), "mathpro-app 1.0.0"; got != want {
		t.Fatalf("version: want %q got %q", want, got)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"--port", "8080", "--log-format", "json", "--widget", "/srv/w.html"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Config{Port: 3000, LogLevel: "info", LogFormat: "text", WidgetPath: "mathpro-widget.html", Host: "127.0.0.1"}

	var f flags
	f.port, _ = cmd.Flags().GetInt("port")
	f.logFormat, _ = cmd.Flags().GetString("log-format")
	f.widget, _ = cmd.Flags().GetString("widget")
	if err := f.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Port != 8080 || cfg.LogFormat != "json" || cfg.WidgetPath != "/srv/w.html" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Host != "127.0.0.1" || cfg.LogLevel != "info" {
		t.Fatalf("unset flags must not override: %+v", cfg)
	}
}

func TestFlagsAreValidated(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"--port", "70000"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Config{Port: 3000, LogLevel: "info", LogFormat: "text"}
	f := flags{port: 70000}
	if err := f.apply(cmd, &cfg); err == nil {
		t.Fatalf("out of range port should fail validation")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, config.Config{LogLevel: "warn", LogFormat: "json"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, `"msg":"kept"`) {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := newLogger(&buf, config.Config{LogLevel: "loud", LogFormat: "text"}); err == nil {
		t.Fatalf("invalid level should fail")
	}
}

func TestNewHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.html")
	if err := os.WriteFile(path, []byte("<html>ok</html>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	log := slog.New(slog.DiscardHandler)

	tests := []struct {
		name         string
		widget       string
		wantFallback string
	}{
		{"widget found", path, "mathpro_widget_fallback 0"},
		{"widget missing", filepath.Join(dir, "missing.html"), "mathpro_widget_fallback 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics()
			h, err := newHandler(context.Background(), config.Config{WidgetPath: tt.widget, JSONResponse: true}, log, metrics)
			if err != nil {
				t.Fatalf("newHandler: %v", err)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusOK || rec.Body.String() != streaminghttp.HealthMessage {
				t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
			}

			req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"`+mathpro.WidgetURI+`"}}`))
			req.Header.Set("Content-Type", "application/json")
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("read: status %d", rec.Code)
			}

			scrape := httptest.NewRecorder()
			metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if !strings.Contains(scrape.Body.String(), tt.wantFallback) {
				t.Fatalf("scrape missing %q", tt.wantFallback)
			}
		})
	}
}

package mathpro

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mathpro-app/mathpro-mcp/mcp"
	"github.com/mathpro-app/mathpro-mcp/mcpservice"
)

const (
	WidgetURI      = "ui://widget/mathpro.html"
	WidgetName     = "mathpro-widget"
	WidgetMimeType = "text/html;profile=mcp-app"

	// DefaultWidgetPath is resolved against the working directory first.
	DefaultWidgetPath = "mathpro-widget.html"

	// FallbackHTML is served when no widget file could be read.
	FallbackHTML = "<html><body><p>MathPro widget loading error</p></body></html>"

	widgetDomain = "https://mathpro-app.vercel.app"
)

var (
	widgetResourceDomains = []string{
		"https://raw.githubusercontent.com",
		"https://cdn.jsdelivr.net",
		"https://cdnjs.cloudflare.com",
	}
	widgetConnectDomains = []string{
		"https://cdn.jsdelivr.net",
		"https://cdnjs.cloudflare.com",
	}
)

var errEmptyWidget = errors.New("widget file is empty")

// Widget is the HTML document served as the app's UI resource. It never
// changes after it is built.
type Widget struct {
	html     string
	source   string
	fallback bool
}

// NewWidget wraps html directly.
func NewWidget(html string) *Widget {
	return &Widget{html: html, source: "inline"}
}

func (w *Widget) HTML() string { return w.html }

// Source is the path the content came from, "inline" or "fallback".
func (w *Widget) Source() string { return w.source }

// Fallback reports whether the placeholder document is being served.
func (w *Widget) Fallback() bool { return w.fallback }

// WidgetCandidates returns the lookup chain for path: the working
// directory, then next to the executable and its parent directory. An
// absolute path is its own only candidate.
func WidgetCandidates(path string) []string {
	if path == "" {
		path = DefaultWidgetPath
	}
	if filepath.IsAbs(path) {
		return []string{path}
	}
	out := []string{path}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		out = append(out, filepath.Join(dir, path), filepath.Join(dir, "..", path))
	}
	return out
}

// LoadWidget reads the first usable candidate. Empty files are skipped. When
// every candidate fails the fallback document is returned; the failure is
// logged and never surfaces as an error.
func LoadWidget(log *slog.Logger, candidates ...string) *Widget {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var errs []error
	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if err == nil && len(strings.TrimSpace(string(b))) == 0 {
			err = errEmptyWidget
		}
		if err != nil {
			log.Debug("widget.load.miss", slog.String("path", p), slog.String("err", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		log.Info("widget.load.ok", slog.String("path", p), slog.Int("bytes", len(b)))
		return &Widget{html: string(b), source: p}
	}

	attrs := []any{slog.Any("candidates", candidates)}
	if err := errors.Join(errs...); err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	log.Error("widget.load.fallback", attrs...)
	return &Widget{html: FallbackHTML, source: "fallback", fallback: true}
}

// widgetMeta builds the _meta block describing how hosts should frame the
// widget. A new map is returned on each call.
func widgetMeta() map[string]any {
	return map[string]any{
		"ui": map[string]any{
			"prefersBorder": true,
			"domain":        widgetDomain,
			"csp": map[string]any{
				"resourceDomains": append([]string(nil), widgetResourceDomains...),
				"connectDomains":  append([]string(nil), widgetConnectDomains...),
			},
		},
	}
}

// Resource returns the widget as a static resource definition.
func (w *Widget) Resource() mcpservice.StaticResource {
	return mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:          WidgetURI,
			Name:         WidgetName,
			MimeType:     WidgetMimeType,
			BaseMetadata: mcp.BaseMetadata{Meta: widgetMeta()},
		},
		Contents: []mcp.ResourceContents{{
			URI:          WidgetURI,
			MimeType:     WidgetMimeType,
			Text:         w.html,
			BaseMetadata: mcp.BaseMetadata{Meta: widgetMeta()},
		}},
	}
}

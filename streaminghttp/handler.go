package streaminghttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mathpro-app/mathpro-mcp/auth"
	"github.com/mathpro-app/mathpro-mcp/internal/httperr"
	"github.com/mathpro-app/mathpro-mcp/internal/logctx"
	"github.com/mathpro-app/mathpro-mcp/internal/wellknown"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultMCPPath is where the MCP endpoint is mounted.
const DefaultMCPPath = "/mcp"

// HealthMessage is the body served at "/".
const HealthMessage = "MathPro MCP server is running"

const (
	corsAllowMethods  = "POST, GET, DELETE, OPTIONS"
	corsAllowHeaders  = "content-type, mcp-session-id"
	corsExposeHeaders = "Mcp-Session-Id"
)

var _ http.Handler = (*Handler)(nil)

// Option configures the Handler.
type Option func(*config)

type config struct {
	log       *slog.Logger
	mcpPath   string
	authn     auth.Authenticator
	prm       *wellknown.ProtectedResourceMetadata
	publicURL string
}

// WithLogger sets the logger. Records are decorated with request data.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMCPPath overrides DefaultMCPPath.
func WithMCPPath(p string) Option {
	return func(c *config) { c.mcpPath = p }
}

// WithAuthenticator requires a bearer token on every MCP exchange and
// serves prm as the protected resource metadata document.
func WithAuthenticator(a auth.Authenticator, prm wellknown.ProtectedResourceMetadata) Option {
	return func(c *config) {
		c.authn = a
		c.prm = &prm
	}
}

// WithPublicURL sets the externally visible MCP endpoint URL. It is used to
// build absolute resource_metadata links in auth challenges; without it the
// request's own host is used.
func WithPublicURL(u string) Option {
	return func(c *config) { c.publicURL = u }
}

// Handler is the HTTP surface of the MCP server.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	sessions http.Handler
	authn    auth.Authenticator
	prm      *wellknown.ProtectedResourceMetadata
	prmPath  string
	public   *url.URL
}

// New returns a Handler that delegates MCP exchanges to sessions.
func New(sessions http.Handler, opts ...Option) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("session handler is required")
	}
	cfg := &config{log: slog.Default(), mcpPath: DefaultMCPPath}
	for _, opt := range opts {
		opt(cfg)
	}
	if !strings.HasPrefix(cfg.mcpPath, "/") || cfg.mcpPath == "/" {
		return nil, fmt.Errorf("invalid MCP path %q", cfg.mcpPath)
	}

	h := &Handler{
		log:      slog.New(logctx.New(cfg.log.Handler())),
		sessions: sessions,
		authn:    cfg.authn,
		prm:      cfg.prm,
		prmPath:  wellknown.PathFor(cfg.mcpPath),
	}
	if cfg.publicURL != "" {
		u, err := url.Parse(cfg.publicURL)
		if err != nil {
			return nil, fmt.Errorf("invalid public URL %q: %w", cfg.publicURL, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return nil, fmt.Errorf("public URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
		}
		h.public = u
	}

	mux := http.NewServeMux()
	mux.HandleFunc("OPTIONS "+cfg.mcpPath, h.handleOptionsMCP)
	mux.HandleFunc("POST "+cfg.mcpPath, h.handleMCP)
	mux.HandleFunc("GET "+cfg.mcpPath, h.handleMCP)
	mux.HandleFunc("DELETE "+cfg.mcpPath, h.handleMCP)
	mux.HandleFunc("GET /{$}", h.handleHealth)
	if h.authn != nil {
		mux.HandleFunc("GET "+h.prmPath, h.handleGetProtectedResourceMetadata)
		mux.HandleFunc("OPTIONS "+h.prmPath, h.handleOptionsProtectedResourceMetadata)
	}
	// Catch-all so unmatched methods on known paths get 404 rather than 405.
	mux.HandleFunc("/", h.handleNotFound)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL == nil {
		httperr.Write(w, http.StatusBadRequest, "Missing URL")
		h.log.WarnContext(r.Context(), "http.url.missing")
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)
	// GET patterns also match HEAD; no route serves HEAD.
	if r.Method == http.MethodHead {
		h.handleNotFound(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleOptionsMCP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", corsAllowMethods)
	hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	hdr.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)

	if h.authn != nil {
		userInfo, err := h.checkAuthentication(r)
		if err != nil {
			ch := auth.ChallengeFor(err, h.resourceMetadataURL(r))
			if ch.Status == http.StatusInternalServerError {
				h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
				httperr.Write(w, ch.Status, "Internal server error")
				return
			}
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()), slog.Int("status", ch.Status))
			w.Header().Add("WWW-Authenticate", ch.Header)
			w.WriteHeader(ch.Status)
			return
		}
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{UserID: userInfo.UserID()})
		h.log.DebugContext(ctx, "auth.ok")
		r = r.WithContext(ctx)
	}

	h.sessions.ServeHTTP(w, r)
}

func (h *Handler) checkAuthentication(r *http.Request) (auth.UserInfo, error) {
	tok, err := auth.BearerToken(r)
	if err != nil {
		return nil, err
	}
	return h.authn.CheckAuthentication(r.Context(), tok)
}

// resourceMetadataURL returns the absolute metadata URL advertised in
// challenges.
func (h *Handler) resourceMetadataURL(r *http.Request) string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: h.prmPath}
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if h.public != nil {
		u.Scheme, u.Host = h.public.Scheme, h.public.Host
	}
	return u.String()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(HealthMessage))
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.log.DebugContext(r.Context(), "http.route.miss")
	httperr.Write(w, http.StatusNotFound, "Not found")
}

func (h *Handler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the RFC 9728 document.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prm); err != nil {
		h.log.ErrorContext(r.Context(), "prm.encode.fail", slog.String("err", err.Error()))
	}
}

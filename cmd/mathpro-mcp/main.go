// Command mathpro-mcp serves the MathPro widget and render_handwriting tool
// over stateless streamable HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mathpro-app/mathpro-mcp/auth"
	"github.com/mathpro-app/mathpro-mcp/internal/config"
	"github.com/mathpro-app/mathpro-mcp/internal/engine"
	"github.com/mathpro-app/mathpro-mcp/internal/logctx"
	"github.com/mathpro-app/mathpro-mcp/internal/mathpro"
	"github.com/mathpro-app/mathpro-mcp/internal/observability"
	"github.com/mathpro-app/mathpro-mcp/sessions"
	"github.com/mathpro-app/mathpro-mcp/streaminghttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	port        int
	host        string
	widget      string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:          "mathpro-mcp",
		Short:        "MathPro MCP server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			log, err := newLogger(logOut, cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	fl := root.Flags()
	fl.IntVar(&f.port, "port", 0, "port to listen on (overrides PORT)")
	fl.StringVar(&f.host, "host", "", "interface to bind (overrides HOST)")
	fl.StringVar(&f.widget, "widget", "", "widget HTML file (overrides MATHPRO_WIDGET_PATH)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	fl.StringVar(&f.logFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides METRICS_ADDR)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mathpro.ServerName, mathpro.ServerVersion)
		},
	})
	return root
}

// apply overrides cfg with the flags that were set explicitly.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("port") {
		cfg.Port = f.port
	}
	if fl.Changed("host") {
		cfg.Host = f.host
	}
	if fl.Changed("widget") {
		cfg.WidgetPath = f.widget
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fl.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg.Validate()
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.New(h)), nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    mathpro.ServerName,
		ServiceVersion: mathpro.ServerVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing.shutdown.fail", slog.String("err", err.Error()))
		}
	}()

	metrics := observability.NewMetrics()
	handler, err := newHandler(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	servers := []*http.Server{{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	for _, srv := range servers {
		g.Go(func() error {
			log.Info("http.listen", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("http.shutdown", slog.Duration("timeout", cfg.ShutdownTimeout))
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// newHandler wires the widget, the per-request session manager and the HTTP
// surface.
func newHandler(ctx context.Context, cfg config.Config, log *slog.Logger, metrics *observability.Metrics) (http.Handler, error) {
	widget := mathpro.LoadWidget(log, mathpro.WidgetCandidates(cfg.WidgetPath)...)
	metrics.SetWidgetFallback(widget.Fallback())

	mgr := sessions.NewManager(
		mathpro.NewServerFactory(widget, engine.WithLogger(log), engine.WithMetrics(metrics)),
		streaminghttp.NewTransportFactory(
			streaminghttp.WithJSONResponse(cfg.JSONResponse),
			streaminghttp.WithTransportLogger(log),
		),
		sessions.WithLogger(log),
		sessions.WithMetrics(metrics),
	)

	opts := []streaminghttp.Option{streaminghttp.WithLogger(log)}
	if cfg.PublicURL != "" {
		opts = append(opts, streaminghttp.WithPublicURL(cfg.PublicURL))
	}
	if cfg.AuthEnabled() {
		authn, err := auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.AuthAudience,
			auth.WithRequiredScopes(cfg.RequiredScopes()...),
		)
		if err != nil {
			return nil, fmt.Errorf("configure auth: %w", err)
		}
		log.Info("auth.enabled", slog.String("issuer", cfg.AuthIssuer), slog.String("audience", cfg.AuthAudience))
		opts = append(opts, streaminghttp.WithAuthenticator(authn, authn.ProtectedResourceMetadata(mathpro.ServerName)))
	}
	return streaminghttp.New(mgr, opts...)
}

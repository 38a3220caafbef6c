// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every setting of the server. Defaults are given by the env
// struct tags.
type Config struct {
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=3000"`
	// Host to bind; empty means all interfaces. ENV: HOST
	Host string `env:"HOST"`
	// WidgetPath is the widget HTML file. ENV: MATHPRO_WIDGET_PATH
	WidgetPath string `env:"MATHPRO_WIDGET_PATH,default=mathpro-widget.html"`
	// JSONResponse answers with application/json instead of SSE. ENV: MCP_JSON_RESPONSE
	JSONResponse bool `env:"MCP_JSON_RESPONSE,default=true"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// MetricsAddr serves /metrics on a separate listener when set. ENV: METRICS_ADDR
	MetricsAddr string `env:"METRICS_ADDR"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE,default=false"`

	// AuthIssuer turns on bearer auth when set. ENV: MCP_AUTH_ISSUER
	AuthIssuer      string        `env:"MCP_AUTH_ISSUER"`
	AuthAudience    string        `env:"MCP_AUTH_AUDIENCE"`
	AuthScopes      string        `env:"MCP_AUTH_REQUIRED_SCOPES"`
	PublicURL       string        `env:"MCP_PUBLIC_URL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		return errors.New("config: MCP_AUTH_AUDIENCE is required when MCP_AUTH_ISSUER is set")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: negative shutdown timeout %s", c.ShutdownTimeout)
	}
	return nil
}

// ListenAddr is the MCP listener address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

// AuthEnabled reports whether bearer auth is configured.
func (c Config) AuthEnabled() bool { return c.AuthIssuer != "" }

// RequiredScopes splits AuthScopes on spaces and commas.
func (c Config) RequiredScopes() []string {
	return strings.FieldsFunc(c.AuthScopes, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

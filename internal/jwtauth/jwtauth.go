// Package jwtauth verifies RFC 9068 JWT access tokens against an issuer
// located through OpenID Connect discovery.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized means the token failed signature, issuer, audience, type or
// time validation.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope means the token was valid but lacked a required scope.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation.
type Config struct {
	Issuer         string
	Audience       string
	RequiredScopes []string
	AllowedAlgs    []string
	Leeway         time.Duration
}

// DefaultConfig returns a Config accepting RS256 with a minute of clock skew.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Principal is the subject and raw claims of a verified token.
type Principal struct {
	sub    string
	claims jwt.MapClaims
}

func (p *Principal) UserID() string { return p.sub }

// Claims decodes the token claims into ref.
func (p *Principal) Claims(ref any) error {
	b, err := json.Marshal(p.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier validates access tokens. It is safe for concurrent use.
type Verifier struct {
	cfg     Config
	iss     string
	jwksURI string
	scopes  []string
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery fetches the issuer's discovery document, then builds a
// Verifier backed by an auto-refreshing JWKS.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string   `json:"issuer"`
		JwksURI string   `json:"jwks_uri"`
		Scopes  []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newVerifier(*cfg, meta.Issuer, meta.JwksURI, meta.Scopes, kf.Keyfunc), nil
}

func newVerifier(cfg Config, iss, jwksURI string, scopes []string, kf jwt.Keyfunc) *Verifier {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	cfg.RequiredScopes = slices.Clone(cfg.RequiredScopes)
	return &Verifier{
		cfg:     cfg,
		iss:     iss,
		jwksURI: jwksURI,
		scopes:  slices.Clone(scopes),
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf(t)
		},
	}
}

// Issuer returns the issuer reported by discovery.
func (v *Verifier) Issuer() string { return v.iss }

// JWKSURI returns the key set location reported by discovery.
func (v *Verifier) JWKSURI() string { return v.jwksURI }

// ScopesSupported returns the required scopes when configured, else the
// scopes the issuer advertises.
func (v *Verifier) ScopesSupported() []string {
	if len(v.cfg.RequiredScopes) > 0 {
		return slices.Clone(v.cfg.RequiredScopes)
	}
	return slices.Clone(v.scopes)
}

// Verify checks tok and returns the principal it names.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Principal, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.iss),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrUnauthorized)
	}

	if iatf, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatf), 0)
		if iat.After(time.Now().Add(v.cfg.Leeway + 5*time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	if len(v.cfg.RequiredScopes) > 0 {
		scopeStr, _ := claims["scope"].(string)
		have := strings.Fields(scopeStr)
		for _, want := range v.cfg.RequiredScopes {
			if !slices.Contains(have, want) {
				return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, want)
			}
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &Principal{sub: sub, claims: claims}, nil
}

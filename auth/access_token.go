package auth

import (
	"context"
	"errors"
	"time"

	"github.com/mathpro-app/mathpro-mcp/internal/jwtauth"
	"github.com/mathpro-app/mathpro-mcp/internal/wellknown"
)

// AccessTokenAuthOption configures NewFromDiscovery.
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of scopes in the token's "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// AccessTokenAuthenticator verifies JWT access tokens issued by a single
// authorization server.
type AccessTokenAuthenticator struct {
	v        *jwtauth.Verifier
	audience string
}

// NewFromDiscovery returns an Authenticator for tokens issued by issuer and
// addressed to audience, typically the public MCP endpoint URL.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenAuthOption) (*AccessTokenAuthenticator, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audience = audience
	for _, opt := range opts {
		opt(cfg)
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AccessTokenAuthenticator{v: v, audience: audience}, nil
}

func (a *AccessTokenAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	p, err := a.v.Verify(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return p, nil
}

// ProtectedResourceMetadata describes the protected MCP endpoint for
// RFC 9728 discovery.
func (a *AccessTokenAuthenticator) ProtectedResourceMetadata(resourceName string) wellknown.ProtectedResourceMetadata {
	return wellknown.ProtectedResourceMetadata{
		Resource:               a.audience,
		AuthorizationServers:   []string{a.v.Issuer()},
		JwksURI:                a.v.JWKSURI(),
		ScopesSupported:        a.v.ScopesSupported(),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           resourceName,
	}
}

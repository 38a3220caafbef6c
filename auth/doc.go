// Package auth provides the optional bearer token gate in front of the MCP
// endpoint. MathPro runs unauthenticated by default; when an issuer is
// configured every /mcp request must carry an RFC 9068 access token.
//
// An Authenticator validates a bearer token string and returns a UserInfo
// or an error. The transport extracts the token with BearerToken and turns
// failures into RFC 6750 challenges with ChallengeFor.
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://mathpro.example/mcp",
//	    auth.WithRequiredScopes("mcp:use"),
//	)
//	if err != nil { log.Fatal(err) }
//
//	tok, err := auth.BearerToken(r)
//	if err == nil {
//	    _, err = authn.CheckAuthentication(r.Context(), tok)
//	}
//	if err != nil {
//	    ch := auth.ChallengeFor(err, prmURL)
//	    w.Header().Set("WWW-Authenticate", ch.Header)
//	    w.WriteHeader(ch.Status)
//	}
//
// # Errors
//
// ErrMissingCredentials and ErrMalformedCredentials describe the request
// itself. ErrUnauthorized signals an invalid token and ErrInsufficientScope
// a valid token missing a required scope.
package auth

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Challenge is the HTTP status and WWW-Authenticate value for a rejected
// request. Header is empty when no challenge applies.
type Challenge struct {
	Status int
	Header string
}

// BearerToken extracts the bearer credential from r.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingCredentials
	}
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", ErrMalformedCredentials
	}
	tok := strings.TrimSpace(h[len(prefix):])
	if tok == "" {
		return "", ErrMalformedCredentials
	}
	return tok, nil
}

// ChallengeFor maps an authentication error to an RFC 6750 response. A
// request without credentials gets a bare challenge with no error code.
func ChallengeFor(err error, resourceMetadata string) Challenge {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return Challenge{Status: http.StatusUnauthorized, Header: bearerChallenge(resourceMetadata, "", "")}
	case errors.Is(err, ErrMalformedCredentials):
		return Challenge{Status: http.StatusBadRequest, Header: bearerChallenge(resourceMetadata, "invalid_request", err.Error())}
	case errors.Is(err, ErrInsufficientScope):
		return Challenge{Status: http.StatusForbidden, Header: bearerChallenge(resourceMetadata, "insufficient_scope", "insufficient scope")}
	case errors.Is(err, ErrUnauthorized):
		return Challenge{Status: http.StatusUnauthorized, Header: bearerChallenge(resourceMetadata, "invalid_token", "invalid access token")}
	default:
		return Challenge{Status: http.StatusInternalServerError}
	}
}

func bearerChallenge(resourceMetadata, code, desc string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if code != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(code)))
	}
	if desc != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(desc)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredentials means the request had no Authorization header.
	ErrMissingCredentials = errors.New("no authorization header")
	// ErrMalformedCredentials means the Authorization header was not a usable
	// bearer credential.
	ErrMalformedCredentials = errors.New("malformed bearer authorization header")
	// ErrUnauthorized indicates authentication failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// UserInfo represents an authenticated principal.
type UserInfo interface {
	UserID() string
	// Claims unmarshals the principal's claims into ref.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

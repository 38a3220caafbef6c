// Package authtest provides an in-memory Authenticator for tests.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mathpro-app/mathpro-mcp/auth"
)

// Tokens maps bearer tokens to user IDs. Tokens listed in Scopeless
// authenticate but fail the scope check.
type Tokens struct {
	Users     map[string]string
	Scopeless map[string]bool
}

// CheckAuthentication implements auth.Authenticator.
func (t Tokens) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := t.Users[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	if t.Scopeless[tok] {
		return nil, fmt.Errorf("%w: no scopes", auth.ErrInsufficientScope)
	}
	return user(uid), nil
}

type user string

func (u user) UserID() string { return string(u) }

func (u user) Claims(ref any) error {
	b, err := json.Marshal(map[string]string{"sub": string(u)})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

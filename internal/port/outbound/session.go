package outbound

import (
	"context"
	"errors"

	"github.com/pagegate/pagegate/internal/domain/permission"
)

// ErrSessionInvalid is returned when a session token is unknown, expired,
// or otherwise unusable. Callers treat the request as anonymous.
var ErrSessionInvalid = errors.New("session invalid")

// SessionValidator resolves a session cookie value to the identity behind
// it. Session issuance lives in the control plane; the serving plane only
// validates.
type SessionValidator interface {
	// Validate returns the identity for token, or ErrSessionInvalid.
	Validate(ctx context.Context, token string) (*permission.AuthContext, error)
}

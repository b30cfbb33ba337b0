package memory

import (
	"context"
	"sync"

	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// SessionValidator implements outbound.SessionValidator over a static
// token table, for tests and single-node dev setups.
type SessionValidator struct {
	tokens map[string]permission.AuthContext
	mu     sync.RWMutex
}

// NewSessionValidator creates an empty validator; every token is invalid
// until granted.
func NewSessionValidator() *SessionValidator {
	return &SessionValidator{tokens: make(map[string]permission.AuthContext)}
}

// Grant binds a token to an identity.
func (v *SessionValidator) Grant(token string, auth permission.AuthContext) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tokens[token] = auth
}

// Revoke removes a token.
func (v *SessionValidator) Revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.tokens, token)
}

// Validate resolves a granted token, or outbound.ErrSessionInvalid.
func (v *SessionValidator) Validate(ctx context.Context, token string) (*permission.AuthContext, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	auth, ok := v.tokens[token]
	if !ok {
		return nil, outbound.ErrSessionInvalid
	}
	out := auth
	return &out, nil
}

var _ outbound.SessionValidator = (*SessionValidator)(nil)

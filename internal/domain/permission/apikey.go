package permission

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// keyPrefix marks PageGate API keys so leaked secrets are greppable.
const keyPrefix = "pgk_"

// fingerprintLen is the hex length of the lookup fingerprint. 48 bits keeps
// collisions implausible at realistic key counts while staying O(1) to
// find; the argon2id hash still decides.
const fingerprintLen = 12

// argon2idParams follows the OWASP minimum configuration.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// APIKey authenticates deploy tooling for exactly one project. The secret
// is shown once at mint time; only its fingerprint and slow hash persist.
type APIKey struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Name        string
	Fingerprint string
	Hash        string
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// KeyStore persists API keys.
type KeyStore interface {
	// GetByFingerprint returns candidate keys sharing a fingerprint, or
	// ErrKeyNotFound when none exist.
	GetByFingerprint(ctx context.Context, fp string) ([]*APIKey, error)

	// ListByProject returns a project's keys ordered by creation time.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*APIKey, error)

	// Create persists a new key.
	Create(ctx context.Context, k *APIKey) error

	// TouchLastUsed records a successful verification.
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	// Delete revokes one key.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Fingerprint derives the short lookup digest of a secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// MintKey generates a fresh secret and its persistable record. The
// returned secret is the only copy; callers must surface it immediately.
func MintKey(projectID uuid.UUID, name string) (secret string, key *APIKey, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate key material: %w", err)
	}
	secret = keyPrefix + hex.EncodeToString(raw)

	hash, err := argon2id.CreateHash(secret, argon2idParams)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}
	return secret, &APIKey{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Name:        name,
		Fingerprint: Fingerprint(secret),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// VerifySecret resolves a presented secret to its key: fingerprint lookup
// narrows to a handful of candidates, then the argon2id comparison decides.
// Returns ErrInvalidKey when nothing matches.
func VerifySecret(ctx context.Context, store KeyStore, secret string) (*APIKey, error) {
	if !strings.HasPrefix(secret, keyPrefix) {
		return nil, ErrInvalidKey
	}
	candidates, err := store.GetByFingerprint(ctx, Fingerprint(secret))
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, k := range candidates {
		match, verifyErr := argon2id.ComparePasswordAndHash(secret, k.Hash)
		if verifyErr != nil {
			continue
		}
		if match {
			return k, nil
		}
	}
	return nil, ErrInvalidKey
}

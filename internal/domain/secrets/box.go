// Package secrets encrypts proxy-rule header values at rest. The wire
// format is hex(iv) ":" hex(tag) ":" hex(ciphertext) with a 12-byte nonce
// and a 16-byte GCM tag, so rows stay greppable and portable across
// runtimes that split tag from ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
)

// Sentinel errors for callers that branch on decryption failure.
var (
	// ErrBadKey is returned when the key material has the wrong length.
	ErrBadKey = errors.New("encryption key must be 32 bytes")
	// ErrMalformed is returned when a ciphertext does not parse as
	// hex(iv):hex(tag):hex(ct).
	ErrMalformed = errors.New("malformed ciphertext")
	// ErrDecrypt is returned when authentication fails.
	ErrDecrypt = errors.New("decryption failed")
)

// Box seals and opens short strings with AES-256-GCM. Safe for concurrent
// use.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from raw key material.
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// NewBoxFromBase64 creates a Box from a base64-encoded key, the form the
// ENCRYPTION_KEY environment variable carries.
func NewBoxFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewBox(key)
}

// Seal encrypts plain under a fresh random nonce.
func (b *Box) Seal(plain string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nil, nonce, []byte(plain), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Open decrypts a sealed value. ErrMalformed distinguishes plaintext dev
// data (pass it through) from ErrDecrypt tampering (do not).
func (b *Box) Open(sealed string) (string, error) {
	nonce, tag, ct, err := split(sealed)
	if err != nil {
		return "", err
	}
	plain, err := b.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// IsSealed reports whether s parses as the sealed wire format, without
// attempting decryption.
func IsSealed(s string) bool {
	_, _, _, err := split(s)
	return err == nil
}

func split(sealed string) (nonce, tag, ct []byte, err error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return nil, nil, nil, ErrMalformed
	}
	nonce, err = hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, ErrMalformed
	}
	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, nil, ErrMalformed
	}
	ct, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, ErrMalformed
	}
	return nonce, tag, ct, nil
}

// GenerateKey returns a fresh base64-encoded AES-256 key, used by the
// keygen command.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id fields.
type LoggerKey struct{}

// RequestIDKey is the context key type for the correlation id assigned to
// every inbound serving request.
type RequestIDKey struct{}

// AuthKey is the context key type for the resolved AuthContext of the caller.
// Stored by the session middleware, read by the visibility checks.
type AuthKey struct{}

// ClientIPKey is the context key type for the client address extracted
// from X-Forwarded-For or the peer address. Used by the form rate limiter.
type ClientIPKey struct{}

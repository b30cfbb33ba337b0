// Package inbound defines the inbound port interfaces for the serving
// plane. Inbound adapters (the public web server, the admin API) are
// started and stopped through these.
package inbound

import "context"

// Server is the inbound port for request-serving adapters.
type Server interface {
	// Start begins serving. Blocks until the context is cancelled or a
	// fatal listener error occurs. Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Shutdown drains in-flight requests within the context deadline.
	Shutdown(ctx context.Context) error
}

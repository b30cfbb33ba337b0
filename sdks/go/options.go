package pagegate

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the PageGate server address.
// If not set, defaults to the PAGEGATE_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithAPIKey sets the API key for authenticating with the PageGate server.
// If not set, defaults to the PAGEGATE_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout.
// If not set, defaults to the PAGEGATE_TIMEOUT environment variable or 30s.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetry sets how many times a failed request is reattempted and the
// wait between attempts. Retries cover connection failures, rate
// limiting, and transient upstream statuses. A max of zero disables
// retries.
func WithRetry(max int, wait time.Duration) Option {
	return func(c *Client) {
		c.retryMax = max
		c.retryWait = wait
	}
}

// WithHTTPClient sets a custom HTTP client to use for requests.
// This overrides the timeout setting.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger used for retry diagnostics.
// If not set, defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

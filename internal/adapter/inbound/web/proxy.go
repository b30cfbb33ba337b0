package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/secrets"
)

// hopByHopHeaders are stripped from proxied responses. Content-Encoding
// and Content-Length go with them: the transport already decompressed the
// body, so both would lie to the downstream.
var hopByHopHeaders = []string{
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Upgrade",
}

// safeForwardHeaders is the inbound allowlist. Everything else is dropped
// unless the rule's forward list names it; Cookie rides only with
// forwardCookies.
var safeForwardHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"User-Agent",
	"X-Request-Id",
}

// Forwarder is the external proxy engine. Outbound connections dial
// through the SSRF guard so a rebinding resolver cannot swap a vetted
// target for an internal address.
type Forwarder struct {
	client  *http.Client
	box     *secrets.Box
	metrics *Metrics
	logger  *slog.Logger
}

// NewForwarder builds the proxy engine. box may be nil when no encryption
// key is configured; sealed header values then pass through verbatim.
func NewForwarder(guard *proxyrule.Guard, box *secrets.Box, metrics *Metrics, logger *slog.Logger) *Forwarder {
	transport := &http.Transport{
		DialContext:           guard.DialContext(),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects pass through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		box:     box,
		metrics: metrics,
		logger:  logger,
	}
}

// Forward sends the request to the rule's target and streams the response
// back. The rule's timeout bounds the whole exchange: 504 on deadline,
// 502 on any other transport failure.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, rule *proxyrule.CompiledRule, subpath string) {
	upstreamURL := rule.UpstreamURL("/"+subpath, r.URL.RawQuery)

	ctx, cancel := context.WithTimeout(r.Context(), rule.Timeout())
	defer cancel()

	var body io.Reader
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		// No body.
	default:
		body = r.Body
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, body)
	if err != nil {
		LoggerFromContext(r.Context()).Error("proxy request build failed", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "upstream_failure", "could not build upstream request")
		return
	}

	outReq.Header = f.assembleHeaders(r, rule)
	if rule.PreserveHost {
		outReq.Host = r.Host
	}

	resp, err := f.client.Do(outReq)
	if err != nil {
		f.writeUpstreamError(w, r, rule, err)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client disconnects and upstream aborts land here; headers are
		// already committed either way.
		LoggerFromContext(r.Context()).Debug("proxy stream interrupted", "error", err, "url", upstreamURL)
	}
}

// assembleHeaders builds the outbound header set: safe allowlist, rule
// forward extensions, strip list, decrypted add map, then the forwarding
// trail. Content-Length never crosses; the client recomputes it.
func (f *Forwarder) assembleHeaders(r *http.Request, rule *proxyrule.CompiledRule) http.Header {
	out := make(http.Header, len(safeForwardHeaders)+len(rule.Headers.Add)+4)

	copyInbound := func(name string) {
		for _, v := range r.Header.Values(name) {
			out.Add(name, v)
		}
	}
	for _, name := range safeForwardHeaders {
		copyInbound(name)
	}
	if rule.ForwardCookies {
		copyInbound("Cookie")
	}
	for _, name := range rule.Headers.Forward {
		if out.Get(name) == "" {
			copyInbound(name)
		}
	}

	for _, name := range rule.Headers.Strip {
		out.Del(name)
	}

	for name, value := range rule.Headers.Add {
		out.Set(name, f.openHeaderValue(value))
	}

	out.Del("Content-Length")

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		out.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		out.Set("X-Forwarded-For", clientIP)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	out.Set("X-Forwarded-Proto", proto)
	out.Set("X-Forwarded-Host", r.Host)

	if at := rule.AuthTransform; at != nil && at.Kind == proxyrule.AuthTransformCookieToBearer {
		if c, err := r.Cookie(at.CookieName); err == nil && c.Value != "" {
			out.Set("Authorization", "Bearer "+c.Value)
		}
	}

	return out
}

// openHeaderValue decrypts a sealed add-map value. Decryption failures
// pass the stored literal through so dev-era plaintext keeps working.
func (f *Forwarder) openHeaderValue(value string) string {
	if f.box == nil || !secrets.IsSealed(value) {
		return value
	}
	plain, err := f.box.Open(value)
	if err != nil {
		f.logger.Warn("header value decryption failed, passing literal through", "error", err)
		return value
	}
	return plain
}

func (f *Forwarder) writeUpstreamError(w http.ResponseWriter, r *http.Request, rule *proxyrule.CompiledRule, err error) {
	if r.Context().Err() != nil {
		// The client went away; nothing useful can be written.
		LoggerFromContext(r.Context()).Debug("proxy cancelled by client", "error", err)
		return
	}

	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		f.metrics.UpstreamErrors.WithLabelValues("timeout").Inc()
		LoggerFromContext(r.Context()).Warn("proxy upstream timed out",
			"target", rule.TargetURL,
			"timeout", rule.Timeout(),
		)
		writeJSONError(w, http.StatusGatewayTimeout, "upstream_timeout", "upstream did not answer in time")
		return
	}

	f.metrics.UpstreamErrors.WithLabelValues("failure").Inc()
	LoggerFromContext(r.Context()).Error("proxy upstream failed",
		"error", err,
		"target", rule.TargetURL,
	)
	writeJSONError(w, http.StatusBadGateway, "upstream_failure", "upstream unreachable")
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
	dst.Del("Content-Encoding")
	dst.Del("Content-Length")
}

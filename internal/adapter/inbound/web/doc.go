// Package web is the public serving plane: it turns routing decisions
// into streamed assets, redirects, proxied upstream calls, and form
// submissions, and owns the HTTP middleware, health, and metrics
// endpoints of the serving listener.
package web

package admin

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/permission"
)

// apiKeyContextKey carries the verified API key through the request.
type apiKeyContextKey struct{}

// isLoopback reports whether the request arrived over a loopback
// connection. X-Forwarded-For is deliberately ignored here: the peer
// address is the only thing an external caller cannot forge.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerSecret extracts the API key secret from the Authorization header.
func bearerSecret(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// authMiddleware admits loopback operators unconditionally and remote
// callers only with a valid project API key presented as a bearer token.
// Verified keys land in the request context; handlers scope project
// resources through authorizeProject.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r) {
			next.ServeHTTP(w, r)
			return
		}

		secret := bearerSecret(r)
		if secret == "" || h.keys == nil {
			h.respondError(w, http.StatusUnauthorized, "unauthorized", "admin API requires an API key or loopback access")
			return
		}

		key, err := permission.VerifySecret(r.Context(), h.keys, secret)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}

		if err := h.keys.TouchLastUsed(r.Context(), key.ID, h.clock.Now().UTC()); err != nil {
			h.logger.Warn("failed to record key use", "key_id", key.ID, "error", err)
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// keyFromContext returns the verified API key, or nil for loopback
// operators. The middleware guarantees one of the two.
func keyFromContext(ctx context.Context) *permission.APIKey {
	key, _ := ctx.Value(apiKeyContextKey{}).(*permission.APIKey)
	return key
}

// authorizeProject reports whether the caller may touch the project.
// Operators may touch everything; keyed callers only their own project.
func authorizeProject(r *http.Request, projectID uuid.UUID) bool {
	key := keyFromContext(r.Context())
	return key == nil || key.ProjectID == projectID
}

// requireProject answers 404 for projects outside the caller's scope, so
// foreign resources are indistinguishable from absent ones.
func (h *Handler) requireProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) bool {
	if authorizeProject(r, projectID) {
		return true
	}
	h.respondError(w, http.StatusNotFound, "not_found", "project not found")
	return false
}

// requireOperator gates endpoints that manage tenancy itself: project
// creation and deletion, and key minting and revocation.
func (h *Handler) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if keyFromContext(r.Context()) == nil {
		return true
	}
	h.respondError(w, http.StatusForbidden, "forbidden", "operator access required")
	return false
}

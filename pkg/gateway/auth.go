package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/harun/workbench/internal/observability"
)

// APIKeyHeader carries the gateway API key.
const APIKeyHeader = "X-API-Key"

// apiKeyQueryParam lets browser WebSocket clients, which cannot set headers,
// authenticate the stream endpoint.
const apiKeyQueryParam = "api_key"

// APIKeyAuth checks request API keys.
type APIKeyAuth struct {
	key          string
	publicAccess bool
}

// NewAPIKeyAuth creates an authenticator. With publicAccess set every
// request is allowed.
func NewAPIKeyAuth(key string, publicAccess bool) *APIKeyAuth {
	return &APIKeyAuth{key: key, publicAccess: publicAccess}
}

// Verify compares a presented key with the configured one in constant time.
func (a *APIKeyAuth) Verify(presented string) bool {
	if a.publicAccess {
		return true
	}
	if a.key == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.key), []byte(presented)) == 1
}

// Authorize reports whether r may proceed.
func (a *APIKeyAuth) Authorize(r *http.Request, allowQuery bool) bool {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" && allowQuery {
		presented = r.URL.Query().Get(apiKeyQueryParam)
	}
	return a.Verify(presented)
}

// Require wraps next with the API key check.
func (a *APIKeyAuth) Require(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r, allowQuery) {
			observability.RecordSecurityAudit(r.Context(), "gateway.auth", clientKey(r), "denied", map[string]any{
				"path": r.URL.Path,
			})
			writeError(w, http.StatusUnauthorized, "API key is required")
			return
		}
		next(w, r)
	}
}

// fingerprint returns a short, non-reversible label for an API key.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"threatmesh/internal/config"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// ContextKeyActorHash is the context key for the caller identity hash
	ContextKeyActorHash ContextKey = "actor_hash"
)

// APIKeyAuth validates the X-API-Key header against the configured
// SHA-256 digests. Only the digest of the presented key is compared
// and retained, so raw keys never touch logs or storage. The first 16
// hex characters become the caller's actor hash for auditing.
func APIKeyAuth(cfg config.AuthConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight carries no credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
				return
			}

			sum := sha256.Sum256([]byte(key))
			digest := hex.EncodeToString(sum[:])

			valid := false
			for _, h := range cfg.APIKeyHashes {
				if subtle.ConstantTimeCompare([]byte(digest), []byte(h)) == 1 {
					valid = true
				}
			}
			if !valid {
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyActorHash, digest[:16])
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActorHash returns the caller identity hash from context
func GetActorHash(ctx context.Context) string {
	if h, ok := ctx.Value(ContextKeyActorHash).(string); ok {
		return h
	}
	return ""
}

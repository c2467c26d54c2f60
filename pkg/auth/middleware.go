// Package auth provides authentication and authorization middleware.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/avasiliu/tradegate/pkg/types"
)

type contextKey string

const deskKey contextKey = "desk"

// DeskFromContext extracts the authenticated desk from the context.
func DeskFromContext(ctx context.Context) string {
	v, _ := ctx.Value(deskKey).(string)
	return v
}

// APIKeyAuth returns middleware that validates API keys and sets desk context.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	skipPaths := map[string]bool{
		"/healthz": true,
		"/readyz":  true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				// Also check Authorization: Bearer
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}

			desk, ok := keys.Lookup(apiKey)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), deskKey, desk)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

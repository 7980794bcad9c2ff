package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"danmakuoverlay/core/backend/service/auth"
	"danmakuoverlay/core/backend/store"
)

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

func APIKeyFromContext(ctx context.Context) *store.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*store.APIKey)
	return key
}

// AuthRequired guards apiBase routes with X-API-Key when required reports
// true. Health stays open, and key creation stays open until the first key
// exists.
func AuthRequired(authSvc *auth.Service, apiBase string, required func() bool) func(http.Handler) http.Handler {
	healthPath := apiBase + "/health"
	keysPath := apiBase + "/auth/keys"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if required != nil && !required() {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(path, apiBase+"/") || path == healthPath {
				next.ServeHTTP(w, r)
				return
			}
			if path == keysPath && r.Method == http.MethodPost {
				if has, err := authSvc.HasKeys(r.Context()); err == nil && !has {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := ExtractAPIKey(r)
			if token == "" {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			key, err := authSvc.Validate(r.Context(), clientAddr(r), token)
			if err != nil {
				if errors.Is(err, auth.ErrLockedOut) {
					Error(w, -429, err.Error(), http.StatusTooManyRequests)
					return
				}
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractAPIKey reads X-API-Key, then a Bearer token, then the apiKey query
// parameter used by websocket clients that cannot set headers.
func ExtractAPIKey(r *http.Request) string {
	if raw := strings.TrimSpace(r.Header.Get("X-API-Key")); raw != "" {
		return raw
	}
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("apiKey"))
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

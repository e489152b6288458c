package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lzjever/mbos-atl/internal/auth"
	"github.com/lzjever/mbos-atl/internal/observability"
)

type ctxKeyPrincipal struct{}

// Authenticate parses the bearer token and attaches the principal to the
// request context. Requests without a valid token are rejected here;
// capability checks happen per-route in RequireCapability.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeDenied(w, "missing bearer token")
				observability.AuthDeniedTotal.WithLabelValues("none").Inc()
				return
			}
			principal, err := verifier.Parse(token)
			if err != nil {
				writeDenied(w, "invalid token")
				observability.AuthDeniedTotal.WithLabelValues("none").Inc()
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability gates a route on one capability. Capabilities do not
// imply each other: write does not grant read, admin does not grant
// retention.
func RequireCapability(cap auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r)
			if principal == nil || !principal.Has(cap) {
				writeDenied(w, "capability required: "+string(cap))
				observability.AuthDeniedTotal.WithLabelValues(string(cap)).Inc()
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetPrincipal(r *http.Request) *auth.Principal {
	if p, ok := r.Context().Value(ctxKeyPrincipal{}).(*auth.Principal); ok {
		return p
	}
	return nil
}

func writeDenied(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    "ATL_UNAUTHORIZED",
		"message": message,
	})
}

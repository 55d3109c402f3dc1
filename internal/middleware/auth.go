package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"agendamento-api/internal/auth"
	"agendamento-api/internal/model"
)

type ctxKey string

const principalKey ctxKey = "principal"

// Principal returns the verified principal stored by Auth, or false for
// unauthenticated requests.
func Principal(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}

// Auth verifies the bearer token and stores the principal in the
// request context. Identity itself is minted upstream; here we only
// verify and decode.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				unauthorized(w)
				return
			}
			claims, err := auth.ParseToken(raw, secret)
			if err != nil {
				unauthorized(w)
				return
			}
			p, err := claims.Principal()
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthenticated", "message": "missing or invalid token"},
	})
}

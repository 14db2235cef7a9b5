package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

var ErrNoClaims = errors.New("no claims in context")

func FromContext(ctx context.Context) (*Claims, bool) {
	cl, ok := ctx.Value(ctxKey{}).(*Claims)
	return cl, ok
}

// WithClaims stores claims the way JWTMiddleware does.
func WithClaims(ctx context.Context, cl *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, cl)
}

// UserID returns the authenticated user's id.
func UserID(ctx context.Context) (uuid.UUID, error) {
	cl, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, ErrNoClaims
	}
	return uuid.Parse(cl.UserID)
}

// bearerToken reads the Authorization header. EventSource cannot set
// headers, so GET requests may pass the token as access_token instead.
func bearerToken(r *http.Request) (string, bool) {
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && raw != "" {
		return raw, true
	}
	if r.Method == http.MethodGet {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, true
		}
	}
	return "", false
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func JWTMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			cl, err := ParseToken(secret, issuer, raw)
			if err != nil {
				slog.Warn("jwt rejected", "path", r.URL.Path, "error", err)
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), cl)))
		})
	}
}

func RequirePerm(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "no auth context")
				return
			}
			if !HasPerm(cl.Roles, required) {
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/numlease/numlease/internal/httputil"
)

type userCtxKey struct{}

// requireUser returns middleware that validates a bearer token issued by the
// external auth service (HS256, shared secret) and puts the subject user id
// on the request context. With an empty secret the check degrades to trusting
// an X-User-Id header, which is only acceptable behind a gateway in dev.
func requireUser(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtSecret == "" {
				userID := r.Header.Get("X-User-Id")
				if userID == "" {
					httputil.WriteError(w, http.StatusUnauthorized, "missing X-User-Id header")
					return
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httputil.WriteError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), sub)))
		})
	}
}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// userFromContext returns the authenticated user id, or "" when absent.
func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}

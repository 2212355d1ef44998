package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

type TokenParser interface {
	Parse(token string) (Claims, error)
}

type claimsContextKey struct{}

func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}

// Middleware validates the bearer token and stores its claims in the request
// context. When required is false, requests without a token pass through
// anonymously but a bad token is still rejected.
func Middleware(parser TokenParser, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				if required {
					writeUnauthorized(w, r, "missing bearer token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			claims, err := parser.Parse(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "expired token"
				}
				writeUnauthorized(w, r, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="marketplace"`)
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": msg})
}

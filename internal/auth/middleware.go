package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/go-chi/chi/v5"
)

type ctxKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}

// Authenticator reads the bearer token from Header, falling back to
// Authorization.
type Authenticator struct {
	Tokens *TokenMaker
	Header string
}

func (a *Authenticator) token(r *http.Request) string {
	tok := ""
	if a.Header != "" {
		tok = bearer(r.Header.Get(a.Header))
	}
	if tok == "" {
		tok = bearer(r.Header.Get("Authorization"))
	}
	return tok
}

// bearer strips the scheme; a bare scheme yields no token.
func bearer(raw string) string {
	raw = strings.TrimSpace(raw)
	const scheme = "bearer"
	if len(raw) >= len(scheme) && strings.EqualFold(raw[:len(scheme)], scheme) &&
		(len(raw) == len(scheme) || raw[len(scheme)] == ' ') {
		return strings.TrimSpace(raw[len(scheme):])
	}
	return raw
}

// Middleware rejects a missing token with 401 and a bad one with 403.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := a.token(r)
		if tok == "" {
			writeError(w, apperr.Unauthorized("authentication required", nil))
			return
		}
		c, err := a.Tokens.Parse(tok)
		if err != nil {
			writeError(w, apperr.Forbidden("invalid or expired token", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		if !ok || !c.IsAdmin {
			writeError(w, apperr.Forbidden("admin access required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSelfOrAdmin allows the route when the URL param names the caller.
func RequireSelfOrAdmin(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := FromContext(r.Context())
			if !ok || (!c.IsAdmin && chi.URLParam(r, param) != c.UserID) {
				writeError(w, apperr.Forbidden("access denied", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(e)
}

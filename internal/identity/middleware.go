package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/redmonkez12/loyalty-card/internal/httputil"
)

// ErrSessionMismatch means a valid token for an identity that is not the one
// signed in on this device
var ErrSessionMismatch = errors.New("token does not match the signed-in account")

type ContextKey string

const IdentityContextKey ContextKey = "identity"

// Middleware authenticates device API calls against the current session
type Middleware struct {
	tokens  TokenService
	service *Service
}

func NewMiddleware(tokens TokenService, service *Service) *Middleware {
	return &Middleware{tokens: tokens, service: service}
}

// RequireAuth accepts a bearer token only if it belongs to the identity
// currently signed in on this device
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		ident, err := m.Authenticate(parts[1])
		switch {
		case errors.Is(err, ErrExpiredToken):
			httputil.RespondErrorWithCode(w, "token has expired", httputil.CodeTokenExpired, http.StatusUnauthorized)
			return
		case errors.Is(err, ErrSessionMismatch):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeSessionMismatch, http.StatusUnauthorized)
			return
		case err != nil:
			httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate verifies token and checks it belongs to the current session
func (m *Middleware) Authenticate(token string) (Identity, error) {
	claims, err := m.tokens.VerifyToken(token)
	if err != nil {
		return Identity{}, err
	}

	current, ok := m.service.Current()
	if !ok || current.Identity.ID != claims.IdentityID {
		return Identity{}, ErrSessionMismatch
	}
	return current.Identity, nil
}

// FromContext returns the identity set by RequireAuth
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(IdentityContextKey).(Identity)
	return ident, ok
}

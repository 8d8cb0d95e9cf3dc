package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/httputil"
)

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tokens, err := NewPasetoService(testKey)
	require.NoError(t, err)
	mw := NewMiddleware(tokens, f.svc)

	session, err := f.svc.Register(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	otherToken, err := tokens.CreateToken("someone-else", "other@example.com", time.Hour)
	require.NoError(t, err)
	expiredToken, err := tokens.CreateToken(session.Identity.ID, "user@example.com", -time.Minute)
	require.NoError(t, err)

	var seen Identity
	protected := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", http.StatusUnauthorized, httputil.CodeMissingAuth},
		{"wrong scheme", "Token " + session.Token, http.StatusUnauthorized, httputil.CodeInvalidAuthHeader},
		{"garbage token", "Bearer nope", http.StatusUnauthorized, httputil.CodeInvalidToken},
		{"expired token", "Bearer " + expiredToken, http.StatusUnauthorized, httputil.CodeTokenExpired},
		{"other identity", "Bearer " + otherToken, http.StatusUnauthorized, httputil.CodeSessionMismatch},
		{"current session", "Bearer " + session.Token, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var resp httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Code)
			}
		})
	}

	assert.Equal(t, session.Identity.ID, seen.ID)
}

func TestAuthenticateAfterLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tokens, err := NewPasetoService(testKey)
	require.NoError(t, err)
	mw := NewMiddleware(tokens, f.svc)

	session, err := f.svc.Register(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	ident, err := mw.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Identity.ID, ident.ID)

	require.NoError(t, f.svc.Logout(ctx))
	_, err = mw.Authenticate(session.Token)
	assert.ErrorIs(t, err, ErrSessionMismatch)
}

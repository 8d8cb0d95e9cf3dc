package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/ratelimit"
)

type handlerFixture struct {
	handler *Handler
	ids     *identity.Service
	records *account.MemoryStore
}

func newHandlerFixture(t *testing.T, limiter *ratelimit.Limiter) *handlerFixture {
	t.Helper()
	ids := newIdentities(t, identity.NewMemoryStore(), time.Minute)
	records := account.NewMemoryStore()
	svc := NewService(ids, records, logging.NewNopLogger())
	return &handlerFixture{
		handler: NewHandler(svc, ids, limiter),
		ids:     ids,
		records: records,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegisterHandler(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := postJSON(t, f.handler.Register, CredentialsRequest{Email: "new@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "new@example.com", resp.Identity.Email)

	_, err := f.records.GetRecord(context.Background(), resp.Identity.ID)
	assert.NoError(t, err)

	rec = postJSON(t, f.handler.Register, CredentialsRequest{Email: "new@example.com", Password: "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeEmailAlreadyExists, decodeError(t, rec).Code)
}

func TestRegisterHandlerValidation(t *testing.T) {
	f := newHandlerFixture(t, nil)

	tests := []struct {
		name string
		body CredentialsRequest
		code string
	}{
		{"missing email", CredentialsRequest{Password: "password123"}, httputil.CodeValidationFailed},
		{"malformed email", CredentialsRequest{Email: "nope", Password: "password123"}, httputil.CodeValidationFailed},
		{"short password", CredentialsRequest{Email: "a@example.com", Password: "short"}, httputil.CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, f.handler.Register, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	f := newHandlerFixture(t, nil)
	ctx := context.Background()

	_, err := f.ids.Provision(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	rec := postJSON(t, f.handler.Login, CredentialsRequest{Email: "user@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeInvalidCredentials, decodeError(t, rec).Code)

	rec = postJSON(t, f.handler.Login, CredentialsRequest{Email: "user@example.com", Password: "password123"})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.ids.Current()
	assert.True(t, ok)
}

func TestLoginHandlerRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewLimiterWithConfig(client, ratelimit.Config{IPLimit: 2, IPWindow: time.Minute, EmailCooldown: time.Minute})
	f := newHandlerFixture(t, limiter)

	body := CredentialsRequest{Email: "nobody@example.com", Password: "password123"}
	for range 2 {
		rec := postJSON(t, f.handler.Login, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postJSON(t, f.handler.Login, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeTooManyRequests, decodeError(t, rec).Code)
}

func TestVerifyEmailHandler(t *testing.T) {
	f := newHandlerFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify-email", nil)
	rec := httptest.NewRecorder()
	f.handler.VerifyEmail(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeVerificationTokenEmpty, decodeError(t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/verify-email?token=bogus", nil)
	rec = httptest.NewRecorder()
	f.handler.VerifyEmail(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeVerificationFailed, decodeError(t, rec).Code)
}

func TestCheckVerificationHandler(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := postJSON(t, f.handler.Register, CredentialsRequest{Email: "check@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/check-verification", nil)
	rec = httptest.NewRecorder()
	f.handler.CheckVerification(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VerificationStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
}

func TestDeleteAccountHandler(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rec := postJSON(t, f.handler.Register, CredentialsRequest{Email: "bye@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/account", nil)
	rec = httptest.NewRecorder()
	f.handler.DeleteAccount(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.ids.Current()
	assert.False(t, ok)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	assert.Equal(t, "203.0.113.1", getClientIP(req))
}

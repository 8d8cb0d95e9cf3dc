package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/config"
	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/membership"
	"github.com/redmonkez12/loyalty-card/internal/redemption"
	"github.com/redmonkez12/loyalty-card/internal/session"
)

type discardMailer struct{}

func (discardMailer) SendVerificationEmail(context.Context, string, string) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := logging.NewNopLogger()
	tokens, err := identity.NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	ids := identity.NewService(
		identity.NewMemoryStore(),
		tokens,
		identity.NewFileSessionStore(filepath.Join(t.TempDir(), "session.json")),
		discardMailer{},
		nil,
		logger,
		identity.Options{TokenDuration: time.Hour, RecentAuthWindow: time.Minute, ResendCooldown: time.Minute},
	)
	ids.Start(ctx)

	records := account.NewMemoryStore()
	protocol := redemption.NewProtocol(records, nil, logger)
	controller := session.NewController(ids, records, protocol, session.NewGrantingCamera(logger), session.NewPolicy(), logger)
	go func() { _ = controller.Run(ctx) }()

	cfg := &config.Config{Server: config.ServerConfig{Env: "prod", TrustedOrigins: []string{"http://localhost:8081"}}}
	return NewRouter(cfg, Handlers{
		Membership: membership.NewHandler(membership.NewService(ids, records, logger), ids, nil),
		Session:    session.NewHandler(controller),
		Scanner:    redemption.NewHandler(protocol),
	}, identity.NewMiddleware(tokens, ids), logger)
}

func do(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func modeIs(router http.Handler, want session.Mode) func() bool {
	return func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var resp session.SessionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Mode == want
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
}

func TestSwaggerDisabledOutsideDevelopment(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/swagger/index.html", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/card/qr"},
		{http.MethodPost, "/scanner/scan"},
		{http.MethodGet, "/scanner/outcome"},
		{http.MethodPost, "/scanner/ack"},
		{http.MethodDelete, "/account"},
		{http.MethodPost, "/auth/resend-verification"},
		{http.MethodPost, "/auth/check-verification"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := do(t, router, route.method, route.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestRegisterFlowThroughRouter(t *testing.T) {
	router := newTestRouter(t)

	assert.Eventually(t, modeIs(router, session.ModeUnauthenticated), 2*time.Second, 10*time.Millisecond)

	rec := do(t, router, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "new@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var reg membership.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.Token)

	assert.Eventually(t, modeIs(router, session.ModeUnverified), 2*time.Second, 10*time.Millisecond)

	rec = do(t, router, http.MethodGet, "/card/qr", reg.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/scanner/scan", reg.Token, map[string]string{"code": "someone"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, httputil.CodeWrongMode, errResp.Code)

	rec = do(t, router, http.MethodDelete, "/account", reg.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, modeIs(router, session.ModeUnauthenticated), 2*time.Second, 10*time.Millisecond)
}

package redemption

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/httputil"
)

func postScan(h *Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodPost, "/scanner/scan", strings.NewReader(body)))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestScanHandlerFlow(t *testing.T) {
	p, store, _ := setup(t, 0)
	h := NewHandler(p)

	rec := httptest.NewRecorder()
	h.Outcome(rec, httptest.NewRequest(http.MethodGet, "/scanner/outcome", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postScan(h, `{"code":"customer-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, points(t, store))

	rec = postScan(h, `{"code":"customer-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeScanIgnored, errorCode(t, rec))

	rec = httptest.NewRecorder()
	h.Outcome(rec, httptest.NewRequest(http.MethodGet, "/scanner/outcome", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Acknowledge(rec, httptest.NewRequest(http.MethodPost, "/scanner/ack", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Acknowledge(rec, httptest.NewRequest(http.MethodPost, "/scanner/ack", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeNothingToAcknowledge, errorCode(t, rec))
}

func TestScanHandlerRejectsWhenDisabled(t *testing.T) {
	p, _, _ := setup(t, 0)
	p.Disable()

	rec := postScan(NewHandler(p), `{"code":"customer-1"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeWrongMode, errorCode(t, rec))
}

func TestScanHandlerValidatesBody(t *testing.T) {
	p, _, _ := setup(t, 0)

	rec := postScan(NewHandler(p), `{"code":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeValidationFailed, errorCode(t, rec))
}

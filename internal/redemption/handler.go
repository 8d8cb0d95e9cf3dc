package redemption

import (
	"net/http"

	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// Handler exposes the protocol to the scanner bridge
type Handler struct {
	protocol *Protocol
}

func NewHandler(protocol *Protocol) *Handler {
	return &Handler{protocol: protocol}
}

// ScanRequest carries the decoded payload of a customer code
type ScanRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

// Scan processes one decoded scan
// @Summary      Submit a scan
// @Description  Runs one redemption for the scanned customer code. Ignored while a previous outcome awaits acknowledgment.
// @Tags         scanner
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ScanRequest true "Decoded payload"
// @Success      200 {object} Outcome
// @Failure      409 {object} httputil.ErrorResponse "Scanner disabled or scan ignored"
// @Router       /scanner/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ScanRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if !h.protocol.Enabled() {
		httputil.RespondErrorWithCode(w, "scanner is only active in staff mode", httputil.CodeWrongMode, http.StatusConflict)
		return
	}

	outcome, accepted := h.protocol.Scan(r.Context(), req.Code)
	if !accepted {
		logger.Debug("scan ignored")
		httputil.RespondErrorWithCode(w, "acknowledge the previous result first", httputil.CodeScanIgnored, http.StatusConflict)
		return
	}

	httputil.RespondJSON(w, outcome, http.StatusOK)
}

// Outcome returns the outcome awaiting acknowledgment
// @Summary      Pending outcome
// @Tags         scanner
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} Outcome
// @Success      204 "Nothing pending"
// @Router       /scanner/outcome [get]
func (h *Handler) Outcome(w http.ResponseWriter, r *http.Request) {
	outcome, ok := h.protocol.Pending()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.RespondJSON(w, outcome, http.StatusOK)
}

// Acknowledge dismisses the pending outcome and re-arms the scanner
// @Summary      Acknowledge outcome
// @Tags         scanner
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} map[string]string
// @Failure      409 {object} httputil.ErrorResponse "Nothing to acknowledge"
// @Router       /scanner/ack [post]
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if !h.protocol.Acknowledge() {
		httputil.RespondErrorWithCode(w, "nothing to acknowledge", httputil.CodeNothingToAcknowledge, http.StatusConflict)
		return
	}
	httputil.RespondJSON(w, map[string]string{"message": "ready to scan"}, http.StatusOK)
}

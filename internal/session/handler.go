package session

import (
	"net/http"

	"github.com/skip2/go-qrcode"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
)

const qrSize = 256

type Handler struct {
	controller *Controller
}

func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// SessionResponse describes what the device should currently show
type SessionResponse struct {
	Mode         Mode               `json:"mode"`
	Identity     *identity.Identity `json:"identity,omitempty"`
	Record       *account.Record    `json:"record,omitempty"`
	StampsFilled int                `json:"stamps_filled"`
	StampsTotal  int                `json:"stamps_total"`
}

// Get returns the resolved session
// @Summary      Current session
// @Description  Resolved mode plus the signed-in identity and its loyalty record
// @Tags         session
// @Produce      json
// @Success      200 {object} SessionResponse
// @Router       /session [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view := h.controller.View()

	resp := SessionResponse{
		Mode:        view.Mode,
		Identity:    view.Identity,
		Record:      view.Record,
		StampsTotal: account.StampsPerReward,
	}
	if view.Record != nil {
		resp.StampsFilled = view.Record.StampsFilled()
	}

	httputil.RespondJSON(w, resp, http.StatusOK)
}

// CardQR renders the customer's code as a PNG
// @Summary      Customer card code
// @Description  QR code encoding the customer's record ID, for staff to scan
// @Tags         session
// @Produce      png
// @Security     BearerAuth
// @Success      200 {file} binary
// @Failure      409 {object} httputil.ErrorResponse "Device is not in customer mode"
// @Router       /card/qr [get]
func (h *Handler) CardQR(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	view := h.controller.View()
	if view.Mode != ModeCustomer || view.Identity == nil {
		httputil.RespondErrorWithCode(w, "card is only available in customer mode", httputil.CodeWrongMode, http.StatusConflict)
		return
	}

	png, err := qrcode.Encode(view.Identity.ID, qrcode.Medium, qrSize)
	if err != nil {
		logger.Error("failed to encode card QR", "error", err)
		httputil.RespondErrorWithCode(w, "failed to render card", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

package redemption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/ws"
)

// Socket commands and replies
const (
	MessageScan         = "scan"
	MessageAcknowledge  = "acknowledge"
	MessageScanResult   = "scan_result"
	MessageScanIgnored  = "scan_ignored"
	MessageAcknowledged = "acknowledged"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrScannerDisabled  = errors.New("scanner is only active in staff mode")
	ErrOperatorMismatch = errors.New("connection belongs to a different operator")
)

// HandleMessage runs scanner commands that arrive over the event socket.
// Commands are only honored from a connection opened by the operator the
// scanner is currently enabled for.
func (h *Handler) HandleMessage(ctx context.Context, client *ws.Client, msgType string, data json.RawMessage) error {
	logger := logging.GetLoggerFromContext(ctx)

	switch msgType {
	case MessageScan:
		var req ScanRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		if err := httputil.Validate(req); err != nil {
			return err
		}
		if !h.protocol.Enabled() {
			return ErrScannerDisabled
		}
		if h.protocol.Operator() != client.IdentityID {
			logger.Warn("scan from another operator's connection", "identity_id", client.IdentityID)
			return ErrOperatorMismatch
		}

		outcome, accepted := h.protocol.ScanAs(ctx, client.IdentityID, req.Code)
		if !accepted {
			logger.Debug("scan ignored")
			return client.SendTyped(MessageScanIgnored, map[string]string{"reason": "acknowledge the previous result first"})
		}
		return client.SendTyped(MessageScanResult, outcome)

	case MessageAcknowledge:
		if h.protocol.Operator() != client.IdentityID {
			return ErrOperatorMismatch
		}
		if !h.protocol.Acknowledge() {
			return errors.New("nothing to acknowledge")
		}
		return client.SendTyped(MessageAcknowledged, map[string]string{"message": "ready to scan"})

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, msgType)
	}
}

// Package redemption implements the staff-side scan → verify → increment
// sequence with a per-device re-entrancy guard.
package redemption

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/logging"
)

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeInvalidCode OutcomeKind = "invalid_code"
	OutcomeFailure     OutcomeKind = "failure"
)

// Outcome is the terminal result of one redemption. It stays pending until
// the operator acknowledges it.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
	Err     error       `json:"-"`
}

// Store is the part of the record store a redemption needs
type Store interface {
	GetRecord(ctx context.Context, id string) (*account.Record, error)
	IncrementPoints(ctx context.Context, id string, delta int) error
}

// Protocol processes scans for one staff device. At most one redemption is
// in flight, and no new scan is accepted until the previous outcome has been
// acknowledged.
type Protocol struct {
	store     Store
	publisher Publisher
	logger    *logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	enabled    bool
	operatorID string
	busy       bool
	inFlight   bool
	pending    *Outcome
	generation uint64
	listener   func(Outcome)
}

func NewProtocol(store Store, publisher Publisher, logger *logging.Logger) *Protocol {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Protocol{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetListener registers a callback invoked with every outcome that becomes pending
func (p *Protocol) SetListener(fn func(Outcome)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

// Enable starts accepting scans on behalf of operatorID
func (p *Protocol) Enable(operatorID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled && p.operatorID == operatorID {
		return
	}
	p.resetLocked()
	p.enabled = true
	p.operatorID = operatorID
	p.logger.Info("scanner enabled", "operator_id", operatorID)
}

// Disable stops scan processing immediately. A redemption still in flight
// completes against the store, but its outcome is discarded, and the guard
// stays raised until it returns even if the scanner is re-enabled.
func (p *Protocol) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	p.resetLocked()
	p.logger.Info("scanner disabled")
}

func (p *Protocol) resetLocked() {
	p.enabled = false
	p.operatorID = ""
	p.busy = p.inFlight
	p.pending = nil
	p.generation++
}

func (p *Protocol) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Operator returns the staff identity scans are attributed to, or "" while
// the scanner is disabled
func (p *Protocol) Operator() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.operatorID
}

// Busy reports whether scans are currently being ignored by the guard
func (p *Protocol) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Pending returns the outcome awaiting acknowledgment
func (p *Protocol) Pending() (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return Outcome{}, false
	}
	return *p.pending, true
}

// Scan runs one redemption for the decoded payload. The payload is the
// record ID as-is. accepted is false when the scan was ignored.
func (p *Protocol) Scan(ctx context.Context, code string) (outcome Outcome, accepted bool) {
	return p.scan(ctx, code, "")
}

// ScanAs is Scan on behalf of operatorID. It is ignored unless the scanner
// is enabled for that operator at the moment the scan starts.
func (p *Protocol) ScanAs(ctx context.Context, operatorID, code string) (outcome Outcome, accepted bool) {
	if operatorID == "" {
		return Outcome{}, false
	}
	return p.scan(ctx, code, operatorID)
}

func (p *Protocol) scan(ctx context.Context, code, requiredOperator string) (Outcome, bool) {
	p.mu.Lock()
	if !p.enabled || p.busy {
		p.mu.Unlock()
		return Outcome{}, false
	}
	if requiredOperator != "" && requiredOperator != p.operatorID {
		p.mu.Unlock()
		return Outcome{}, false
	}
	p.busy = true
	p.inFlight = true
	generation := p.generation
	operatorID := p.operatorID
	p.mu.Unlock()

	outcome := p.redeem(ctx, code, operatorID)

	p.mu.Lock()
	p.inFlight = false
	if generation != p.generation {
		p.busy = false
		p.mu.Unlock()
		p.logger.Info("discarding redemption outcome after scanner was disabled",
			"outcome", outcome.Kind,
		)
		return outcome, true
	}
	p.pending = &outcome
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener(outcome)
	}

	return outcome, true
}

// Acknowledge dismisses the pending outcome and re-arms the scanner.
// It returns false when there is nothing to acknowledge, including while a
// redemption is still in flight.
func (p *Protocol) Acknowledge() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return false
	}
	p.pending = nil
	p.busy = false
	return true
}

func (p *Protocol) redeem(ctx context.Context, code, operatorID string) Outcome {
	logger := p.logger.With("code", code, "operator_id", operatorID)

	if _, err := p.store.GetRecord(ctx, code); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			logger.Warn("scan rejected: unknown customer code")
			return p.outcome(OutcomeInvalidCode, code, "Invalid customer code.", nil)
		}
		logger.Error("scan failed: record lookup", "error", err)
		return p.outcome(OutcomeFailure, code, "Could not add a point.", err)
	}

	if err := p.store.IncrementPoints(ctx, code, 1); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			logger.Warn("scan rejected: record removed before increment")
			return p.outcome(OutcomeInvalidCode, code, "Invalid customer code.", nil)
		}
		logger.Error("scan failed: increment", "error", err)
		return p.outcome(OutcomeFailure, code, "Could not add a point.", err)
	}

	logger.Info("point added")

	event := RedeemedEvent{
		CustomerID: code,
		OperatorID: operatorID,
		Delta:      1,
		At:         p.now(),
	}
	if err := p.publisher.PublishRedeemed(ctx, event); err != nil {
		logger.Warn("failed to publish redemption event", "error", err)
	}

	return p.outcome(OutcomeSuccess, code, "Point added.", nil)
}

func (p *Protocol) outcome(kind OutcomeKind, code, message string, err error) Outcome {
	return Outcome{
		Kind:    kind,
		Code:    code,
		Message: message,
		At:      p.now(),
		Err:     err,
	}
}

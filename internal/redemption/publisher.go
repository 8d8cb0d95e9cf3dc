package redemption

import (
	"context"
	"time"
)

// RedeemedEvent is published after a successful increment
type RedeemedEvent struct {
	CustomerID string    `json:"customer_id"`
	OperatorID string    `json:"operator_id"`
	Delta      int       `json:"delta"`
	At         time.Time `json:"at"`
}

// Publisher sends redemption audit events. Publishing is best-effort and
// never changes an outcome.
type Publisher interface {
	PublishRedeemed(ctx context.Context, event RedeemedEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishRedeemed(context.Context, RedeemedEvent) error { return nil }

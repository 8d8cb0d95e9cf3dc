package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/redemption"
)

// RoutingKeyPointsRedeemed is used for every successful redemption
const RoutingKeyPointsRedeemed = "loyalty.points.redeemed"

// Broker is the publishing side of a message bus
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// RedemptionPublisher sends redemption audit events to an exchange
type RedemptionPublisher struct {
	broker   Broker
	exchange string
	logger   *logging.Logger
}

func NewRedemptionPublisher(broker Broker, exchange string, logger *logging.Logger) *RedemptionPublisher {
	return &RedemptionPublisher{broker: broker, exchange: exchange, logger: logger}
}

func (p *RedemptionPublisher) PublishRedeemed(ctx context.Context, event redemption.RedeemedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal redemption event: %w", err)
	}

	if err := p.broker.Publish(ctx, p.exchange, RoutingKeyPointsRedeemed, body); err != nil {
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}

	p.logger.Debug("redemption event published",
		"customer_id", event.CustomerID,
		"operator_id", event.OperatorID,
	)
	return nil
}

// Package notify fans a chat message out to every push subscriber except the
// sender. Deliveries are independent and best-effort: a failed push is logged
// and dropped, never retried, never surfaced to the sender.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/parlorchat/parlor/internal/subscription"
	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 5 * time.Second

var (
	errMissingSubscriptions = errors.New("notify: subscription store is required")
	errMissingSender        = errors.New("notify: push sender is required")
)

// Sender delivers one payload to one subscription endpoint.
type Sender interface {
	Send(ctx context.Context, record subscription.Record, payload string) error
}

// DispatcherConfig bundles the dependencies for a Dispatcher.
type DispatcherConfig struct {
	Subscriptions   subscription.Store
	Sender          Sender
	DeliveryTimeout time.Duration
	Logger          *zap.Logger
}

// Dispatcher delivers chat messages to push subscribers.
type Dispatcher struct {
	subscriptions   subscription.Store
	sender          Sender
	deliveryTimeout time.Duration
	logger          *zap.Logger
}

// NewDispatcher constructs a dispatcher with validated configuration.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Subscriptions == nil {
		return nil, errMissingSubscriptions
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = defaultDeliveryTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subscriptions:   cfg.Subscriptions,
		sender:          cfg.Sender,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
	}, nil
}

// Notify attempts one delivery per subscription whose user id differs from
// excludeUserID, carrying the message content as payload. It returns the
// number of attempted deliveries; per-subscription failures do not stop the
// remaining attempts. The only error returned is a failure to list the
// subscriptions at all.
func (d *Dispatcher) Notify(ctx context.Context, content, excludeUserID string) (int, error) {
	records, err := d.subscriptions.AllExcluding(ctx, excludeUserID)
	if err != nil {
		return 0, err
	}

	attempts := 0
	for _, record := range records {
		attempts++
		deliveryCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
		err := d.sender.Send(deliveryCtx, record, content)
		cancel()
		if err != nil {
			d.logger.Warn("push delivery failed",
				zap.String("user_id", record.UserID),
				zap.Error(err))
		}
	}
	return attempts, nil
}

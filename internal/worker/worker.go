// Package worker provides async cache invalidation from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/tally/internal/domain"
)

// Invalidator listens for transaction ledger writes and bumps the
// cap-usage generation for the affected payment method. The next
// usage read then recomputes from the ledger instead of serving a
// stale snapshot.
type Invalidator struct {
	bus   domain.EventBus
	cache domain.UsageCache

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewInvalidator creates a new invalidation worker.
func NewInvalidator(bus domain.EventBus, cache domain.UsageCache) *Invalidator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Invalidator{
		bus:    bus,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to every transaction topic.
func (w *Invalidator) Start() error {
	topics := []string{
		domain.TopicTransactionCreated,
		domain.TopicTransactionUpdated,
		domain.TopicTransactionDeleted,
	}

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("invalidation worker started",
		"topic_count", len(w.subscriptions),
	)

	return nil
}

// handleMessage bumps the generation for the payment method named in
// the event.
func (w *Invalidator) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	if event.PaymentMethodID == "" {
		slog.Warn("transaction event without payment method",
			"message_id", msg.ID,
			"transaction_id", event.TransactionID,
		)
		return nil
	}

	stamp, err := w.cache.BumpGeneration(ctx, event.PaymentMethodID)
	if err != nil {
		slog.Error("failed to bump usage generation",
			"payment_method_id", event.PaymentMethodID,
			"error", err,
		)
		return err
	}

	slog.Debug("cap usage invalidated",
		"payment_method_id", event.PaymentMethodID,
		"transaction_id", event.TransactionID,
		"action", event.Action,
		"generation", stamp,
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Invalidator) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("invalidation worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Invalidator) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

package domain

import (
	"context"
)

// EventBus carries transaction-write notifications so caches can
// invalidate. Supports Go channels (single node) or NATS (distributed).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics announcing transaction ledger writes.
const (
	TopicTransactionCreated = "tally.transaction.created"
	TopicTransactionUpdated = "tally.transaction.updated"
	TopicTransactionDeleted = "tally.transaction.deleted"
)

// TransactionEvent is the payload published on the transaction topics.
type TransactionEvent struct {
	TransactionID   string `json:"transactionId"`
	PaymentMethodID string `json:"paymentMethodId"`
	Action          string `json:"action"` // "created", "updated", "deleted"
	At              int64  `json:"at"`
}

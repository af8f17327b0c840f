package domain

import (
	"context"
	"time"
)

// RuleStore owns reward rule persistence. The engine only reads;
// sorting by priority happens in the matcher.
type RuleStore interface {
	GetRulesForCardType(ctx context.Context, cardTypeID string) ([]*RewardRule, error)
	ListRules(ctx context.Context) ([]*RewardRule, error)
	SaveRule(ctx context.Context, rule *RewardRule) error
}

// TransactionStore owns the transaction ledger.
type TransactionStore interface {
	// GetTransactionsForPaymentMethod returns non-deleted transactions
	// with from <= date < to, ordered by date then ID.
	GetTransactionsForPaymentMethod(ctx context.Context, paymentMethodID string, from, to time.Time) ([]*Transaction, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	SaveTransaction(ctx context.Context, tx *Transaction) error
	// DeleteTransaction soft-deletes a row; it stays out of all usage
	// sums from then on.
	DeleteTransaction(ctx context.Context, id string) error
}

// ConversionRateStore owns the reward-to-miles rate table.
type ConversionRateStore interface {
	GetRates(ctx context.Context) ([]ConversionRate, error)
	// Upsert overwrites existing pairs; applying the same batch twice
	// yields the same table.
	Upsert(ctx context.Context, rates []ConversionRate) error
}

// PaymentMethodStore owns the user's cards.
type PaymentMethodStore interface {
	ListActivePaymentMethods(ctx context.Context) ([]*PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, pm *PaymentMethod) error
}

// Repository aggregates all persistence the engine is wired with.
type Repository interface {
	RuleStore
	TransactionStore
	ConversionRateStore
	PaymentMethodStore

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

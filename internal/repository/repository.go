// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule upserts a reward rule. Conditions are stored as a JSON
// document in their tagged envelope form.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.RewardRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	var monthlyCap sql.NullFloat64
	if rule.Spec.MonthlyCap != nil {
		monthlyCap = sql.NullFloat64{Float64: *rule.Spec.MonthlyCap, Valid: true}
	}
	var validUntil sql.NullTime
	if rule.Spec.ValidUntil != nil {
		validUntil = sql.NullTime{Time: rule.Spec.ValidUntil.UTC(), Valid: true}
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO reward_rules (
			id, card_type_id, name, priority, enabled, conditions,
			base_point_rate, bonus_point_rate, monthly_cap,
			cap_type, cap_group_id, cap_period, valid_until,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_type_id = excluded.card_type_id,
			name = excluded.name,
			priority = excluded.priority,
			enabled = excluded.enabled,
			conditions = excluded.conditions,
			base_point_rate = excluded.base_point_rate,
			bonus_point_rate = excluded.bonus_point_rate,
			monthly_cap = excluded.monthly_cap,
			cap_type = excluded.cap_type,
			cap_group_id = excluded.cap_group_id,
			cap_period = excluded.cap_period,
			valid_until = excluded.valid_until,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.CardTypeID, rule.Name, rule.Priority, enabled,
		string(conditions),
		rule.Spec.BasePointRate, rule.Spec.BonusPointRate, monthlyCap,
		string(rule.Spec.CapType), rule.Spec.CapGroupID, string(rule.Spec.CapPeriod),
		validUntil,
		now, now,
	)
	return err
}

// GetRulesForCardType returns every rule attached to a card type,
// including disabled ones; the matcher filters on enabled.
func (r *SQLRepository) GetRulesForCardType(ctx context.Context, cardTypeID string) ([]*domain.RewardRule, error) {
	if cardTypeID == "" {
		return nil, fmt.Errorf("%w: cardTypeID is required", ErrInvalidInput)
	}

	query := ruleSelect + ` WHERE card_type_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), cardTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRules(rows)
}

// ListRules returns all rules across card types.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.RewardRule, error) {
	query := ruleSelect + ` ORDER BY card_type_id, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRules(rows)
}

const ruleSelect = `
	SELECT id, card_type_id, name, priority, enabled, conditions,
		   base_point_rate, bonus_point_rate, monthly_cap,
		   cap_type, cap_group_id, cap_period, valid_until
	FROM reward_rules`

func scanRules(rows *sql.Rows) ([]*domain.RewardRule, error) {
	var rules []*domain.RewardRule
	for rows.Next() {
		var rule domain.RewardRule
		var enabled int
		var conditions, capType, capPeriod string
		var monthlyCap sql.NullFloat64
		var validUntil sql.NullTime

		if err := rows.Scan(
			&rule.ID, &rule.CardTypeID, &rule.Name, &rule.Priority, &enabled,
			&conditions,
			&rule.Spec.BasePointRate, &rule.Spec.BonusPointRate, &monthlyCap,
			&capType, &rule.Spec.CapGroupID, &capPeriod, &validUntil,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rule.Spec.CapType = domain.CapType(capType)
		rule.Spec.CapPeriod = domain.CapPeriodType(capPeriod)
		if monthlyCap.Valid {
			cap := monthlyCap.Float64
			rule.Spec.MonthlyCap = &cap
		}
		if validUntil.Valid {
			t := validUntil.Time.UTC()
			rule.Spec.ValidUntil = &t
		}
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}

		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// SaveTransaction stores a ledger entry.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if tx.PaymentMethodID == "" {
		return fmt.Errorf("%w: paymentMethodId is required", ErrInvalidInput)
	}

	online := 0
	if tx.Merchant.IsOnline {
		online = 1
	}
	contactless := 0
	if tx.IsContactless {
		contactless = 1
	}
	deleted := 0
	if tx.IsDeleted {
		deleted = 1
	}

	query := `
		INSERT INTO transactions (
			id, payment_method_id, date, amount, currency,
			payment_amount, payment_currency,
			merchant_name, merchant_mcc, merchant_online,
			is_contactless, is_deleted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payment_method_id = excluded.payment_method_id,
			date = excluded.date,
			amount = excluded.amount,
			currency = excluded.currency,
			payment_amount = excluded.payment_amount,
			payment_currency = excluded.payment_currency,
			merchant_name = excluded.merchant_name,
			merchant_mcc = excluded.merchant_mcc,
			merchant_online = excluded.merchant_online,
			is_contactless = excluded.is_contactless,
			is_deleted = excluded.is_deleted
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.PaymentMethodID, tx.Date.UTC(), tx.Amount, tx.Currency,
		tx.PaymentAmount, tx.PaymentCurrency,
		tx.Merchant.Name, tx.Merchant.MCC, online,
		contactless, deleted, tx.CreatedAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID, soft-deleted included.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := txSelect + ` WHERE id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetTransactionsForPaymentMethod returns non-deleted transactions with
// from <= date < to, ordered by date then ID.
func (r *SQLRepository) GetTransactionsForPaymentMethod(ctx context.Context, paymentMethodID string, from, to time.Time) ([]*domain.Transaction, error) {
	if paymentMethodID == "" {
		return nil, fmt.Errorf("%w: paymentMethodID is required", ErrInvalidInput)
	}

	query := txSelect + `
		WHERE payment_method_id = ?
		  AND is_deleted = 0
		  AND date >= ? AND date < ?
		ORDER BY date, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), paymentMethodID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteTransaction soft-deletes a transaction so it drops out of
// usage sums without losing the row.
func (r *SQLRepository) DeleteTransaction(ctx context.Context, id string) error {
	query := `UPDATE transactions SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`

	result, err := r.db.ExecContext(ctx, r.rebind(query), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

const txSelect = `
	SELECT id, payment_method_id, date, amount, currency,
		   payment_amount, payment_currency,
		   merchant_name, merchant_mcc, merchant_online,
		   is_contactless, is_deleted, created_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var online, contactless, deleted int

	if err := row.Scan(
		&tx.ID, &tx.PaymentMethodID, &tx.Date, &tx.Amount, &tx.Currency,
		&tx.PaymentAmount, &tx.PaymentCurrency,
		&tx.Merchant.Name, &tx.Merchant.MCC, &online,
		&contactless, &deleted, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	tx.Merchant.IsOnline = online == 1
	tx.IsContactless = contactless == 1
	tx.IsDeleted = deleted == 1
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

// GetRates returns the full conversion rate table.
func (r *SQLRepository) GetRates(ctx context.Context) ([]domain.ConversionRate, error) {
	query := `
		SELECT reward_currency_id, miles_currency_id, rate, updated_at
		FROM conversion_rates
		ORDER BY reward_currency_id, miles_currency_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []domain.ConversionRate
	for rows.Next() {
		var cr domain.ConversionRate
		if err := rows.Scan(&cr.RewardCurrencyID, &cr.MilesCurrencyID, &cr.Rate, &cr.UpdatedAt); err != nil {
			return nil, err
		}
		cr.UpdatedAt = cr.UpdatedAt.UTC()
		rates = append(rates, cr)
	}
	return rates, rows.Err()
}

// Upsert overwrites rate rows keyed by currency pair. Re-applying the
// same batch is a no-op.
func (r *SQLRepository) Upsert(ctx context.Context, rates []domain.ConversionRate) error {
	if len(rates) == 0 {
		return nil
	}

	query := `
		INSERT INTO conversion_rates (reward_currency_id, miles_currency_id, rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reward_currency_id, miles_currency_id) DO UPDATE SET
			rate = excluded.rate,
			updated_at = excluded.updated_at
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	for _, cr := range rates {
		if _, err := dbTx.ExecContext(ctx, r.rebind(query),
			cr.RewardCurrencyID, cr.MilesCurrencyID, cr.Rate, cr.UpdatedAt.UTC(),
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// SavePaymentMethod upserts a card.
func (r *SQLRepository) SavePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	if pm.ID == "" {
		return fmt.Errorf("%w: payment method id is required", ErrInvalidInput)
	}

	active := 0
	if pm.Active {
		active = 1
	}

	query := `
		INSERT INTO payment_methods (
			id, issuer, name, type, reward_currency_id, statement_start_day, active
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			issuer = excluded.issuer,
			name = excluded.name,
			type = excluded.type,
			reward_currency_id = excluded.reward_currency_id,
			statement_start_day = excluded.statement_start_day,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pm.ID, pm.Issuer, pm.Name, pm.Type,
		pm.RewardCurrencyID, pm.StatementStartDay, active,
	)
	return err
}

// GetPaymentMethod retrieves a card by ID.
func (r *SQLRepository) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	query := `
		SELECT id, issuer, name, type, reward_currency_id, statement_start_day, active
		FROM payment_methods
		WHERE id = ?
	`

	var pm domain.PaymentMethod
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&pm.ID, &pm.Issuer, &pm.Name, &pm.Type,
		&pm.RewardCurrencyID, &pm.StatementStartDay, &active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pm.Active = active == 1
	return &pm, nil
}

// ListActivePaymentMethods returns active cards ordered by ID.
func (r *SQLRepository) ListActivePaymentMethods(ctx context.Context) ([]*domain.PaymentMethod, error) {
	query := `
		SELECT id, issuer, name, type, reward_currency_id, statement_start_day, active
		FROM payment_methods
		WHERE active = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*domain.PaymentMethod
	for rows.Next() {
		var pm domain.PaymentMethod
		var active int
		if err := rows.Scan(
			&pm.ID, &pm.Issuer, &pm.Name, &pm.Type,
			&pm.RewardCurrencyID, &pm.StatementStartDay, &active,
		); err != nil {
			return nil, err
		}
		pm.Active = active == 1
		methods = append(methods, &pm)
	}
	return methods, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

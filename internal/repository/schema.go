package repository

// Schema definitions for the Tally database.
// Compatible with both SQLite and PostgreSQL.

const schemaPaymentMethods = `
CREATE TABLE IF NOT EXISTS payment_methods (
    id TEXT PRIMARY KEY,
    issuer TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    reward_currency_id TEXT NOT NULL,
    statement_start_day INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_payment_methods_active ON payment_methods(active);
`

const schemaRewardRules = `
CREATE TABLE IF NOT EXISTS reward_rules (
    id TEXT PRIMARY KEY,
    card_type_id TEXT NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    conditions TEXT NOT NULL,
    base_point_rate REAL NOT NULL,
    bonus_point_rate REAL NOT NULL DEFAULT 0,
    monthly_cap REAL,
    cap_type TEXT,
    cap_group_id TEXT,
    cap_period TEXT,
    valid_until TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_rules_card_type ON reward_rules(card_type_id);
CREATE INDEX IF NOT EXISTS idx_reward_rules_enabled ON reward_rules(card_type_id, enabled);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    payment_method_id TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    payment_amount REAL NOT NULL,
    payment_currency TEXT NOT NULL,
    merchant_name TEXT NOT NULL,
    merchant_mcc TEXT NOT NULL DEFAULT '',
    merchant_online INTEGER NOT NULL DEFAULT 0,
    is_contactless INTEGER NOT NULL DEFAULT 0,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_pm ON transactions(payment_method_id);
CREATE INDEX IF NOT EXISTS idx_transactions_pm_date ON transactions(payment_method_id, date);
`

const schemaConversionRates = `
CREATE TABLE IF NOT EXISTS conversion_rates (
    reward_currency_id TEXT NOT NULL,
    miles_currency_id TEXT NOT NULL,
    rate REAL NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (reward_currency_id, miles_currency_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPaymentMethods,
		schemaRewardRules,
		schemaTransactions,
		schemaConversionRates,
	}
}

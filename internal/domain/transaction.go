package domain

import (
	"time"
)

// Transaction is a ledger entry the engine reads to attribute reward
// usage. The engine never writes reward amounts back.
type Transaction struct {
	ID string `json:"id"`

	// Date is when the purchase happened; all period arithmetic keys
	// off this, not CreatedAt.
	Date time.Time `json:"date"`

	// Amount/Currency are the purchase-side figures; PaymentAmount/
	// PaymentCurrency are what the card was billed. They differ for
	// foreign-currency purchases.
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	PaymentAmount   float64 `json:"paymentAmount"`
	PaymentCurrency string  `json:"paymentCurrency"`

	Merchant Merchant `json:"merchant"`

	IsContactless bool `json:"isContactless"`

	PaymentMethodID string `json:"paymentMethodId"`

	// IsDeleted marks a soft-deleted row; such rows are excluded from
	// all usage sums.
	IsDeleted bool `json:"isDeleted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Merchant holds the attributes conditions match against.
type Merchant struct {
	Name     string `json:"name"`
	MCC      string `json:"mcc"`
	IsOnline bool   `json:"isOnline"`
}

// PaymentMethod is a card the user holds.
type PaymentMethod struct {
	ID     string `json:"id"`
	Issuer string `json:"issuer"`
	Name   string `json:"name"`
	Type   string `json:"type"`

	// RewardCurrencyID is the card's native points currency, the
	// source side of miles conversion.
	RewardCurrencyID string `json:"rewardCurrencyId"`

	// StatementStartDay anchors statement-month cap periods (1-31).
	// 0 means not configured; statement periods then anchor on day 1.
	StatementStartDay int `json:"statementStartDay,omitempty"`

	Active bool `json:"active"`
}

// TransactionRequest is the API payload for recording a transaction.
type TransactionRequest struct {
	Date            time.Time `json:"date"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentAmount   float64   `json:"paymentAmount,omitempty"`
	PaymentCurrency string    `json:"paymentCurrency,omitempty"`
	Merchant        Merchant  `json:"merchant"`
	IsContactless   bool      `json:"isContactless,omitempty"`
	PaymentMethodID string    `json:"paymentMethodId"`
}

// ToTransaction converts a request to a Transaction, defaulting the
// payment side to the purchase side for same-currency spends.
func (r *TransactionRequest) ToTransaction() *Transaction {
	tx := &Transaction{
		Date:            r.Date,
		Amount:          r.Amount,
		Currency:        r.Currency,
		PaymentAmount:   r.PaymentAmount,
		PaymentCurrency: r.PaymentCurrency,
		Merchant:        r.Merchant,
		IsContactless:   r.IsContactless,
		PaymentMethodID: r.PaymentMethodID,
		CreatedAt:       time.Now().UTC(),
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	if tx.PaymentCurrency == "" {
		tx.PaymentCurrency = tx.Currency
	}
	if tx.PaymentAmount == 0 {
		tx.PaymentAmount = tx.Amount
	}
	return tx
}

package domain

import (
	"time"
)

// SimulationRequest describes a hypothetical purchase to compare
// across every active card. It is never written to the ledger.
type SimulationRequest struct {
	Date            time.Time `json:"date,omitempty"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentCurrency string    `json:"paymentCurrency,omitempty"`
	Merchant        Merchant  `json:"merchant"`
	IsContactless   bool      `json:"isContactless,omitempty"`

	// MilesCurrencyID is the common unit results are ranked in.
	MilesCurrencyID string `json:"milesCurrencyId"`
}

// HypotheticalFor builds the transaction the engine evaluates for one
// card. Payment amount defaults to the purchase amount.
func (r *SimulationRequest) HypotheticalFor(pm *PaymentMethod) *Transaction {
	date := r.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	paymentCurrency := r.PaymentCurrency
	if paymentCurrency == "" {
		paymentCurrency = r.Currency
	}
	return &Transaction{
		Date:            date,
		Amount:          r.Amount,
		Currency:        r.Currency,
		PaymentAmount:   r.Amount,
		PaymentCurrency: paymentCurrency,
		Merchant:        r.Merchant,
		IsContactless:   r.IsContactless,
		PaymentMethodID: pm.ID,
	}
}

// CardSimulation is one card's row in a simulation comparison.
// Excluded rows carry a human-readable reason instead of a ranking.
type CardSimulation struct {
	PaymentMethodID   string `json:"paymentMethodId"`
	PaymentMethodName string `json:"paymentMethodName,omitempty"`

	AppliedRuleID string `json:"appliedRuleId,omitempty"`

	BasePoints  float64 `json:"basePoints"`
	BonusPoints float64 `json:"bonusPoints"`
	TotalPoints float64 `json:"totalPoints"`

	RewardCurrencyID string   `json:"rewardCurrencyId,omitempty"`
	MilesEquivalent  *float64 `json:"milesEquivalent,omitempty"`

	Excluded bool   `json:"excluded,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Exclusion reasons surfaced in simulation results.
const (
	ReasonConversionUnavailable = "ConversionUnavailable"
)

package domain

import "time"

// ConversionRate maps one reward currency into a miles currency.
// Rates are directional; the reverse pair is a separate entry and is
// not assumed reciprocal.
type ConversionRate struct {
	RewardCurrencyID string    `json:"rewardCurrencyId"`
	MilesCurrencyID  string    `json:"milesCurrencyId"`
	Rate             float64   `json:"rate"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

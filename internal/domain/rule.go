// Package domain defines the core interfaces and types for Tally.
package domain

import (
	"fmt"
	"time"
)

// RewardRule defines a conditional earn rule attached to a card type.
// All conditions must hold for the rule to apply (AND); within one
// condition, any listed value may match (OR).
type RewardRule struct {
	ID         string `json:"id"`
	CardTypeID string `json:"cardTypeId"`
	Name       string `json:"name"`

	// Priority orders rule selection; higher is evaluated first.
	// Ties are broken by ascending rule ID.
	Priority int `json:"priority"`

	Enabled bool `json:"enabled"`

	// Conditions a transaction must satisfy. Empty = catch-all.
	Conditions ConditionList `json:"conditions"`

	Spec RewardSpec `json:"spec"`
}

// RewardSpec defines how a matched rule earns points and how the bonus
// portion is capped.
type RewardSpec struct {
	// Points earned per unit of payment-currency amount.
	BasePointRate  float64 `json:"basePointRate"`
	BonusPointRate float64 `json:"bonusPointRate"`

	// MonthlyCap limits the bonus within one accounting period.
	// nil means uncapped.
	MonthlyCap *float64 `json:"monthlyCap,omitempty"`

	CapType CapType `json:"capType,omitempty"`

	// CapGroupID pools cap usage across rules that share it.
	// Members must agree on CapType and CapPeriod.
	CapGroupID string `json:"capGroupId,omitempty"`

	CapPeriod CapPeriodType `json:"capDurationType,omitempty"`

	// ValidUntil is required when CapPeriod is promotional_period and
	// marks the last day of the promotion.
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// CapType determines what quantity a cap bounds.
type CapType string

const (
	// CapBonusPoints bounds the cumulative bonus points in the period.
	CapBonusPoints CapType = "bonus_points"

	// CapSpendAmount bounds the cumulative spend that earns bonus.
	CapSpendAmount CapType = "spend_amount"
)

// CapPeriodType determines the accounting window of a cap.
type CapPeriodType string

const (
	PeriodCalendarMonth  CapPeriodType = "calendar_month"
	PeriodStatementMonth CapPeriodType = "statement_month"
	PeriodPromotional    CapPeriodType = "promotional_period"
)

// CapUsage is the derived, display-facing view of a cap's consumption.
// It is recomputed on demand from the transaction ledger and never
// persisted.
type CapUsage struct {
	// Identifier is the rule ID, or the cap group ID for pooled caps.
	Identifier string `json:"identifier"`

	Used       float64       `json:"used"`
	Cap        float64       `json:"cap"`
	CapType    CapType       `json:"capType"`
	PeriodType CapPeriodType `json:"periodType"`
	ValidUntil *time.Time    `json:"validUntil,omitempty"`
	Percentage float64       `json:"percentage"`
}

// Reward is the outcome of evaluating one rule against one transaction.
type Reward struct {
	RuleID      string  `json:"ruleId,omitempty"`
	BasePoints  float64 `json:"basePoints"`
	BonusPoints float64 `json:"bonusPoints"`
}

// Total returns base plus bonus points.
func (r Reward) Total() float64 {
	return r.BasePoints + r.BonusPoints
}

// Expired reports whether a promotional rule's window has elapsed at t.
// Rules without a promotional period never expire. ValidUntil marks the
// last day of the promotion, so a purchase at any time on that day is
// still in-window; expiry starts at midnight of the following day, the
// same boundary the period arithmetic uses.
func (r *RewardRule) Expired(t time.Time) bool {
	if r.Spec.CapPeriod != PeriodPromotional || r.Spec.ValidUntil == nil {
		return false
	}
	v := r.Spec.ValidUntil.UTC()
	end := time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return !t.UTC().Before(end)
}

// CapIdentifier returns the identifier usage is attributed to: the cap
// group ID when the rule belongs to one, otherwise the rule ID.
func (r *RewardRule) CapIdentifier() string {
	if r.Spec.CapGroupID != "" {
		return r.Spec.CapGroupID
	}
	return r.ID
}

// Validate checks structural invariants enforced at rule-save time.
// Expression conditions are additionally compiled by the matcher.
func (r *RewardRule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if r.CardTypeID == "" {
		return &ValidationError{RuleID: r.ID, Field: "cardTypeId", Reason: "is required"}
	}
	if r.Spec.BasePointRate < 0 {
		return &ValidationError{RuleID: r.ID, Field: "basePointRate", Reason: "must be >= 0"}
	}
	if r.Spec.BonusPointRate < 0 {
		return &ValidationError{RuleID: r.ID, Field: "bonusPointRate", Reason: "must be >= 0"}
	}
	if r.Spec.MonthlyCap != nil {
		if *r.Spec.MonthlyCap < 0 {
			return &ValidationError{RuleID: r.ID, Field: "monthlyCap", Reason: "must be >= 0"}
		}
		switch r.Spec.CapType {
		case CapBonusPoints, CapSpendAmount:
		default:
			return &ValidationError{RuleID: r.ID, Field: "capType",
				Reason: fmt.Sprintf("unknown value %q", r.Spec.CapType)}
		}
		switch r.Spec.CapPeriod {
		case PeriodCalendarMonth, PeriodStatementMonth:
		case PeriodPromotional:
			if r.Spec.ValidUntil == nil {
				return &ValidationError{RuleID: r.ID, Field: "validUntil",
					Reason: "is required for promotional_period caps"}
			}
		default:
			return &ValidationError{RuleID: r.ID, Field: "capDurationType",
				Reason: fmt.Sprintf("unknown value %q", r.Spec.CapPeriod)}
		}
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return &ValidationError{RuleID: r.ID,
				Field:  fmt.Sprintf("conditions[%d]", i),
				Reason: err.Error()}
		}
	}
	return nil
}

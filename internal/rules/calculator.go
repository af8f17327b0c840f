package rules

import (
	"math"

	"github.com/opensource-finance/tally/internal/domain"
)

// Calculator turns a matched rule and a payment-currency amount into
// raw (pre-cap) point figures. Points are floored; switching to a
// different rounding policy is a change in this file only.
type Calculator struct {
	// defaultBaseRate applies when no rule matched. The value is a
	// policy decision of the calling layer, not of the engine.
	defaultBaseRate float64
}

// NewCalculator creates a calculator with the caller's fallback base
// rate for unmatched transactions.
func NewCalculator(defaultBaseRate float64) *Calculator {
	return &Calculator{defaultBaseRate: defaultBaseRate}
}

// Compute returns base and bonus points for paymentAmount under rule.
// A nil rule earns the default base rate and no bonus.
func (c *Calculator) Compute(rule *domain.RewardRule, paymentAmount float64) domain.Reward {
	if rule == nil {
		return domain.Reward{
			BasePoints: floorPoints(paymentAmount * c.defaultBaseRate),
		}
	}
	return domain.Reward{
		RuleID:      rule.ID,
		BasePoints:  floorPoints(paymentAmount * rule.Spec.BasePointRate),
		BonusPoints: floorPoints(paymentAmount * rule.Spec.BonusPointRate),
	}
}

// BonusFor returns the floored bonus a rule earns on an amount. Used
// by cap accounting when only the eligible portion of a spend earns.
func BonusFor(rule *domain.RewardRule, amount float64) float64 {
	if rule == nil || amount <= 0 {
		return 0
	}
	return floorPoints(amount * rule.Spec.BonusPointRate)
}

func floorPoints(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Floor(v)
}

package caps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rules"
)

// DefaultUsageTTL bounds how long cached cap usage lives even when no
// invalidation arrives.
const DefaultUsageTTL = 5 * time.Minute

// Accountant resolves accounting periods and clamps bonus points so
// cumulative usage never exceeds a rule's (or shared cap group's)
// limit. Usage is always recomputed from the transaction ledger;
// there is deliberately no persisted counter to drift out of sync.
type Accountant struct {
	txs     domain.TransactionStore
	matcher *rules.Matcher
	calc    *rules.Calculator

	// cache is the optional read-through cache for GetCapUsage,
	// stamped per payment method.
	cache    domain.UsageCache
	usageTTL time.Duration
}

// NewAccountant creates an accountant. cache may be nil to disable
// usage caching.
func NewAccountant(txs domain.TransactionStore, matcher *rules.Matcher, calc *rules.Calculator, cache domain.UsageCache) *Accountant {
	return &Accountant{
		txs:      txs,
		matcher:  matcher,
		calc:     calc,
		cache:    cache,
		usageTTL: DefaultUsageTTL,
	}
}

// capScope is the resolved cap a rule is accounted under: the pool
// identifier, the member rules feeding it, and the window parameters.
type capScope struct {
	identifier string
	members    map[string]bool
	cap        float64
	capType    domain.CapType
	periodType domain.CapPeriodType
	validUntil *time.Time
}

// resolveScope determines the cap pool for a rule. Rules sharing a
// capGroupId pool their usage; if the group members disagree on cap
// type or period, the group contract is undefined upstream, so the
// rule falls back to an independent per-rule cap and a warning is
// logged.
func resolveScope(rule *domain.RewardRule, ruleSet []*domain.RewardRule) capScope {
	scope := capScope{
		identifier: rule.ID,
		members:    map[string]bool{rule.ID: true},
		cap:        *rule.Spec.MonthlyCap,
		capType:    rule.Spec.CapType,
		periodType: rule.Spec.CapPeriod,
		validUntil: rule.Spec.ValidUntil,
	}

	groupID := rule.Spec.CapGroupID
	if groupID == "" {
		return scope
	}

	members := map[string]bool{}
	for _, r := range ruleSet {
		if !r.Enabled || r.Spec.CapGroupID != groupID || r.Spec.MonthlyCap == nil {
			continue
		}
		if r.Spec.CapType != rule.Spec.CapType || r.Spec.CapPeriod != rule.Spec.CapPeriod {
			slog.Warn("cap group members disagree on cap semantics, falling back to per-rule caps",
				"cap_group_id", groupID,
				"rule_id", rule.ID,
				"other_rule_id", r.ID,
			)
			return scope
		}
		members[r.ID] = true
	}
	members[rule.ID] = true

	scope.identifier = groupID
	scope.members = members
	return scope
}

// ClampBonus returns the bonus tx may earn under rule's cap, given the
// payment method's real ledger as the usage baseline. Base points are
// never capped; uncapped rules pass the raw bonus through.
func (a *Accountant) ClampBonus(ctx context.Context, ruleSet []*domain.RewardRule, rule *domain.RewardRule, pm *domain.PaymentMethod, tx *domain.Transaction, rawBonus float64) (float64, error) {
	if rule == nil || rule.Spec.MonthlyCap == nil {
		return rawBonus, nil
	}

	scope := resolveScope(rule, ruleSet)

	period, err := ResolvePeriod(scope.periodType, tx.Date, pm.StatementStartDay, scope.validUntil)
	if err != nil {
		return 0, err
	}

	usage, err := a.accumulate(ctx, ruleSet, scope, period, pm, tx.ID)
	if err != nil {
		return 0, err
	}

	switch scope.capType {
	case domain.CapBonusPoints:
		remaining := scope.cap - usage
		if remaining <= 0 {
			return 0, nil
		}
		if rawBonus > remaining {
			return remaining, nil
		}
		return rawBonus, nil

	case domain.CapSpendAmount:
		eligible := scope.cap - usage
		if eligible <= 0 {
			return 0, nil
		}
		if tx.PaymentAmount < eligible {
			eligible = tx.PaymentAmount
		}
		return rules.BonusFor(rule, eligible), nil

	default:
		return 0, fmt.Errorf("unknown cap type %q", scope.capType)
	}
}

// accumulate replays the period's ledger through the matcher and
// calculator, summing what the scope's member rules already consumed.
// For bonus caps each historical bonus is itself clamped against the
// remaining cap in date order, so the sum reproduces what was actually
// attributed. excludeTxID keeps the transaction under evaluation out
// of its own baseline.
func (a *Accountant) accumulate(ctx context.Context, ruleSet []*domain.RewardRule, scope capScope, period Period, pm *domain.PaymentMethod, excludeTxID string) (float64, error) {
	history, err := a.txs.GetTransactionsForPaymentMethod(ctx, pm.ID, period.Start, period.End)
	if err != nil {
		return 0, fmt.Errorf("failed to load period transactions: %w", err)
	}

	sort.Slice(history, func(i, j int) bool {
		if !history[i].Date.Equal(history[j].Date) {
			return history[i].Date.Before(history[j].Date)
		}
		return history[i].ID < history[j].ID
	})

	var usage float64
	for _, htx := range history {
		if htx.IsDeleted || htx.ID == excludeTxID || !period.Contains(htx.Date) {
			continue
		}

		matched, err := a.matcher.Match(ruleSet, htx)
		if err != nil {
			return 0, fmt.Errorf("transaction %s: %w", htx.ID, err)
		}
		if matched == nil || !scope.members[matched.ID] {
			continue
		}

		switch scope.capType {
		case domain.CapSpendAmount:
			usage += htx.PaymentAmount
		default:
			bonus := rules.BonusFor(matched, htx.PaymentAmount)
			remaining := scope.cap - usage
			if remaining <= 0 {
				continue
			}
			if bonus > remaining {
				bonus = remaining
			}
			usage += bonus
		}
	}

	return usage, nil
}

// GetCapUsage returns one display entry per distinct cap identifier
// for a payment method, deduplicating rules that share a cap group and
// skipping promotions that have already elapsed. Results are served
// from the stamped cache when the stamp still matches the method's
// current generation.
func (a *Accountant) GetCapUsage(ctx context.Context, ruleSet []*domain.RewardRule, pm *domain.PaymentMethod, now time.Time) ([]domain.CapUsage, error) {
	var gen uint64
	if a.cache != nil {
		var err error
		gen, err = a.cache.Generation(ctx, pm.ID)
		if err == nil {
			entries, stamp, err := a.cache.GetCapUsage(ctx, pm.ID)
			if err == nil && entries != nil && stamp == gen {
				return entries, nil
			}
		}
	}

	entries, err := a.computeCapUsage(ctx, ruleSet, pm, now)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.SetCapUsage(ctx, pm.ID, entries, gen, a.usageTTL); err != nil {
			slog.Warn("failed to cache cap usage",
				"payment_method_id", pm.ID,
				"error", err,
			)
		}
	}

	return entries, nil
}

func (a *Accountant) computeCapUsage(ctx context.Context, ruleSet []*domain.RewardRule, pm *domain.PaymentMethod, now time.Time) ([]domain.CapUsage, error) {
	seen := map[string]bool{}
	entries := make([]domain.CapUsage, 0)

	for _, rule := range ruleSet {
		if !rule.Enabled || rule.Spec.MonthlyCap == nil {
			continue
		}

		scope := resolveScope(rule, ruleSet)
		if seen[scope.identifier] {
			continue
		}
		seen[scope.identifier] = true

		// Elapsed promotions never appear in the active usage view.
		// Expiry is end-of-day, matching the matcher and the period
		// arithmetic.
		if rule.Expired(now) {
			continue
		}

		period, err := ResolvePeriod(scope.periodType, now, pm.StatementStartDay, scope.validUntil)
		if err != nil {
			return nil, err
		}

		usage, err := a.accumulate(ctx, ruleSet, scope, period, pm, "")
		if err != nil {
			return nil, err
		}

		entry := domain.CapUsage{
			Identifier: scope.identifier,
			Used:       usage,
			Cap:        scope.cap,
			CapType:    scope.capType,
			PeriodType: scope.periodType,
			ValidUntil: scope.validUntil,
		}
		if scope.cap > 0 {
			entry.Percentage = usage / scope.cap * 100
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identifier < entries[j].Identifier
	})

	return entries, nil
}

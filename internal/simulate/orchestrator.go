// Package simulate answers "which card should I use" by evaluating a
// hypothetical transaction against every active payment method.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/tally/internal/caps"
	"github.com/opensource-finance/tally/internal/cardid"
	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rates"
	"github.com/opensource-finance/tally/internal/rules"
)

const defaultMaxWorkers = 8

var tracer = otel.Tracer("tally-simulate")

// Orchestrator fans a simulation request out over active payment
// methods and merges the per-card results into a ranked comparison.
type Orchestrator struct {
	paymentMethods domain.PaymentMethodStore
	ruleStore      domain.RuleStore
	matcher        *rules.Matcher
	calculator     *rules.Calculator
	accountant     *caps.Accountant
	normalizer     *rates.Normalizer
	maxWorkers     int
}

// NewOrchestrator wires the simulation pipeline. maxWorkers bounds
// concurrent card evaluations; values < 1 use the default.
func NewOrchestrator(
	paymentMethods domain.PaymentMethodStore,
	ruleStore domain.RuleStore,
	matcher *rules.Matcher,
	calculator *rules.Calculator,
	accountant *caps.Accountant,
	normalizer *rates.Normalizer,
	maxWorkers int,
) *Orchestrator {
	if maxWorkers < 1 {
		maxWorkers = defaultMaxWorkers
	}
	return &Orchestrator{
		paymentMethods: paymentMethods,
		ruleStore:      ruleStore,
		matcher:        matcher,
		calculator:     calculator,
		accountant:     accountant,
		normalizer:     normalizer,
		maxWorkers:     maxWorkers,
	}
}

// Simulate evaluates the request against every active payment method
// in parallel. A failure on one card excludes that card with a reason
// and never aborts the batch.
func (o *Orchestrator) Simulate(ctx context.Context, req *domain.SimulationRequest) ([]domain.CardSimulation, error) {
	ctx, span := tracer.Start(ctx, "simulate.fanout",
		trace.WithAttributes(
			attribute.Float64("simulation.amount", req.Amount),
			attribute.String("simulation.currency", req.Currency),
		),
	)
	defer span.End()

	methods, err := o.paymentMethods.ListActivePaymentMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	span.SetAttributes(attribute.Int("simulation.card_count", len(methods)))
	if len(methods) == 0 {
		return []domain.CardSimulation{}, nil
	}

	results := make([]domain.CardSimulation, len(methods))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, o.maxWorkers)

	for i, pm := range methods {
		wg.Add(1)
		go func(idx int, pm *domain.PaymentMethod) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = o.evaluateCard(ctx, pm, req)
		}(i, pm)
	}

	wg.Wait()

	sortSimulations(results)
	return results, nil
}

// EvaluateCard runs the full pipeline for a single payment method.
// Exported for the preview endpoint, which scores one known card.
func (o *Orchestrator) EvaluateCard(ctx context.Context, pm *domain.PaymentMethod, req *domain.SimulationRequest) domain.CardSimulation {
	return o.evaluateCard(ctx, pm, req)
}

func (o *Orchestrator) evaluateCard(ctx context.Context, pm *domain.PaymentMethod, req *domain.SimulationRequest) domain.CardSimulation {
	result := domain.CardSimulation{
		PaymentMethodID:   pm.ID,
		PaymentMethodName: pm.Name,
		RewardCurrencyID:  pm.RewardCurrencyID,
	}

	cardTypeID := cardid.Generate(pm.Issuer, pm.Name)
	ruleSet, err := o.ruleStore.GetRulesForCardType(ctx, cardTypeID)
	if err != nil {
		slog.Warn("rule lookup failed during simulation",
			"payment_method_id", pm.ID,
			"card_type_id", cardTypeID,
			"error", err)
		result.Excluded = true
		result.Reason = err.Error()
		return result
	}

	tx := req.HypotheticalFor(pm)

	// A card with no rules still participates: it just earns nothing.
	rule, err := o.matcher.Match(ruleSet, tx)
	if err != nil {
		slog.Warn("rule matching failed during simulation",
			"payment_method_id", pm.ID,
			"error", err)
		result.Excluded = true
		result.Reason = err.Error()
		return result
	}
	reward := o.calculator.Compute(rule, tx.PaymentAmount)

	if rule != nil && reward.BonusPoints > 0 {
		clamped, err := o.accountant.ClampBonus(ctx, ruleSet, rule, pm, tx, reward.BonusPoints)
		if err != nil {
			slog.Warn("cap accounting failed during simulation",
				"payment_method_id", pm.ID,
				"rule_id", rule.ID,
				"error", err)
			result.Excluded = true
			result.Reason = err.Error()
			return result
		}
		reward.BonusPoints = clamped
	}

	if rule != nil {
		result.AppliedRuleID = rule.ID
	}
	result.BasePoints = reward.BasePoints
	result.BonusPoints = reward.BonusPoints
	result.TotalPoints = reward.Total()

	if req.MilesCurrencyID != "" {
		miles, err := o.normalizer.Convert(result.TotalPoints, pm.RewardCurrencyID, req.MilesCurrencyID)
		if err != nil {
			if errors.Is(err, domain.ErrConversionUnavailable) {
				result.Excluded = true
				result.Reason = domain.ReasonConversionUnavailable
			} else {
				result.Excluded = true
				result.Reason = err.Error()
			}
			return result
		}
		result.MilesEquivalent = &miles
	}

	return result
}

// sortSimulations orders included cards by miles (or raw points when no
// miles target was requested) descending, with payment method ID as a
// stable tie-break. Excluded cards sort last.
func sortSimulations(results []domain.CardSimulation) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Excluded != b.Excluded {
			return !a.Excluded
		}
		av, bv := a.TotalPoints, b.TotalPoints
		if a.MilesEquivalent != nil && b.MilesEquivalent != nil {
			av, bv = *a.MilesEquivalent, *b.MilesEquivalent
		}
		if av != bv {
			return av > bv
		}
		return a.PaymentMethodID < b.PaymentMethodID
	})
}

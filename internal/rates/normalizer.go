// Package rates converts card reward currencies into a common miles
// unit for side-by-side comparison.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

type ratePair struct {
	from string
	to   string
}

// Normalizer converts amounts between reward currencies using an
// in-memory snapshot of the rate table, reloaded from the store on
// demand. Rates are directional and never assumed reciprocal.
type Normalizer struct {
	mu    sync.RWMutex
	store domain.ConversionRateStore
	table map[ratePair]float64
}

// NewNormalizer creates a normalizer backed by the given rate store.
// Call Reload before the first conversion.
func NewNormalizer(store domain.ConversionRateStore) *Normalizer {
	return &Normalizer{
		store: store,
		table: make(map[ratePair]float64),
	}
}

// Reload replaces the rate snapshot with the store's current table.
func (n *Normalizer) Reload(ctx context.Context) error {
	rates, err := n.store.GetRates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversion rates: %w", err)
	}

	table := make(map[ratePair]float64, len(rates))
	for _, r := range rates {
		table[ratePair{from: r.RewardCurrencyID, to: r.MilesCurrencyID}] = r.Rate
	}

	n.mu.Lock()
	n.table = table
	n.mu.Unlock()

	return nil
}

// Convert returns amount expressed in the target miles currency.
// A missing pair returns ErrConversionUnavailable; the caller decides
// whether that excludes a card or aborts.
func (n *Normalizer) Convert(amount float64, fromRewardCurrencyID, toMilesCurrencyID string) (float64, error) {
	if fromRewardCurrencyID == toMilesCurrencyID {
		return amount, nil
	}

	n.mu.RLock()
	rate, ok := n.table[ratePair{from: fromRewardCurrencyID, to: toMilesCurrencyID}]
	n.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s",
			domain.ErrConversionUnavailable, fromRewardCurrencyID, toMilesCurrencyID)
	}
	return amount * rate, nil
}

// BatchUpdate upserts rate triples through the store and refreshes the
// snapshot. Applying the same batch twice yields the same table.
func (n *Normalizer) BatchUpdate(ctx context.Context, updates []domain.ConversionRate) error {
	for i, u := range updates {
		if u.RewardCurrencyID == "" || u.MilesCurrencyID == "" {
			return fmt.Errorf("rate update %d: currency ids are required", i)
		}
		if u.Rate <= 0 {
			return fmt.Errorf("rate update %d: rate must be positive", i)
		}
		if u.UpdatedAt.IsZero() {
			updates[i].UpdatedAt = time.Now().UTC()
		}
	}

	if err := n.store.Upsert(ctx, updates); err != nil {
		return fmt.Errorf("failed to upsert conversion rates: %w", err)
	}

	return n.Reload(ctx)
}

// RateCount returns the number of pairs in the current snapshot.
func (n *Normalizer) RateCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.table)
}

package caps

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rules"
)

// fakeTxStore serves a fixed ledger, filtered the way the SQL
// repository does: soft-deleted rows excluded, from <= date < to.
type fakeTxStore struct {
	txs []*domain.Transaction
}

func (s *fakeTxStore) GetTransactionsForPaymentMethod(_ context.Context, pmID string, from, to time.Time) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range s.txs {
		if tx.PaymentMethodID != pmID || tx.IsDeleted {
			continue
		}
		if tx.Date.Before(from) && !from.IsZero() {
			continue
		}
		if !tx.Date.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeTxStore) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	for _, tx := range s.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, nil
}

func (s *fakeTxStore) SaveTransaction(_ context.Context, tx *domain.Transaction) error {
	s.txs = append(s.txs, tx)
	return nil
}

func (s *fakeTxStore) DeleteTransaction(_ context.Context, id string) error {
	for _, tx := range s.txs {
		if tx.ID == id {
			tx.IsDeleted = true
		}
	}
	return nil
}

func newAccountant(t *testing.T, store domain.TransactionStore, cache domain.UsageCache) *Accountant {
	t.Helper()
	m, err := rules.NewMatcher()
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return NewAccountant(store, m, rules.NewCalculator(1), cache)
}

func diningRule(capPoints float64) *domain.RewardRule {
	return &domain.RewardRule{
		ID:         "dining",
		CardTypeID: "chase-sapphire-preferred",
		Priority:   10,
		Enabled:    true,
		Conditions: domain.ConditionList{domain.MCCInclude{Codes: []string{"5811", "5812", "5813"}}},
		Spec: domain.RewardSpec{
			BasePointRate:  1,
			BonusPointRate: 3,
			MonthlyCap:     &capPoints,
			CapType:        domain.CapBonusPoints,
			CapPeriod:      domain.PeriodCalendarMonth,
		},
	}
}

func diningSpend(id string, day int, amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:              id,
		PaymentMethodID: "pm-1",
		Date:            time.Date(2025, 3, day, 12, 0, 0, 0, time.UTC),
		Amount:          amount,
		Currency:        "USD",
		PaymentAmount:   amount,
		PaymentCurrency: "USD",
		Merchant:        domain.Merchant{Name: "Diner", MCC: "5812"},
	}
}

func TestClampBonus(t *testing.T) {
	ctx := context.Background()
	pm := &domain.PaymentMethod{ID: "pm-1", Active: true}

	t.Run("UnderCapPassesThrough", func(t *testing.T) {
		rule := diningRule(2000)
		a := newAccountant(t, &fakeTxStore{}, nil)
		tx := diningSpend("tx-1", 14, 100)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tx, 300)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 300 {
			t.Errorf("ClampBonus = %v, want 300", got)
		}
	})

	t.Run("PartialRemainingCap", func(t *testing.T) {
		rule := diningRule(2000)
		// Prior spends consume 1800 of the 2000 bonus cap.
		store := &fakeTxStore{txs: []*domain.Transaction{
			diningSpend("tx-a", 2, 400),
			diningSpend("tx-b", 5, 200),
		}}
		a := newAccountant(t, store, nil)
		tx := diningSpend("tx-2", 14, 100)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tx, 300)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 200 {
			t.Errorf("ClampBonus = %v, want 200 (cap 2000, used 1800)", got)
		}
	})

	t.Run("ExhaustedCapYieldsZero", func(t *testing.T) {
		rule := diningRule(600)
		store := &fakeTxStore{txs: []*domain.Transaction{
			diningSpend("tx-a", 2, 300), // 900 raw bonus, clamped to 600
		}}
		a := newAccountant(t, store, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, diningSpend("tx-2", 14, 50), 150)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 0 {
			t.Errorf("ClampBonus = %v, want 0", got)
		}
	})

	t.Run("UncappedRulePassesThrough", func(t *testing.T) {
		rule := diningRule(0)
		rule.Spec.MonthlyCap = nil
		a := newAccountant(t, &fakeTxStore{}, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, diningSpend("tx-1", 14, 5000), 15000)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 15000 {
			t.Errorf("ClampBonus = %v, want 15000", got)
		}
	})

	t.Run("ExcludesTransactionUnderEvaluation", func(t *testing.T) {
		rule := diningRule(2000)
		tx := diningSpend("tx-self", 14, 100)
		// The transaction being evaluated is already in the ledger
		// (re-evaluation after an edit); it must not count against
		// its own cap.
		store := &fakeTxStore{txs: []*domain.Transaction{tx}}
		a := newAccountant(t, store, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tx, 300)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 300 {
			t.Errorf("ClampBonus = %v, want 300", got)
		}
	})

	t.Run("IgnoresSoftDeletedSpends", func(t *testing.T) {
		rule := diningRule(600)
		deleted := diningSpend("tx-gone", 2, 300)
		deleted.IsDeleted = true
		store := &fakeTxStore{txs: []*domain.Transaction{deleted}}
		a := newAccountant(t, store, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, diningSpend("tx-2", 14, 50), 150)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 150 {
			t.Errorf("ClampBonus = %v, want 150", got)
		}
	})

	t.Run("PriorMonthDoesNotCount", func(t *testing.T) {
		rule := diningRule(600)
		feb := diningSpend("tx-feb", 2, 300)
		feb.Date = time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
		store := &fakeTxStore{txs: []*domain.Transaction{feb}}
		a := newAccountant(t, store, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, diningSpend("tx-2", 14, 100), 300)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 300 {
			t.Errorf("ClampBonus = %v, want 300", got)
		}
	})
}

func TestClampBonusSpendCap(t *testing.T) {
	ctx := context.Background()
	pm := &domain.PaymentMethod{ID: "pm-1", Active: true}

	spendCap := 5000.0
	rule := &domain.RewardRule{
		ID:         "contactless",
		CardTypeID: "uob-cash-plus",
		Priority:   10,
		Enabled:    true,
		Conditions: domain.ConditionList{domain.ContactlessOnly{}},
		Spec: domain.RewardSpec{
			BasePointRate:  1,
			BonusPointRate: 2,
			MonthlyCap:     &spendCap,
			CapType:        domain.CapSpendAmount,
			CapPeriod:      domain.PeriodCalendarMonth,
		},
	}

	tap := func(id string, day int, amount float64) *domain.Transaction {
		tx := diningSpend(id, day, amount)
		tx.IsContactless = true
		return tx
	}

	t.Run("PartialEligibility", func(t *testing.T) {
		// 4800 of 5000 spend already consumed; only 200 of the next
		// 500 earns bonus.
		store := &fakeTxStore{txs: []*domain.Transaction{
			tap("tx-a", 2, 3000),
			tap("tx-b", 5, 1800),
		}}
		a := newAccountant(t, store, nil)

		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tap("tx-2", 14, 500), 1000)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 400 { // BonusFor(rule, 200) = 200 * 2
			t.Errorf("ClampBonus = %v, want 400", got)
		}
	})

	t.Run("FullyEligible", func(t *testing.T) {
		a := newAccountant(t, &fakeTxStore{}, nil)
		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tap("tx-1", 14, 500), 1000)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 1000 {
			t.Errorf("ClampBonus = %v, want 1000", got)
		}
	})

	t.Run("SpendCapExhausted", func(t *testing.T) {
		store := &fakeTxStore{txs: []*domain.Transaction{tap("tx-a", 2, 5000)}}
		a := newAccountant(t, store, nil)
		got, err := a.ClampBonus(ctx, []*domain.RewardRule{rule}, rule, pm, tap("tx-2", 14, 100), 200)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 0 {
			t.Errorf("ClampBonus = %v, want 0", got)
		}
	})
}

func TestCapGroupPooling(t *testing.T) {
	ctx := context.Background()
	pm := &domain.PaymentMethod{ID: "pm-1", Active: true}
	groupCap := 1200.0

	online := &domain.RewardRule{
		ID:         "gold-online",
		CardTypeID: "amex-gold-card",
		Priority:   20,
		Enabled:    true,
		Conditions: domain.ConditionList{domain.OnlineOnly{}},
		Spec: domain.RewardSpec{
			BasePointRate:  1,
			BonusPointRate: 3,
			MonthlyCap:     &groupCap,
			CapType:        domain.CapBonusPoints,
			CapGroupID:     "gold-accelerated",
			CapPeriod:      domain.PeriodCalendarMonth,
		},
	}
	fcy := &domain.RewardRule{
		ID:         "gold-fcy",
		CardTypeID: "amex-gold-card",
		Priority:   10,
		Enabled:    true,
		Conditions: domain.ConditionList{domain.ForeignCurrencyOnly{}},
		Spec: domain.RewardSpec{
			BasePointRate:  1,
			BonusPointRate: 2,
			MonthlyCap:     &groupCap,
			CapType:        domain.CapBonusPoints,
			CapGroupID:     "gold-accelerated",
			CapPeriod:      domain.PeriodCalendarMonth,
		},
	}
	ruleSet := []*domain.RewardRule{online, fcy}

	t.Run("UsageFromOneMemberClampsTheOther", func(t *testing.T) {
		// 1000 bonus consumed by the online rule leaves 200 in the
		// shared pool for the foreign-currency rule.
		onlineTx := diningSpend("tx-online", 2, 100)
		onlineTx.Merchant.IsOnline = true
		onlineTx.Amount = 333.34
		onlineTx.PaymentAmount = 333.34 // floor(333.34*3) = 1000 bonus

		store := &fakeTxStore{txs: []*domain.Transaction{onlineTx}}
		a := newAccountant(t, store, nil)

		fcyTx := diningSpend("tx-fcy", 14, 200)
		fcyTx.Currency = "JPY"
		fcyTx.Amount = 30000

		got, err := a.ClampBonus(ctx, ruleSet, fcy, pm, fcyTx, 400)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 200 {
			t.Errorf("ClampBonus = %v, want 200 from the shared pool", got)
		}
	})

	t.Run("DisagreeingMembersFallBackToPerRuleCaps", func(t *testing.T) {
		other := *fcy
		other.Spec.CapPeriod = domain.PeriodStatementMonth
		set := []*domain.RewardRule{online, &other}

		onlineTx := diningSpend("tx-online", 2, 333.34)
		onlineTx.Merchant.IsOnline = true
		store := &fakeTxStore{txs: []*domain.Transaction{onlineTx}}
		a := newAccountant(t, store, nil)

		tx := diningSpend("tx-2", 14, 100)
		tx.Merchant.IsOnline = true

		// With the group contract broken, the online rule's cap only
		// counts its own prior usage (1000 of 1200).
		got, err := a.ClampBonus(ctx, set, online, pm, tx, 300)
		if err != nil {
			t.Fatalf("ClampBonus: %v", err)
		}
		if got != 200 {
			t.Errorf("ClampBonus = %v, want 200", got)
		}
	})
}

func TestGetCapUsage(t *testing.T) {
	ctx := context.Background()
	pm := &domain.PaymentMethod{ID: "pm-1", Active: true}
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("ComputesFromLedger", func(t *testing.T) {
		rule := diningRule(2000)
		store := &fakeTxStore{txs: []*domain.Transaction{
			diningSpend("tx-a", 2, 100), // 300 bonus
		}}
		a := newAccountant(t, store, nil)

		usage, err := a.GetCapUsage(ctx, []*domain.RewardRule{rule}, pm, now)
		if err != nil {
			t.Fatalf("GetCapUsage: %v", err)
		}
		if len(usage) != 1 {
			t.Fatalf("got %d entries, want 1", len(usage))
		}
		u := usage[0]
		if u.Identifier != "dining" || u.Used != 300 || u.Cap != 2000 {
			t.Errorf("usage = %+v, want dining 300/2000", u)
		}
		if u.Percentage != 15 {
			t.Errorf("Percentage = %v, want 15", u.Percentage)
		}
	})

	t.Run("DeduplicatesCapGroups", func(t *testing.T) {
		groupCap := 1200.0
		mk := func(id string, prio int) *domain.RewardRule {
			return &domain.RewardRule{
				ID: id, CardTypeID: "amex-gold-card", Priority: prio, Enabled: true,
				Spec: domain.RewardSpec{
					BasePointRate: 1, BonusPointRate: 3,
					MonthlyCap: &groupCap,
					CapType:    domain.CapBonusPoints,
					CapGroupID: "gold-accelerated",
					CapPeriod:  domain.PeriodCalendarMonth,
				},
			}
		}
		a := newAccountant(t, &fakeTxStore{}, nil)

		usage, err := a.GetCapUsage(ctx, []*domain.RewardRule{mk("a", 2), mk("b", 1)}, pm, now)
		if err != nil {
			t.Fatalf("GetCapUsage: %v", err)
		}
		if len(usage) != 1 {
			t.Fatalf("got %d entries, want 1 pooled entry", len(usage))
		}
		if usage[0].Identifier != "gold-accelerated" {
			t.Errorf("Identifier = %q, want gold-accelerated", usage[0].Identifier)
		}
	})

	t.Run("SkipsElapsedPromotions", func(t *testing.T) {
		past := date(2025, 1, 31)
		spendCap := 5000.0
		promo := &domain.RewardRule{
			ID: "promo", CardTypeID: "ct", Enabled: true,
			Spec: domain.RewardSpec{
				BasePointRate: 1, BonusPointRate: 4,
				MonthlyCap: &spendCap,
				CapType:    domain.CapSpendAmount,
				CapPeriod:  domain.PeriodPromotional,
				ValidUntil: &past,
			},
		}
		a := newAccountant(t, &fakeTxStore{}, nil)

		usage, err := a.GetCapUsage(ctx, []*domain.RewardRule{promo}, pm, now)
		if err != nil {
			t.Fatalf("GetCapUsage: %v", err)
		}
		if len(usage) != 0 {
			t.Errorf("got %d entries, want 0 for an elapsed promotion", len(usage))
		}
	})

	t.Run("UncappedRulesProduceNoEntry", func(t *testing.T) {
		base := &domain.RewardRule{ID: "base", CardTypeID: "ct", Enabled: true,
			Spec: domain.RewardSpec{BasePointRate: 1}}
		a := newAccountant(t, &fakeTxStore{}, nil)

		usage, err := a.GetCapUsage(ctx, []*domain.RewardRule{base}, pm, now)
		if err != nil {
			t.Fatalf("GetCapUsage: %v", err)
		}
		if len(usage) != 0 {
			t.Errorf("got %d entries, want 0", len(usage))
		}
	})
}

// stubCache records stamped reads and writes without TTL handling.
type stubCache struct {
	entries map[string][]domain.CapUsage
	stamps  map[string]uint64
	gens    map[string]uint64
	sets    int
}

func newStubCache() *stubCache {
	return &stubCache{
		entries: map[string][]domain.CapUsage{},
		stamps:  map[string]uint64{},
		gens:    map[string]uint64{},
	}
}

func (c *stubCache) GetCapUsage(_ context.Context, pmID string) ([]domain.CapUsage, uint64, error) {
	return c.entries[pmID], c.stamps[pmID], nil
}

func (c *stubCache) SetCapUsage(_ context.Context, pmID string, entries []domain.CapUsage, stamp uint64, _ time.Duration) error {
	c.entries[pmID] = entries
	c.stamps[pmID] = stamp
	c.sets++
	return nil
}

func (c *stubCache) Generation(_ context.Context, pmID string) (uint64, error) {
	return c.gens[pmID], nil
}

func (c *stubCache) BumpGeneration(_ context.Context, pmID string) (uint64, error) {
	c.gens[pmID]++
	return c.gens[pmID], nil
}

func (c *stubCache) Ping(context.Context) error { return nil }
func (c *stubCache) Close() error               { return nil }

func TestGetCapUsageStampedCache(t *testing.T) {
	ctx := context.Background()
	pm := &domain.PaymentMethod{ID: "pm-1", Active: true}
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	rule := diningRule(2000)

	store := &fakeTxStore{txs: []*domain.Transaction{diningSpend("tx-a", 2, 100)}}
	cache := newStubCache()
	a := newAccountant(t, store, cache)
	ruleSet := []*domain.RewardRule{rule}

	// First read computes and populates the cache.
	first, err := a.GetCapUsage(ctx, ruleSet, pm, now)
	if err != nil {
		t.Fatalf("GetCapUsage: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}

	// A new ledger write without a generation bump would be invisible;
	// with the stamps in sync the cached entries are served as-is.
	store.txs = append(store.txs, diningSpend("tx-b", 5, 100))
	second, err := a.GetCapUsage(ctx, ruleSet, pm, now)
	if err != nil {
		t.Fatalf("GetCapUsage: %v", err)
	}
	if second[0].Used != first[0].Used {
		t.Errorf("expected cached usage %v, got %v", first[0].Used, second[0].Used)
	}

	// Bumping the generation makes the cached stamp trail, forcing a
	// recompute that sees the new transaction.
	if _, err := cache.BumpGeneration(ctx, pm.ID); err != nil {
		t.Fatalf("BumpGeneration: %v", err)
	}
	third, err := a.GetCapUsage(ctx, ruleSet, pm, now)
	if err != nil {
		t.Fatalf("GetCapUsage: %v", err)
	}
	if third[0].Used != 600 {
		t.Errorf("Used = %v, want 600 after invalidation", third[0].Used)
	}
	if cache.sets != 2 {
		t.Errorf("cache sets = %d, want 2", cache.sets)
	}
}

// Command seed populates a Tally SQLite database with a working set of
// cards, reward rules, conversion rates, and a month of transactions,
// so the simulation endpoints have something to chew on out of the box.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/tally/internal/cardid"
	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/repository"
)

func main() {
	dbPath := flag.String("db", "./tally.db", "path to the SQLite database")
	txCount := flag.Int("transactions", 40, "number of transactions to seed per card")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		slog.Error("failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	cards := seedPaymentMethods(ctx, repo)
	seedRules(ctx, repo, cards)
	seedRates(ctx, repo)
	seedTransactions(ctx, repo, cards, *txCount)

	slog.Info("seed complete", "db", *dbPath, "cards", len(cards))
}

func seedPaymentMethods(ctx context.Context, repo domain.Repository) []*domain.PaymentMethod {
	cards := []*domain.PaymentMethod{
		{
			ID:                "pm-sapphire",
			Issuer:            "Chase",
			Name:              "Sapphire Preferred",
			Type:              "credit",
			RewardCurrencyID:  "chase-ur",
			StatementStartDay: 17,
			Active:            true,
		},
		{
			ID:               "pm-gold",
			Issuer:           "American Express",
			Name:             "Gold Card",
			Type:             "credit",
			RewardCurrencyID: "amex-mr",
			Active:           true,
		},
		{
			ID:               "pm-cashplus",
			Issuer:           "UOB",
			Name:             "Cash Plus",
			Type:             "debit",
			RewardCurrencyID: "uob-cash",
			Active:           true,
		},
	}

	for _, pm := range cards {
		if err := repo.SavePaymentMethod(ctx, pm); err != nil {
			slog.Error("failed to seed payment method", "id", pm.ID, "error", err)
			os.Exit(1)
		}
		slog.Info("seeded payment method",
			"id", pm.ID,
			"card_type_id", cardid.Generate(pm.Issuer, pm.Name),
		)
	}
	return cards
}

func seedRules(ctx context.Context, repo domain.Repository, cards []*domain.PaymentMethod) {
	dining := 2000.0
	online := 1200.0
	promoCap := 5000.0
	promoEnd := time.Now().UTC().AddDate(0, 2, 0)

	ruleSets := map[string][]*domain.RewardRule{
		cardid.Generate("Chase", "Sapphire Preferred"): {
			{
				ID:       "sapphire-dining",
				Name:     "3x dining",
				Priority: 10,
				Enabled:  true,
				Conditions: domain.ConditionList{
					domain.MCCInclude{Codes: []string{"5811", "5812", "5813"}},
				},
				Spec: domain.RewardSpec{
					BasePointRate:  1,
					BonusPointRate: 2,
					MonthlyCap:     &dining,
					CapType:        domain.CapBonusPoints,
					CapPeriod:      domain.PeriodStatementMonth,
				},
			},
			{
				ID:       "sapphire-base",
				Name:     "1x everything",
				Priority: 0,
				Enabled:  true,
				Spec: domain.RewardSpec{
					BasePointRate: 1,
				},
			},
		},
		cardid.Generate("American Express", "Gold Card"): {
			{
				ID:       "gold-online",
				Name:     "4x online spend",
				Priority: 20,
				Enabled:  true,
				Conditions: domain.ConditionList{
					domain.OnlineOnly{},
				},
				Spec: domain.RewardSpec{
					BasePointRate:  1,
					BonusPointRate: 3,
					MonthlyCap:     &online,
					CapType:        domain.CapBonusPoints,
					CapGroupID:     "gold-accelerated",
					CapPeriod:      domain.PeriodCalendarMonth,
				},
			},
			{
				ID:       "gold-fcy",
				Name:     "4x foreign currency",
				Priority: 20,
				Enabled:  true,
				Conditions: domain.ConditionList{
					domain.ForeignCurrencyOnly{},
				},
				Spec: domain.RewardSpec{
					BasePointRate:  1,
					BonusPointRate: 3,
					MonthlyCap:     &online,
					CapType:        domain.CapBonusPoints,
					CapGroupID:     "gold-accelerated",
					CapPeriod:      domain.PeriodCalendarMonth,
				},
			},
			{
				ID:       "gold-base",
				Name:     "1x everything",
				Priority: 0,
				Enabled:  true,
				Spec: domain.RewardSpec{
					BasePointRate: 1,
				},
			},
		},
		cardid.Generate("UOB", "Cash Plus"): {
			{
				ID:       "cashplus-promo",
				Name:     "launch promo 2x contactless",
				Priority: 5,
				Enabled:  true,
				Conditions: domain.ConditionList{
					domain.ContactlessOnly{},
				},
				Spec: domain.RewardSpec{
					BasePointRate:  0.5,
					BonusPointRate: 0.5,
					MonthlyCap:     &promoCap,
					CapType:        domain.CapSpendAmount,
					CapPeriod:      domain.PeriodPromotional,
					ValidUntil:     &promoEnd,
				},
			},
			{
				ID:       "cashplus-base",
				Name:     "0.5x everything",
				Priority: 0,
				Enabled:  true,
				Spec: domain.RewardSpec{
					BasePointRate: 0.5,
				},
			},
		},
	}

	for cardTypeID, ruleSet := range ruleSets {
		for _, rule := range ruleSet {
			rule.CardTypeID = cardTypeID
			if err := rule.Validate(); err != nil {
				slog.Error("seed rule invalid", "id", rule.ID, "error", err)
				os.Exit(1)
			}
			if err := repo.SaveRule(ctx, rule); err != nil {
				slog.Error("failed to seed rule", "id", rule.ID, "error", err)
				os.Exit(1)
			}
		}
		slog.Info("seeded rules", "card_type_id", cardTypeID, "count", len(ruleSet))
	}
}

func seedRates(ctx context.Context, repo domain.Repository) {
	now := time.Now().UTC()
	rates := []domain.ConversionRate{
		{RewardCurrencyID: "chase-ur", MilesCurrencyID: "krisflyer", Rate: 1.0, UpdatedAt: now},
		{RewardCurrencyID: "amex-mr", MilesCurrencyID: "krisflyer", Rate: 0.6, UpdatedAt: now},
		{RewardCurrencyID: "chase-ur", MilesCurrencyID: "avios", Rate: 1.0, UpdatedAt: now},
		{RewardCurrencyID: "amex-mr", MilesCurrencyID: "avios", Rate: 0.8, UpdatedAt: now},
		// uob-cash deliberately has no pair: simulations targeting miles
		// should exclude that card rather than fail.
	}

	if err := repo.Upsert(ctx, rates); err != nil {
		slog.Error("failed to seed conversion rates", "error", err)
		os.Exit(1)
	}
	slog.Info("seeded conversion rates", "count", len(rates))
}

func seedTransactions(ctx context.Context, repo domain.Repository, cards []*domain.PaymentMethod, perCard int) {
	merchants := []domain.Merchant{
		{Name: "Blue Bottle Coffee", MCC: "5812"},
		{Name: "Whole Foods", MCC: "5411"},
		{Name: "Amazon", MCC: "5942", IsOnline: true},
		{Name: "Netflix", MCC: "4899", IsOnline: true},
		{Name: "Shell", MCC: "5541"},
	}

	start := time.Now().UTC().AddDate(0, -1, 0)
	total := 0

	for _, pm := range cards {
		for i := 0; i < perCard; i++ {
			m := merchants[i%len(merchants)]
			amount := float64(8 + (i*7)%120)
			tx := &domain.Transaction{
				ID:              uuid.New().String(),
				Date:            start.Add(time.Duration(i) * 18 * time.Hour),
				Amount:          amount,
				Currency:        "USD",
				PaymentAmount:   amount,
				PaymentCurrency: "USD",
				Merchant:        m,
				IsContactless:   i%3 == 0,
				PaymentMethodID: pm.ID,
				CreatedAt:       time.Now().UTC(),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				slog.Error("failed to seed transaction", "error", err)
				os.Exit(1)
			}
			total++
		}
	}

	fmt.Fprintf(os.Stderr, "seeded %d transactions across %d cards\n", total, len(cards))
}

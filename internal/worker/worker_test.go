package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/tally/internal/bus"
	"github.com/opensource-finance/tally/internal/cache"
	"github.com/opensource-finance/tally/internal/domain"
)

func publishEvent(t *testing.T, b domain.EventBus, topic string, event domain.TransactionEvent) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := b.Publish(context.Background(), topic, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

// waitForGeneration polls until the payment method's generation
// reaches want; delivery is async.
func waitForGeneration(t *testing.T, c domain.UsageCache, pmID string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		gen, err := c.Generation(context.Background(), pmID)
		if err != nil {
			t.Fatalf("Generation: %v", err)
		}
		if gen >= want {
			if gen > want {
				t.Fatalf("generation = %d, want %d", gen, want)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("generation never reached %d", want)
}

func TestInvalidatorBumpsGeneration(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)
	defer c.Close()

	w := NewInvalidator(b, c)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	if err := c.SetCapUsage(ctx, "pm-1", []domain.CapUsage{{Identifier: "dining", Used: 300}}, 0, time.Minute); err != nil {
		t.Fatalf("SetCapUsage: %v", err)
	}

	publishEvent(t, b, domain.TopicTransactionCreated, domain.TransactionEvent{
		TransactionID:   "tx-1",
		PaymentMethodID: "pm-1",
		Action:          "created",
	})

	waitForGeneration(t, c, "pm-1", 1)

	// The cached snapshot's stamp now trails the generation, which is
	// how the accountant detects it as stale.
	_, stamp, err := c.GetCapUsage(ctx, "pm-1")
	if err != nil {
		t.Fatalf("GetCapUsage: %v", err)
	}
	gen, err := c.Generation(ctx, "pm-1")
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if stamp >= gen {
		t.Errorf("stamp %d should trail generation %d", stamp, gen)
	}
}

func TestInvalidatorCoversAllTransactionTopics(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)
	defer c.Close()

	w := NewInvalidator(b, c)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	stats := w.GetStats()
	if stats.SubscriptionCount != 3 {
		t.Fatalf("SubscriptionCount = %d, want 3", stats.SubscriptionCount)
	}

	topics := []string{
		domain.TopicTransactionCreated,
		domain.TopicTransactionUpdated,
		domain.TopicTransactionDeleted,
	}
	for i, topic := range topics {
		publishEvent(t, b, topic, domain.TransactionEvent{
			TransactionID:   "tx-1",
			PaymentMethodID: "pm-1",
		})
		waitForGeneration(t, c, "pm-1", uint64(i+1))
	}
}

func TestInvalidatorIgnoresEventsWithoutPaymentMethod(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)
	defer c.Close()

	w := NewInvalidator(b, c)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	publishEvent(t, b, domain.TopicTransactionCreated, domain.TransactionEvent{TransactionID: "tx-1"})

	// Follow with a well-formed event to order the assertion behind
	// the malformed one.
	publishEvent(t, b, domain.TopicTransactionCreated, domain.TransactionEvent{
		TransactionID:   "tx-2",
		PaymentMethodID: "pm-1",
	})
	waitForGeneration(t, c, "pm-1", 1)
}

func TestInvalidatorStopUnsubscribes(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)
	defer c.Close()

	w := NewInvalidator(b, c)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("SubscriptionCount = %d after Stop, want 0", got)
	}
}

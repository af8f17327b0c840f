package caps

import (
	"testing"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolvePeriodCalendarMonth(t *testing.T) {
	p, err := ResolvePeriod(domain.PeriodCalendarMonth, date(2025, 3, 14), 0, nil)
	if err != nil {
		t.Fatalf("ResolvePeriod: %v", err)
	}
	if !p.Start.Equal(date(2025, 3, 1)) || !p.End.Equal(date(2025, 4, 1)) {
		t.Errorf("period = [%v, %v), want [2025-03-01, 2025-04-01)", p.Start, p.End)
	}

	t.Run("EmptyTypeDefaultsToCalendar", func(t *testing.T) {
		p, err := ResolvePeriod("", date(2025, 12, 31), 0, nil)
		if err != nil {
			t.Fatalf("ResolvePeriod: %v", err)
		}
		if !p.Start.Equal(date(2025, 12, 1)) || !p.End.Equal(date(2026, 1, 1)) {
			t.Errorf("period = [%v, %v), want December window", p.Start, p.End)
		}
	})
}

func TestResolvePeriodStatementMonth(t *testing.T) {
	tests := []struct {
		name      string
		at        time.Time
		anchorDay int
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			// Before the anchor: the window opened last month.
			name:      "BeforeAnchor",
			at:        date(2025, 3, 10),
			anchorDay: 20,
			wantStart: date(2025, 2, 20),
			wantEnd:   date(2025, 3, 20),
		},
		{
			name:      "OnAnchor",
			at:        date(2025, 3, 20),
			anchorDay: 20,
			wantStart: date(2025, 3, 20),
			wantEnd:   date(2025, 4, 20),
		},
		{
			name:      "AfterAnchor",
			at:        date(2025, 3, 25),
			anchorDay: 20,
			wantStart: date(2025, 3, 20),
			wantEnd:   date(2025, 4, 20),
		},
		{
			// A day-31 anchor clamps to Feb 28 in a non-leap year.
			name:      "Day31ClampsInFebruary",
			at:        date(2025, 2, 15),
			anchorDay: 31,
			wantStart: date(2025, 1, 31),
			wantEnd:   date(2025, 2, 28),
		},
		{
			name:      "Day31AfterFebruaryClamp",
			at:        date(2025, 2, 28),
			anchorDay: 31,
			wantStart: date(2025, 2, 28),
			wantEnd:   date(2025, 3, 31),
		},
		{
			// A day-31 anchor in a 31-day month must not produce an
			// empty window for mid-month spends.
			name:      "Day31MidMarch",
			at:        date(2025, 3, 15),
			anchorDay: 31,
			wantStart: date(2025, 2, 28),
			wantEnd:   date(2025, 3, 31),
		},
		{
			// On the anchor itself the window ends at the clamped
			// anchor of the next month, not two months out.
			name:      "Day31OnMarchAnchor",
			at:        date(2025, 3, 31),
			anchorDay: 31,
			wantStart: date(2025, 3, 31),
			wantEnd:   date(2025, 4, 30),
		},
		{
			name:      "Day31MidApril",
			at:        date(2025, 4, 15),
			anchorDay: 31,
			wantStart: date(2025, 3, 31),
			wantEnd:   date(2025, 4, 30),
		},
		{
			name:      "Day29BeforeMarchAnchor",
			at:        date(2025, 3, 1),
			anchorDay: 29,
			wantStart: date(2025, 2, 28),
			wantEnd:   date(2025, 3, 29),
		},
		{
			name:      "Day31YearBoundary",
			at:        date(2026, 1, 10),
			anchorDay: 31,
			wantStart: date(2025, 12, 31),
			wantEnd:   date(2026, 1, 31),
		},
		{
			name:      "UnconfiguredAnchorsOnDayOne",
			at:        date(2025, 3, 14),
			anchorDay: 0,
			wantStart: date(2025, 3, 1),
			wantEnd:   date(2025, 4, 1),
		},
		{
			name:      "YearBoundary",
			at:        date(2026, 1, 5),
			anchorDay: 17,
			wantStart: date(2025, 12, 17),
			wantEnd:   date(2026, 1, 17),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ResolvePeriod(domain.PeriodStatementMonth, tt.at, tt.anchorDay, nil)
			if err != nil {
				t.Fatalf("ResolvePeriod: %v", err)
			}
			if !p.Start.Equal(tt.wantStart) || !p.End.Equal(tt.wantEnd) {
				t.Errorf("period = [%v, %v), want [%v, %v)", p.Start, p.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestResolvePeriodPromotional(t *testing.T) {
	t.Run("EndsDayAfterValidUntil", func(t *testing.T) {
		until := time.Date(2025, 6, 30, 15, 4, 5, 0, time.UTC)
		p, err := ResolvePeriod(domain.PeriodPromotional, date(2025, 5, 1), 0, &until)
		if err != nil {
			t.Fatalf("ResolvePeriod: %v", err)
		}
		if !p.Start.IsZero() {
			t.Errorf("Start = %v, want zero (unbounded)", p.Start)
		}
		if !p.End.Equal(date(2025, 7, 1)) {
			t.Errorf("End = %v, want 2025-07-01", p.End)
		}
		// A spend at any time on the last day still counts.
		if !p.Contains(time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)) {
			t.Error("last day of promotion should be inside the window")
		}
		if p.Contains(date(2025, 7, 1)) {
			t.Error("day after validUntil should be outside the window")
		}
	})

	t.Run("MissingValidUntil", func(t *testing.T) {
		if _, err := ResolvePeriod(domain.PeriodPromotional, date(2025, 5, 1), 0, nil); err == nil {
			t.Fatal("expected error for promotional period without validUntil")
		}
	})
}

func TestResolvePeriodUnknownType(t *testing.T) {
	if _, err := ResolvePeriod("fortnight", date(2025, 5, 1), 0, nil); err == nil {
		t.Fatal("expected error for unknown period type")
	}
}

func TestPeriodContainsHalfOpen(t *testing.T) {
	p := Period{Start: date(2025, 3, 1), End: date(2025, 4, 1)}
	if !p.Contains(date(2025, 3, 1)) {
		t.Error("start boundary should be inside")
	}
	if p.Contains(date(2025, 4, 1)) {
		t.Error("end boundary should be outside")
	}
}

// Package caps resolves cap accounting periods and clamps bonus
// points against remaining cap.
package caps

import (
	"fmt"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

// Period is a half-open accounting window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ResolvePeriod returns the accounting window containing `at` for the
// given period type.
//
// calendar_month: the first day of at's month through the first day of
// the next month.
//
// statement_month: anchored on statementStartDay D. If at's day is on
// or after the anchor, the window runs from D of at's month to D of
// the next month; otherwise from D of the previous month to D of at's
// month. Anchor days beyond a month's length clamp to its last day.
//
// promotional_period: a fixed window ending at the end of validUntil's
// day, with an unbounded start.
func ResolvePeriod(periodType domain.CapPeriodType, at time.Time, statementStartDay int, validUntil *time.Time) (Period, error) {
	at = at.UTC()

	switch periodType {
	case domain.PeriodCalendarMonth, "":
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 1, 0)}, nil

	case domain.PeriodStatementMonth:
		day := statementStartDay
		if day < 1 {
			day = 1
		}
		// Neighbor anchors step the month index, not the clamped
		// anchor date: AddDate on a clamped Mar 31 anchor would
		// normalize Feb 31 back into March and yield an empty or
		// two-month window. time.Date handles month 0 and 13.
		anchor := statementAnchor(at.Year(), at.Month(), day)
		if at.Before(anchor) {
			return Period{
				Start: statementAnchor(at.Year(), at.Month()-1, day),
				End:   anchor,
			}, nil
		}
		return Period{
			Start: anchor,
			End:   statementAnchor(at.Year(), at.Month()+1, day),
		}, nil

	case domain.PeriodPromotional:
		if validUntil == nil {
			return Period{}, fmt.Errorf("promotional period requires validUntil")
		}
		v := validUntil.UTC()
		end := time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return Period{End: end}, nil

	default:
		return Period{}, fmt.Errorf("unknown period type %q", periodType)
	}
}

// statementAnchor returns midnight UTC of the anchor day in the given
// month, clamping day to the month's length so a day-31 anchor lands
// on Feb 28/29 rather than rolling into March.
func statementAnchor(year int, month time.Month, day int) time.Time {
	lastDay := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

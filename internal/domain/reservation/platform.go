package reservation

import (
	"context"
	"time"
)

// Adapter is the Platform capability of spec §4.2: the single interface the
// Orchestrator depends on, implemented once per real booking platform
// (design note §9 — replaces dynamic dispatch across loosely-typed platform
// modules with one capability every adapter implements).
type Adapter interface {
	Name() Platform

	// ResolveVenue is a pure lookup, no side effect.
	ResolveVenue(ctx context.Context, restaurantName string) (venueID string, err error)

	// TryBook is at-most-once per call from the platform's perspective. The
	// adapter selects the closest-by-absolute-difference slot to
	// timePreferred (ties break toward the earlier slot) and returns the
	// actual booked time in BookResult.BookedTime.
	TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) (BookResult, error)

	// SubscribeNotify registers a standing out-of-band alert.
	SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (ok bool, err error)
}

// BookOutcome is the sum-type discriminant for BookResult.
type BookOutcome int

const (
	OutcomeBooked BookOutcome = iota
	OutcomeNoAvailability
	OutcomeAuthExpired
	OutcomeTransportError
)

// BookResult is the outcome of a TryBook call (spec §4.2).
type BookResult struct {
	Outcome        BookOutcome
	ConfirmationID string
	BookedTime     string // HH:MM, actual slot booked
	Raw            string // JSON blob for audit/raw_response
	Err            error  // set when Outcome == OutcomeTransportError or OutcomeAuthExpired
}

// Slot is a platform-side availability candidate an adapter selects from
// when fulfilling TryBook.
type Slot struct {
	Start time.Time
	Meta  map[string]string
}

// ChooseClosestSlot returns the slot whose time-of-day is closest to
// preferred, in minutes, breaking ties toward the earlier slot (spec §4.2
// "Slot selection inside TryBook").
func ChooseClosestSlot(preferred time.Time, available []Slot) (Slot, bool) {
	if len(available) == 0 {
		return Slot{}, false
	}
	prefMinutes := preferred.Hour()*60 + preferred.Minute()
	best := available[0]
	bestDiff := minuteDiff(prefMinutes, best.Start)
	for _, s := range available[1:] {
		d := minuteDiff(prefMinutes, s.Start)
		if d < bestDiff || (d == bestDiff && s.Start.Before(best.Start)) {
			best, bestDiff = s, d
		}
	}
	return best, true
}

func minuteDiff(prefMinutes int, t time.Time) int {
	m := t.Hour()*60 + t.Minute()
	d := m - prefMinutes
	if d < 0 {
		d = -d
	}
	return d
}

// Package store defines the transactional persistence boundary of spec §4.1.
// A concrete Store commits a read, an optional mutation, and a log append
// atomically; see internal/store/postgres for the production implementation
// and internal/store/memstore for the in-process fake used by tests.
package store

import (
	"context"
	"fmt"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

// MutationFunc inspects the current snapshot of a Request and returns the
// next snapshot, zero or more ActivityLog entries to append in the same
// transaction, and an optional Booking to insert in the same transaction
// (spec §4.3: the booked transition, the Booking insert, and the
// `resy_booked` log entry commit together). Returning a non-nil error
// aborts the mutation without persisting anything (spec §4.1 "mutation_fn
// may reject the mutation by signaling abort").
type MutationFunc func(current reservation.Request) (next reservation.Request, logs []reservation.ActivityLog, booking *reservation.Booking, err error)

// Store is the persistence capability the Orchestrator, Sniper, Notification
// Router, and Supervisor depend on.
type Store interface {
	Create(ctx context.Context, spec reservation.RequestSpec) (int64, error)
	Load(ctx context.Context, id int64) (reservation.Request, error)
	Update(ctx context.Context, id int64, fn MutationFunc) (reservation.Request, error)
	ListByStatus(ctx context.Context, statuses []reservation.Status) ([]reservation.Request, error)

	// IncrementPollAttempts is the Sniper's single-column update, kept out
	// of the guarded Update path because it never changes status (spec
	// §4.4 step 4c: "single-column update, separate transaction").
	IncrementPollAttempts(ctx context.Context, id int64) error

	AppendLog(ctx context.Context, entry reservation.ActivityLog) error

	// UpsertSubscription creates or replaces the (RequestID, Platform)
	// subscription, including its Active flag, enforcing the
	// at-most-one-active invariant of spec §3.
	UpsertSubscription(ctx context.Context, sub reservation.Subscription) error
	ListActiveSubscriptionsByPlatform(ctx context.Context, platform reservation.Platform) ([]reservation.Subscription, error)
	ListSubscriptionsByRequest(ctx context.Context, requestID int64) ([]reservation.Subscription, error)
	DeactivateSubscriptions(ctx context.Context, requestID int64) error

	ListBookings(ctx context.Context) ([]reservation.Booking, error)
	ListLogs(ctx context.Context, requestID *int64, limit int) ([]reservation.ActivityLog, error)
}

// Guard enforces the cross-cutting invariants of spec §3/§5 that apply no
// matter which concrete Store executes the mutation: the status transition
// table, venue_id write-once, and terminal-state immutability. Both
// memstore and postgres call this inside their transaction before
// persisting, so the same rules govern both.
func Guard(current, next reservation.Request) error {
	if next.Status != current.Status {
		// CanTransition already encodes terminal-state immutability for a
		// status *change*: the only edges out of a terminal status are
		// no_availability -> notify_received (a notification for a request
		// that found nothing) and the cross-cutting retry rule (any
		// non-booked state, terminal or not, back to pending — spec §6
		// "returns to pending, 400 if already booked").
		if !reservation.CanTransition(current.Status, next.Status) {
			return fmt.Errorf("%w: %s -> %s", reservation.ErrInvalidTransition, current.Status, next.Status)
		}
	} else if current.Status.Terminal() && next.Platform != current.Platform {
		return fmt.Errorf("%w: request %d is terminal (%s)", reservation.ErrInvalidTransition, current.ID, current.Status)
	}
	if current.VenueID != "" && next.VenueID != current.VenueID {
		return fmt.Errorf("%w: venue_id is write-once (had %q, got %q)", reservation.ErrInvalidTransition, current.VenueID, next.VenueID)
	}
	if next.Status == reservation.StatusBooked && next.Platform == "" {
		return fmt.Errorf("%w: platform must be set atomically with booked transition", reservation.ErrInvalidTransition)
	}
	return nil
}

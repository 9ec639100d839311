// Package orchestrator drives the per-request acquisition state machine of
// spec §4.3, grounded on original_source/services/orchestrator.py
// (process_reservation, _try_resy, _resolve_venue_id) translated into Go
// control flow, and on the teacher's internal/scheduler.scheduler.go for
// the task-spawning idiom (generalized into internal/taskregistry).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/reservation-agent/internal/cancelbus"
	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/metrics"
	"github.com/example/reservation-agent/internal/store"
	"github.com/example/reservation-agent/internal/tracing"
)

// Primary is the platform Submit always tries first (spec §4.3 step 2:
// "the primary platform (Resy)").
const Primary = reservation.PlatformResy

type Orchestrator struct {
	Store     store.Store
	Platforms map[reservation.Platform]reservation.Adapter
	Clock     clock.Clock
	CancelBus *cancelbus.Bus

	// Sniper is set by the wiring code in cmd/ to break the import cycle
	// (Sniper itself calls back into TryPlatform via this Orchestrator).
	Sniper func(ctx context.Context, requestID int64) error

	log zerolog.Logger
}

func New(st store.Store, platforms map[reservation.Platform]reservation.Adapter, clk clock.Clock, bus *cancelbus.Bus) *Orchestrator {
	return &Orchestrator{
		Store:     st,
		Platforms: platforms,
		Clock:     clk,
		CancelBus: bus,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit is the entry point for a newly created Request (spec §4.3). It is
// idempotent: a second Submit on a non-pending request is a no-op.
func (o *Orchestrator) Submit(ctx context.Context, requestID int64) error {
	req, err := o.Store.Load(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != reservation.StatusPending {
		return nil
	}

	metrics.ReservationsTotal.Inc()

	if _, err := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status != reservation.StatusPending {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusSearching
		return next, []reservation.ActivityLog{o.logEntry(requestID, "search_started", nil, nil)}, nil, nil
	}); err != nil {
		return o.fail(ctx, requestID, err)
	}

	outcome, err := o.TryPlatform(ctx, requestID, Primary)
	if err != nil {
		return o.fail(ctx, requestID, err)
	}
	if outcome == reservation.OutcomeBooked {
		return nil
	}

	req, err = o.Store.Load(ctx, requestID)
	if err != nil {
		return o.fail(ctx, requestID, err)
	}
	if req.Status.Terminal() {
		return nil
	}

	if req.BookingOpenTime != nil && req.BookingOpenTime.After(o.Clock.Now()) {
		if o.Sniper == nil {
			return fmt.Errorf("%w: sniper not wired", reservation.ErrOrchestration)
		}
		return o.Sniper(ctx, requestID)
	}

	_, err = o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusNoAvailability
		details := marshalDetails(map[string]any{"reason": "No slots found and no booking_open_time set"})
		return next, []reservation.ActivityLog{o.logEntry(requestID, "no_availability", nil, details)}, nil, nil
	})
	if err != nil {
		return o.fail(ctx, requestID, err)
	}
	return nil
}

// Retry transitions any non-booked state back to pending and re-submits
// (spec §4.3 Retry).
func (o *Orchestrator) Retry(ctx context.Context, requestID int64) error {
	_, err := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusPending
		next.PollAttempts = 0
		return next, []reservation.ActivityLog{o.logEntry(requestID, "retried", nil, "")}, nil, nil
	})
	if err != nil {
		return err
	}
	return o.Submit(ctx, requestID)
}

// Cancel is the boundary cancel operation of spec §4.6: transition to
// cancelled from any non-terminal status, deactivate subscriptions, then
// fire the Cancellation Bus token so any in-flight sniper wakes promptly.
func (o *Orchestrator) Cancel(ctx context.Context, requestID int64) error {
	if _, err := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusCancelled
		return next, []reservation.ActivityLog{o.logEntry(requestID, "cancelled", nil, "")}, nil, nil
	}); err != nil {
		return err
	}
	if err := o.Store.DeactivateSubscriptions(ctx, requestID); err != nil {
		return err
	}
	o.CancelBus.Fire(requestID)
	return nil
}

// AutoBook is the entry point from the Notification Router: a single
// best-effort attempt on the named platform, without the sniper branch
// (spec §4.5: "_try_platform without the sniper branch").
func (o *Orchestrator) AutoBook(ctx context.Context, requestID int64, platform reservation.Platform) error {
	outcome, err := o.TryPlatform(ctx, requestID, platform)
	if err != nil {
		return o.fail(ctx, requestID, err)
	}
	if outcome != reservation.OutcomeBooked {
		return nil
	}
	// P5: subscriptions deactivate before the booking_confirmed log emits.
	if err := o.Store.DeactivateSubscriptions(ctx, requestID); err != nil {
		return err
	}
	return o.Store.AppendLog(ctx, o.logEntry(requestID, "booking_confirmed", &platform, ""))
}

// TryPlatform is spec §4.3's `_try_platform` subroutine, shared by Submit,
// the Sniper's poll loop (via a function field to avoid an import cycle),
// and AutoBook.
func (o *Orchestrator) TryPlatform(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "TryPlatform",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.String("platform", string(platform)),
		),
	)
	defer span.End()

	req, err := o.Store.Load(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if req.Status.Terminal() {
		// Already resolved (booked/cancelled/failed/no_availability elsewhere);
		// nothing to do. Not OutcomeBooked — zero value of BookOutcome.
		return reservation.OutcomeNoAvailability, nil
	}

	adapter, ok := o.Platforms[platform]
	if !ok {
		return 0, fmt.Errorf("%w: no adapter registered for platform %q", reservation.ErrOrchestration, platform)
	}

	correlationID := uuid.NewString()
	if err := o.Store.AppendLog(ctx, o.logEntry(requestID, string(platform)+"_search", &platform, marshalDetails(map[string]any{"correlation_id": correlationID}))); err != nil {
		return 0, err
	}

	venueID := req.VenueID
	if venueID == "" {
		resolved, rerr := adapter.ResolveVenue(ctx, req.RestaurantName)
		if rerr != nil {
			if errors.Is(rerr, reservation.ErrNotFound) {
				_ = o.Store.AppendLog(ctx, o.logEntry(requestID, string(platform)+"_venue_not_found", &platform, marshalDetails(map[string]any{"restaurant": req.RestaurantName})))
				metrics.PlatformCallsTotal.WithLabelValues(string(platform), "venue_not_found").Inc()
				return reservation.OutcomeNoAvailability, nil
			}
			return 0, rerr
		}
		venueID = resolved
		if _, err := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
			if current.Status.Terminal() || current.VenueID != "" {
				return current, nil, nil, nil
			}
			next := current
			next.VenueID = venueID
			return next, nil, nil, nil
		}); err != nil {
			return 0, err
		}
	}

	result, err := adapter.TryBook(ctx, venueID, req.Date, req.Time, req.PartySize)
	if err != nil {
		return 0, err
	}
	metrics.PlatformCallsTotal.WithLabelValues(string(platform), outcomeLabel(result.Outcome)).Inc()

	switch result.Outcome {
	case reservation.OutcomeBooked:
		return o.commitBooking(ctx, requestID, platform, venueID, req, result)
	case reservation.OutcomeNoAvailability:
		_ = o.Store.AppendLog(ctx, o.logEntry(requestID, string(platform)+"_unavailable", &platform, marshalDetails(result)))
		o.subscribe(ctx, requestID, platform, adapter, venueID, req)
		return reservation.OutcomeNoAvailability, nil
	case reservation.OutcomeAuthExpired:
		_ = o.Store.AppendLog(ctx, o.logEntry(requestID, string(platform)+"_auth_expired", &platform, ""))
		return reservation.OutcomeAuthExpired, nil
	case reservation.OutcomeTransportError:
		_ = o.Store.AppendLog(ctx, o.logEntry(requestID, "transport_ambiguous", &platform, marshalDetails(map[string]any{"error": errString(result.Err)})))
		return reservation.OutcomeTransportError, nil
	default:
		return 0, fmt.Errorf("%w: unknown outcome %d", reservation.ErrOrchestration, result.Outcome)
	}
}

func (o *Orchestrator) commitBooking(ctx context.Context, requestID int64, platform reservation.Platform, venueID string, req reservation.Request, result reservation.BookResult) (reservation.BookOutcome, error) {
	bookedTime := result.BookedTime
	if bookedTime == "" {
		bookedTime = req.Time
	}
	booking := &reservation.Booking{
		Platform:       platform,
		ConfirmationID: result.ConfirmationID,
		RestaurantName: req.RestaurantName,
		Date:           req.Date,
		Time:           bookedTime,
		PartySize:      req.PartySize,
		Status:         reservation.BookingStatusConfirmed,
		RawResponse:    result.Raw,
	}
	_, err := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			// Someone else already resolved this request (spec §5's
			// Sniper/Notification Router race on the same platform, or any
			// other terminal outcome) — P1 allows at most one confirmed
			// Booking, so the second commit must be rejected here rather
			// than sneak past Guard on a same-status, same-platform update.
			return current, nil, nil, reservation.ErrInvalidTransition
		}
		next := current
		next.Status = reservation.StatusBooked
		next.Platform = platform
		logs := []reservation.ActivityLog{o.logEntry(requestID, string(platform)+"_booked", &platform, marshalDetails(result))}
		return next, logs, booking, nil
	})
	if err != nil {
		if errors.Is(err, reservation.ErrInvalidTransition) {
			// Lost the race (spec §5 ordering guarantees): another task
			// already committed a booking for this request.
			_ = o.Store.AppendLog(ctx, o.logEntry(requestID, "duplicate_booking_detected", &platform, marshalDetails(result)))
			return reservation.OutcomeNoAvailability, nil
		}
		return 0, err
	}
	metrics.BookingsTotal.Inc()
	return reservation.OutcomeBooked, nil
}

// subscribe implements the Subscription creation policy decided for the
// open question in spec §9: a NoAvailability outcome (whether from the
// immediate search or a sniper/auto-book attempt) creates or reactivates a
// Subscription for the attempted platform.
func (o *Orchestrator) subscribe(ctx context.Context, requestID int64, platform reservation.Platform, adapter reservation.Adapter, venueID string, req reservation.Request) {
	ok, err := adapter.SubscribeNotify(ctx, venueID, req.Date, req.Time, req.PartySize)
	if err != nil {
		o.log.Warn().Err(err).Int64("request_id", requestID).Str("platform", string(platform)).Msg("subscribe_notify failed")
		return
	}
	sub := reservation.Subscription{
		RequestID:       requestID,
		Platform:        platform,
		RestaurantName:  req.RestaurantName,
		VenueID:         venueID,
		SearchDate:      req.Date,
		SearchTime:      req.Time,
		SearchPartySize: req.PartySize,
		Active:          ok,
	}
	if err := o.Store.UpsertSubscription(ctx, sub); err != nil {
		o.log.Warn().Err(err).Int64("request_id", requestID).Msg("upsert subscription failed")
	}
}

// fail implements spec §7's OrchestrationError path: on an uncaught error
// the request transitions to failed if non-terminal, and orchestration_error
// is logged, mirroring the original's top-level except-block.
func (o *Orchestrator) fail(ctx context.Context, requestID int64, cause error) error {
	o.log.Error().Err(cause).Int64("request_id", requestID).Msg("orchestration error")
	_, uerr := o.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusFailed
		return next, []reservation.ActivityLog{o.logEntry(requestID, "orchestration_error", nil, marshalDetails(map[string]any{"error": errString(cause)}))}, nil, nil
	})
	if uerr != nil && !errors.Is(uerr, reservation.ErrNotFound) {
		o.log.Error().Err(uerr).Msg("failed to record orchestration_error transition")
	}
	return fmt.Errorf("%w: %v", reservation.ErrOrchestration, cause)
}

func (o *Orchestrator) logEntry(requestID int64, action string, platform *reservation.Platform, details any) reservation.ActivityLog {
	id := requestID
	entry := reservation.ActivityLog{
		RequestID: &id,
		Timestamp: o.Clock.Now(),
		Action:    action,
		Platform:  platform,
	}
	switch d := details.(type) {
	case string:
		entry.Details = d
	default:
		entry.Details = marshalDetails(d)
	}
	return entry
}

func marshalDetails(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func outcomeLabel(o reservation.BookOutcome) string {
	switch o {
	case reservation.OutcomeBooked:
		return "booked"
	case reservation.OutcomeNoAvailability:
		return "no_availability"
	case reservation.OutcomeAuthExpired:
		return "auth_expired"
	case reservation.OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

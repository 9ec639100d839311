// Package sniper implements the wait-then-poll scheduler of spec §4.4,
// grounded on original_source/services/orchestrator.py's
// _snipe_reservation for the exact algorithm (clamped wait, poll-from-
// start-of-sleep cadence, deadline check) and on the teacher's
// internal/scheduler.Scheduler time.Ticker idiom for the poll loop shape.
package sniper

import (
	"context"
	"encoding/json"
	"time"

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

// TryPlatformFunc lets Sniper call back into the Orchestrator's
// _try_platform subroutine without an import cycle.
type TryPlatformFunc func(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error)

type Sniper struct {
	Store       store.Store
	Clock       clock.Clock
	CancelBus   *cancelbus.Bus
	TryPlatform TryPlatformFunc
	Platform    reservation.Platform

	log zerolog.Logger
}

func New(st store.Store, clk clock.Clock, bus *cancelbus.Bus, tryPlatform TryPlatformFunc, platform reservation.Platform) *Sniper {
	return &Sniper{
		Store:       st,
		Clock:       clk,
		CancelBus:   bus,
		TryPlatform: tryPlatform,
		Platform:    platform,
		log:         log.With().Str("component", "sniper").Logger(),
	}
}

// Run executes the full wait-then-poll algorithm for requestID (spec §4.4).
func (s *Sniper) Run(parent context.Context, requestID int64) error {
	parent, span := tracing.Tracer().Start(parent, "Sniper.Run",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.String("platform", string(s.Platform)),
		),
	)
	defer span.End()

	ctx, release := s.CancelBus.Register(parent, requestID)
	defer release()

	req, err := s.Store.Load(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return nil
	}
	if req.BookingOpenTime == nil {
		return nil
	}

	wait := req.BookingOpenTime.Sub(s.Clock.Now())
	if wait < 0 {
		wait = 0
	}

	if wait > 0 {
		if _, err := s.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
			if current.Status.Terminal() {
				return current, nil, nil, nil
			}
			next := current
			next.Status = reservation.StatusWaiting
			details := marshalDetails(map[string]any{"wait_seconds": roundSeconds(wait)})
			return next, []reservation.ActivityLog{s.logEntry(requestID, "sniper_waiting", details)}, nil, nil
		}); err != nil {
			return err
		}

		metrics.ActiveSnipers.Inc()
		if !s.sleep(ctx, wait) {
			// Cancellation command already transitioned status to cancelled
			// before firing the token (spec §4.6); exit without touching
			// status.
			metrics.ActiveSnipers.Dec()
			return nil
		}
	} else {
		metrics.ActiveSnipers.Inc()
	}
	defer metrics.ActiveSnipers.Dec()

	req, err = s.Store.Load(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == reservation.StatusCancelled {
		return nil
	}

	if _, err := s.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusPolling
		return next, []reservation.ActivityLog{s.logEntry(requestID, "sniper_polling_started", "")}, nil, nil
	}); err != nil {
		return err
	}

	deadline := s.Clock.Now().Add(req.MaxPollDuration)
	for s.Clock.Now().Before(deadline) {
		attemptStart := s.Clock.Now()
		cur, err := s.Store.Load(ctx, requestID)
		if err != nil {
			return err
		}
		if cur.Status == reservation.StatusCancelled {
			return nil
		}

		outcome, err := s.TryPlatform(ctx, requestID, s.Platform)
		if err != nil {
			return err
		}
		if outcome == reservation.OutcomeBooked {
			return nil
		}

		if err := s.Store.IncrementPollAttempts(ctx, requestID); err != nil {
			return err
		}
		metrics.PollAttemptsTotal.Inc()

		// Cadence is measured from the start of each attempt (spec §4.4
		// timing edge cases): the sleep covers only what is left of the poll
		// interval, so an attempt that overran it is followed immediately by
		// the next one, with no catch-up stacking.
		pause := reservation.DefaultPollInterval - s.Clock.Now().Sub(attemptStart)
		if pause < 0 {
			pause = 0
		}
		if !s.sleep(ctx, pause) {
			return nil
		}
	}

	final, err := s.Store.Load(ctx, requestID)
	if err != nil {
		return err
	}
	if final.Status.Terminal() {
		return nil
	}
	_, err = s.Store.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status.Terminal() {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusFailed
		details := marshalDetails(map[string]any{
			"poll_attempts": current.PollAttempts,
			"duration_secs": current.MaxPollDuration.Seconds(),
		})
		return next, []reservation.ActivityLog{s.logEntry(requestID, "sniper_timeout", details)}, nil, nil
	})
	return err
}

// sleep blocks for d or until ctx is cancelled (spec §4.6: waiting
// operations "must wake on either timer expiry or token fire, whichever
// comes first"). Returns false if woken by cancellation.
func (s *Sniper) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.Clock.After(d):
		return true
	}
}

func (s *Sniper) logEntry(requestID int64, action, details string) reservation.ActivityLog {
	id := requestID
	return reservation.ActivityLog{
		RequestID: &id,
		Timestamp: s.Clock.Now(),
		Action:    action,
		Details:   details,
	}
}

func marshalDetails(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func roundSeconds(d time.Duration) float64 {
	return float64(int(d.Seconds()*10)) / 10
}

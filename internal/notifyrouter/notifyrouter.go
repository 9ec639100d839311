// Package notifyrouter matches inbound Notification events to live
// Subscriptions and triggers auto-booking (spec §4.5), grounded on
// original_source/services/notification_handler.py (handle_notifications,
// _process_match) for the match-then-transaction-then-AutoBook-then-
// deactivate sequencing.
package notifyrouter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store"
	"github.com/example/reservation-agent/internal/taskregistry"
)

// AutoBookFunc is the Orchestrator's AutoBook entry point, wired in to
// avoid an import cycle between orchestrator and notifyrouter.
type AutoBookFunc func(ctx context.Context, requestID int64, platform reservation.Platform) error

var caser = cases.Lower(language.Und)

type Router struct {
	Store    store.Store
	Clock    clock.Clock
	AutoBook AutoBookFunc
	Tasks    *taskregistry.Registry

	log zerolog.Logger
}

func New(st store.Store, clk clock.Clock, autoBook AutoBookFunc, tasks *taskregistry.Registry) *Router {
	return &Router{
		Store:    st,
		Clock:    clk,
		AutoBook: autoBook,
		Tasks:    tasks,
		log:      log.With().Str("component", "notifyrouter").Logger(),
	}
}

// Handle processes one inbound Notification (spec §4.5 steps 1-5).
func (r *Router) Handle(ctx context.Context, n reservation.Notification) error {
	if n.RestaurantName == "" || n.Platform == "" {
		return nil
	}

	subs, err := r.Store.ListActiveSubscriptionsByPlatform(ctx, n.Platform)
	if err != nil {
		return err
	}

	matched := matchSubscriptions(n.RestaurantName, subs)
	if len(matched) == 0 {
		r.log.Info().Str("platform", string(n.Platform)).Str("restaurant", n.RestaurantName).Msg("no matching subscription for notification")
		return nil
	}

	for _, sub := range matched {
		sub := sub
		if err := r.processMatch(ctx, sub, n); err != nil {
			r.log.Error().Err(err).Int64("request_id", sub.RequestID).Msg("process notification match")
		}
	}
	return nil
}

// matchSubscriptions implements the fuzzy rule of spec §4.5 step 2:
// case-insensitive substring containment in either direction, via
// golang.org/x/text/cases locale-neutral case folding rather than
// strings.ToLower (design note §9's "fuzzy name matching" guidance —
// intentionally permissive).
func matchSubscriptions(notificationName string, subs []reservation.Subscription) []reservation.Subscription {
	folded := caser.String(notificationName)
	var out []reservation.Subscription
	for _, sub := range subs {
		subFolded := caser.String(sub.RestaurantName)
		if strings.Contains(folded, subFolded) || strings.Contains(subFolded, folded) {
			out = append(out, sub)
		}
	}
	return out
}

func (r *Router) processMatch(ctx context.Context, sub reservation.Subscription, n reservation.Notification) error {
	req, err := r.Store.Load(ctx, sub.RequestID)
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			return nil
		}
		return err
	}
	if req.Status == reservation.StatusBooked || req.Status == reservation.StatusCancelled {
		return nil
	}

	platform := n.Platform
	details := marshalDetails(map[string]any{
		"restaurant": n.RestaurantName,
		"subject":    n.Subject,
		"email_id":   n.EmailID,
	})
	requestID := sub.RequestID
	if _, err := r.Store.Update(ctx, sub.RequestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		if current.Status == reservation.StatusBooked || current.Status == reservation.StatusCancelled {
			return current, nil, nil, nil
		}
		next := current
		next.Status = reservation.StatusNotifyReceived
		logs := []reservation.ActivityLog{{
			RequestID: &requestID,
			Timestamp: r.Clock.Now(),
			Action:    "notification_received",
			Platform:  &platform,
			Details:   details,
		}}
		return next, logs, nil, nil
	}); err != nil {
		return err
	}

	r.log.Info().Int64("request_id", sub.RequestID).Str("platform", string(n.Platform)).Msg("auto-booking triggered from notification")

	// Outside the matching transaction; dispatched through the task
	// registry so the router's event loop never blocks on a platform call
	// (design note §9).
	r.Tasks.Go(sub.RequestID, func(ctx context.Context) error {
		return r.AutoBook(ctx, sub.RequestID, platform)
	})
	return nil
}

func marshalDetails(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

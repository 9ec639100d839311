// Package platform holds cross-cutting decorators shared by every
// reservation.Adapter implementation (resy, opentable): rate limiting here,
// caching in the venuecache subpackage.
package platform

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/tracing"
)

// RateLimited wraps an Adapter so TryBook/SubscribeNotify/ResolveVenue calls
// never exceed limiter's rate, independent of the Sniper's fixed poll
// cadence (spec §4.4 DefaultPollInterval) — the cap is shared by every
// caller of the adapter (Submit, Sniper, AutoBook), so concurrent requests
// together cannot exceed it.
type RateLimited struct {
	inner   reservation.Adapter
	limiter *rate.Limiter
}

// NewRateLimited caps inner at r events/sec with burst b.
func NewRateLimited(inner reservation.Adapter, r rate.Limit, b int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(r, b)}
}

var _ reservation.Adapter = (*RateLimited)(nil)

func (a *RateLimited) Name() reservation.Platform { return a.inner.Name() }

func (a *RateLimited) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Adapter.ResolveVenue",
		trace.WithAttributes(attribute.String("platform", string(a.inner.Name()))))
	defer span.End()

	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return a.inner.ResolveVenue(ctx, restaurantName)
}

func (a *RateLimited) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) (reservation.BookResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Adapter.TryBook",
		trace.WithAttributes(attribute.String("platform", string(a.inner.Name()))))
	defer span.End()

	if err := a.limiter.Wait(ctx); err != nil {
		return reservation.BookResult{}, err
	}
	return a.inner.TryBook(ctx, venueID, date, timePreferred, partySize)
}

func (a *RateLimited) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (bool, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Adapter.SubscribeNotify",
		trace.WithAttributes(attribute.String("platform", string(a.inner.Name()))))
	defer span.End()

	if err := a.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return a.inner.SubscribeNotify(ctx, venueID, date, timePreferred, partySize)
}

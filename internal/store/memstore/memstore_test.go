package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store"
)

func newTestRequest(t *testing.T, m *Memstore) int64 {
	t.Helper()
	id, err := m.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia",
		Date:           "2026-09-01",
		Time:           "19:00",
		PartySize:      2,
		ContactEmail:   "a@example.com",
	})
	require.NoError(t, err)
	return id
}

func setStatus(t *testing.T, m *Memstore, id int64, status reservation.Status) {
	t.Helper()
	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = status
		if status == reservation.StatusBooked {
			next.Platform = reservation.PlatformResy
		}
		return next, nil, nil, nil
	})
	require.NoError(t, err)
}

func TestGuard_NormalTransitionSucceeds(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)
	setStatus(t, m, id, reservation.StatusSearching)

	req, err := m.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusSearching, req.Status)
}

func TestGuard_RetryFromFailedIsAllowed(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)
	setStatus(t, m, id, reservation.StatusSearching)
	setStatus(t, m, id, reservation.StatusWaiting)
	setStatus(t, m, id, reservation.StatusPolling)
	setStatus(t, m, id, reservation.StatusFailed)

	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusPending
		return next, nil, nil, nil
	})
	require.NoError(t, err, "retry must be able to move a failed request back to pending")

	req, err := m.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusPending, req.Status)
}

func TestGuard_RetryFromBookedIsRejected(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)
	setStatus(t, m, id, reservation.StatusSearching)
	setStatus(t, m, id, reservation.StatusBooked)

	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusPending
		return next, nil, nil, nil
	})
	require.ErrorIs(t, err, reservation.ErrInvalidTransition)
}

func TestGuard_BookedStateIsImmutable(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)
	setStatus(t, m, id, reservation.StatusSearching)
	setStatus(t, m, id, reservation.StatusBooked)

	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Platform = reservation.PlatformOpenTable
		return next, nil, nil, nil
	})
	require.ErrorIs(t, err, reservation.ErrInvalidTransition)
}

func TestGuard_VenueIDWriteOnce(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)

	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.VenueID = "venue-1"
		return next, nil, nil, nil
	})
	require.NoError(t, err)

	_, err = m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.VenueID = "venue-2"
		return next, nil, nil, nil
	})
	require.ErrorIs(t, err, reservation.ErrInvalidTransition)
}

func TestGuard_InvalidSkipIsRejected(t *testing.T) {
	m := New()
	id := newTestRequest(t, m)

	_, err := m.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusBooked
		next.Platform = reservation.PlatformResy
		return next, nil, nil, nil
	})
	require.ErrorIs(t, err, reservation.ErrInvalidTransition, "pending cannot skip straight to booked")
}

func TestStore_InterfaceSatisfiedByGuard(t *testing.T) {
	var _ store.Store = New()
}

func TestListSubscriptionsByRequest_OnlyReturnsTheGivenRequest(t *testing.T) {
	m := New()
	id1 := newTestRequest(t, m)
	id2 := newTestRequest(t, m)

	require.NoError(t, m.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id1, Platform: reservation.PlatformResy, Active: true,
	}))
	require.NoError(t, m.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id1, Platform: reservation.PlatformOpenTable, Active: false,
	}))
	require.NoError(t, m.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id2, Platform: reservation.PlatformResy, Active: true,
	}))

	subs, err := m.ListSubscriptionsByRequest(context.Background(), id1)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, sub := range subs {
		require.Equal(t, id1, sub.RequestID)
	}
}

package notifyrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store/memstore"
	"github.com/example/reservation-agent/internal/taskregistry"
)

func TestHandle_MatchesFuzzyNameAndDispatchesAutoBook(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id, Platform: reservation.PlatformResy, RestaurantName: "Lilia", Active: true,
	}))

	tasks := taskregistry.New()
	var autoBookedID int64
	var autoBookedPlatform reservation.Platform
	autoBook := func(ctx context.Context, requestID int64, platform reservation.Platform) error {
		autoBookedID = requestID
		autoBookedPlatform = platform
		return nil
	}
	r := New(st, clock.NewFake(time.Now()), autoBook, tasks)

	err = r.Handle(context.Background(), reservation.Notification{
		Platform:       reservation.PlatformResy,
		RestaurantName: "Lilia NYC",
		Subject:        "A table opened up",
		EmailID:        "msg-1",
	})
	require.NoError(t, err)

	tasks.Wait()
	require.Equal(t, id, autoBookedID)
	require.Equal(t, reservation.PlatformResy, autoBookedPlatform)

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusNotifyReceived, req.Status)

	logs, err := st.ListLogs(context.Background(), &id, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Equal(t, "notification_received", logs[0].Action)
}

func TestHandle_NoMatchingSubscriptionIsANoop(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id, Platform: reservation.PlatformResy, RestaurantName: "Lilia", Active: true,
	}))

	tasks := taskregistry.New()
	called := false
	autoBook := func(ctx context.Context, requestID int64, platform reservation.Platform) error {
		called = true
		return nil
	}
	r := New(st, clock.NewFake(time.Now()), autoBook, tasks)

	err = r.Handle(context.Background(), reservation.Notification{
		Platform:       reservation.PlatformResy,
		RestaurantName: "Carbone",
		Subject:        "A table opened up",
		EmailID:        "msg-2",
	})
	require.NoError(t, err)
	tasks.Wait()
	require.False(t, called)

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusPending, req.Status)
}

func TestHandle_SkipsAlreadyBookedRequest(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)
	_, err = st.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusSearching
		return next, nil, nil, nil
	})
	require.NoError(t, err)
	_, err = st.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusBooked
		next.Platform = reservation.PlatformResy
		return next, nil, nil, nil
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id, Platform: reservation.PlatformResy, RestaurantName: "Lilia", Active: true,
	}))

	tasks := taskregistry.New()
	called := false
	autoBook := func(ctx context.Context, requestID int64, platform reservation.Platform) error {
		called = true
		return nil
	}
	r := New(st, clock.NewFake(time.Now()), autoBook, tasks)

	err = r.Handle(context.Background(), reservation.Notification{
		Platform:       reservation.PlatformResy,
		RestaurantName: "Lilia",
		Subject:        "A table opened up",
		EmailID:        "msg-3",
	})
	require.NoError(t, err)
	tasks.Wait()
	require.False(t, called)
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-agent/internal/cancelbus"
	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store/memstore"
)

// fakeAdapter lets each test script the outcome of TryBook/ResolveVenue
// without a real platform, mirroring spec §8's "stub Platform adapter"
// testability requirement.
type fakeAdapter struct {
	platform    reservation.Platform
	venueID     string
	resolveErr  error
	bookResult  reservation.BookResult
	bookErr     error
	subscribeOK bool
	subscribeErr error

	tryBookCalls int
}

func (f *fakeAdapter) Name() reservation.Platform { return f.platform }

func (f *fakeAdapter) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.venueID, nil
}

func (f *fakeAdapter) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) (reservation.BookResult, error) {
	f.tryBookCalls++
	if f.bookErr != nil {
		return reservation.BookResult{}, f.bookErr
	}
	return f.bookResult, nil
}

func (f *fakeAdapter) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (bool, error) {
	return f.subscribeOK, f.subscribeErr
}

func newOrchestrator(st *memstore.Memstore, adapter reservation.Adapter, clk clock.Clock) *Orchestrator {
	platforms := map[reservation.Platform]reservation.Adapter{
		reservation.PlatformResy: adapter,
	}
	return New(st, platforms, clk, cancelbus.New())
}

func TestSubmit_BooksImmediately(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)

	adapter := &fakeAdapter{
		platform: reservation.PlatformResy,
		venueID:  "venue-1",
		bookResult: reservation.BookResult{
			Outcome:        reservation.OutcomeBooked,
			ConfirmationID: "conf-1",
			BookedTime:     "19:00",
		},
	}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))

	require.NoError(t, orch.Submit(context.Background(), id))

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusBooked, req.Status)
	require.Equal(t, reservation.PlatformResy, req.Platform)

	bookings, err := st.ListBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	require.Equal(t, "conf-1", bookings[0].ConfirmationID)
}

func TestSubmit_NoAvailabilityNoWindowGoesToNoAvailability(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)

	adapter := &fakeAdapter{
		platform:    reservation.PlatformResy,
		venueID:     "venue-1",
		bookResult:  reservation.BookResult{Outcome: reservation.OutcomeNoAvailability},
		subscribeOK: true,
	}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))

	require.NoError(t, orch.Submit(context.Background(), id))

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusNoAvailability, req.Status)

	subs, err := st.ListActiveSubscriptionsByPlatform(context.Background(), reservation.PlatformResy)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, id, subs[0].RequestID)
}

func TestSubmit_NoAvailabilityWithFutureWindowDelegatesToSniper(t *testing.T) {
	st := memstore.New()
	opensAt := time.Now().Add(time.Hour)
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName:  "Lilia",
		Date:            "2026-09-01",
		Time:            "19:00",
		PartySize:       2,
		ContactEmail:    "a@example.com",
		BookingOpenTime: &opensAt,
	})
	require.NoError(t, err)

	adapter := &fakeAdapter{
		platform:   reservation.PlatformResy,
		venueID:    "venue-1",
		bookResult: reservation.BookResult{Outcome: reservation.OutcomeNoAvailability},
	}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))

	sniperCalled := false
	orch.Sniper = func(ctx context.Context, requestID int64) error {
		sniperCalled = true
		require.Equal(t, id, requestID)
		return nil
	}

	require.NoError(t, orch.Submit(context.Background(), id))
	require.True(t, sniperCalled)
}

func TestSubmit_IsIdempotent(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)

	adapter := &fakeAdapter{
		platform:   reservation.PlatformResy,
		venueID:    "venue-1",
		bookResult: reservation.BookResult{Outcome: reservation.OutcomeBooked, ConfirmationID: "conf-1"},
	}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))

	require.NoError(t, orch.Submit(context.Background(), id))
	require.NoError(t, orch.Submit(context.Background(), id))
	require.Equal(t, 1, adapter.tryBookCalls, "a second Submit on an already-searching/booked request must be a no-op")
}

func TestCancel_FiresCancelBusAndDeactivatesSubscriptions(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertSubscription(context.Background(), reservation.Subscription{
		RequestID: id, Platform: reservation.PlatformResy, Active: true,
	}))

	adapter := &fakeAdapter{platform: reservation.PlatformResy}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))
	busCtx, release := orch.CancelBus.Register(context.Background(), id)
	defer release()

	require.NoError(t, orch.Cancel(context.Background(), id))
	require.ErrorIs(t, busCtx.Err(), context.Canceled, "Cancel must fire the request's cancel bus token")

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusCancelled, req.Status)

	subs, err := st.ListActiveSubscriptionsByPlatform(context.Background(), reservation.PlatformResy)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestRetry_ReturnsFailedRequestToPendingAndResubmits(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)

	adapter := &fakeAdapter{
		platform:   reservation.PlatformResy,
		venueID:    "venue-1",
		bookResult: reservation.BookResult{Outcome: reservation.OutcomeBooked, ConfirmationID: "conf-1"},
	}
	orch := newOrchestrator(st, adapter, clock.NewFake(time.Now()))

	require.ErrorIs(t, orch.fail(context.Background(), id, reservation.ErrOrchestration), reservation.ErrOrchestration)
	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusFailed, req.Status)

	require.NoError(t, orch.Retry(context.Background(), id))

	req, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusBooked, req.Status, "retry must resubmit and let the adapter book it")
}

func TestCommitBooking_SecondRacingCommitIsRejectedNotDuplicated(t *testing.T) {
	st := memstore.New()
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2, ContactEmail: "a@example.com",
	})
	require.NoError(t, err)

	orch := newOrchestrator(st, &fakeAdapter{platform: reservation.PlatformResy}, clock.NewFake(time.Now()))
	_, err = st.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusSearching
		return next, nil, nil, nil
	})
	require.NoError(t, err)
	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)

	// Simulate the Sniper and the Notification Router both reaching
	// commitBooking having each already observed the request as
	// non-terminal (spec §5's race). Only the first may win.
	outcome, err := orch.commitBooking(context.Background(), id, reservation.PlatformResy, "venue-1", req,
		reservation.BookResult{Outcome: reservation.OutcomeBooked, ConfirmationID: "conf-1"})
	require.NoError(t, err)
	require.Equal(t, reservation.OutcomeBooked, outcome)

	outcome, err = orch.commitBooking(context.Background(), id, reservation.PlatformResy, "venue-1", req,
		reservation.BookResult{Outcome: reservation.OutcomeBooked, ConfirmationID: "conf-2"})
	require.NoError(t, err, "a lost race must be swallowed into OutcomeNoAvailability, not propagated as an error")
	require.Equal(t, reservation.OutcomeNoAvailability, outcome)

	bookings, err := st.ListBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 1, "at most one confirmed Booking may exist per Request")
	require.Equal(t, "conf-1", bookings[0].ConfirmationID)

	logs, err := st.ListLogs(context.Background(), &id, 20)
	require.NoError(t, err)
	var sawDuplicateLog bool
	for _, l := range logs {
		if l.Action == "duplicate_booking_detected" {
			sawDuplicateLog = true
		}
	}
	require.True(t, sawDuplicateLog, "the lost race must be logged as duplicate_booking_detected")
}

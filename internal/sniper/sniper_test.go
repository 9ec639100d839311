package sniper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-agent/internal/cancelbus"
	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store/memstore"
)

func waitForStatus(t *testing.T, st *memstore.Memstore, id int64, want reservation.Status, timeout time.Duration) reservation.Request {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := st.Load(context.Background(), id)
		require.NoError(t, err)
		if req.Status == want {
			return req
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for request %d to reach status %q", id, want)
	return reservation.Request{}
}

// markSearching moves a freshly created request to searching, the status
// Orchestrator.Submit leaves it in before handing it to the Sniper.
func markSearching(t *testing.T, st *memstore.Memstore, id int64) {
	t.Helper()
	_, err := st.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusSearching
		return next, nil, nil, nil
	})
	require.NoError(t, err)
}

func TestSniper_WaitsThenBooksOnFirstPoll(t *testing.T) {
	st := memstore.New()
	clk := clock.NewFake(time.Now())
	bus := cancelbus.New()

	opensAt := clk.Now().Add(2 * time.Second)
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2,
		ContactEmail: "a@example.com", BookingOpenTime: &opensAt,
	})
	require.NoError(t, err)

	var calls int32
	tryPlatform := func(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error) {
		atomic.AddInt32(&calls, 1)
		_, err := st.Update(ctx, requestID, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
			next := current
			next.Status = reservation.StatusBooked
			next.Platform = platform
			return next, nil, nil, nil
		})
		return reservation.OutcomeBooked, err
	}

	markSearching(t, st, id)
	s := New(st, clk, bus, tryPlatform, reservation.PlatformResy)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), id) }()

	waitForStatus(t, st, id, reservation.StatusWaiting, time.Second)
	clk.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sniper.Run did not return after the wait elapsed")
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusBooked, req.Status)
}

func TestSniper_TimesOutAfterMaxPollDuration(t *testing.T) {
	st := memstore.New()
	clk := clock.NewFake(time.Now())
	bus := cancelbus.New()

	opensAt := clk.Now().Add(time.Second)
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2,
		ContactEmail: "a@example.com", BookingOpenTime: &opensAt,
		MaxPollDuration: 2 * reservation.DefaultPollInterval,
	})
	require.NoError(t, err)

	tryPlatform := func(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error) {
		return reservation.OutcomeNoAvailability, nil
	}
	markSearching(t, st, id)
	s := New(st, clk, bus, tryPlatform, reservation.PlatformResy)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), id) }()

	waitForStatus(t, st, id, reservation.StatusWaiting, time.Second)
	clk.Advance(time.Second)
	waitForStatus(t, st, id, reservation.StatusPolling, time.Second)

	// Two poll attempts fit inside MaxPollDuration; advance past each sleep
	// until the deadline check exits the loop.
	for i := 0; i < 3; i++ {
		clk.Advance(reservation.DefaultPollInterval)
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sniper.Run did not return after the poll deadline elapsed")
	}

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusFailed, req.Status)
}

func TestSniper_CancellationDuringWaitAborts(t *testing.T) {
	st := memstore.New()
	clk := clock.NewFake(time.Now())
	bus := cancelbus.New()

	opensAt := clk.Now().Add(time.Minute)
	id, err := st.Create(context.Background(), reservation.RequestSpec{
		RestaurantName: "Lilia", Date: "2026-09-01", Time: "19:00", PartySize: 2,
		ContactEmail: "a@example.com", BookingOpenTime: &opensAt,
	})
	require.NoError(t, err)

	tryPlatform := func(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error) {
		t.Fatal("tryPlatform must not be called once cancelled during the wait phase")
		return 0, nil
	}
	markSearching(t, st, id)
	s := New(st, clk, bus, tryPlatform, reservation.PlatformResy)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), id) }()

	waitForStatus(t, st, id, reservation.StatusWaiting, time.Second)

	_, err = st.Update(context.Background(), id, func(current reservation.Request) (reservation.Request, []reservation.ActivityLog, *reservation.Booking, error) {
		next := current
		next.Status = reservation.StatusCancelled
		return next, nil, nil, nil
	})
	require.NoError(t, err)
	bus.Fire(id)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sniper.Run did not abort after cancellation")
	}

	req, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusCancelled, req.Status)
}

// Package memstore is an in-process Store fake for tests. It applies the
// same store.Guard invariants as internal/store/postgres, so tests written
// against it exercise real transition rules, not a permissive stub.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store"
)

// Memstore is safe for concurrent use; all operations hold a single mutex,
// which is sufficient to stand in for Postgres row locking in tests.
type Memstore struct {
	mu sync.Mutex

	nextRequestID int64
	nextSubID     int64
	nextBookingID int64
	nextLogID     int64

	requests map[int64]reservation.Request
	subs     map[int64]reservation.Subscription
	bookings []reservation.Booking
	logs     []reservation.ActivityLog
}

func New() *Memstore {
	return &Memstore{
		requests: make(map[int64]reservation.Request),
		subs:     make(map[int64]reservation.Subscription),
	}
}

var _ store.Store = (*Memstore)(nil)

func (m *Memstore) Create(_ context.Context, spec reservation.RequestSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRequestID++
	id := m.nextRequestID
	maxPoll := spec.MaxPollDuration
	if maxPoll == 0 {
		maxPoll = reservation.DefaultMaxPollDuration
	}
	m.requests[id] = reservation.Request{
		ID:              id,
		RestaurantName:  spec.RestaurantName,
		Date:            spec.Date,
		Time:            spec.Time,
		PartySize:       spec.PartySize,
		ContactEmail:    spec.ContactEmail,
		BookingOpenTime: spec.BookingOpenTime,
		MaxPollDuration: maxPoll,
		Status:          reservation.StatusPending,
		VenueID:         spec.VenueID,
	}
	return id, nil
}

func (m *Memstore) Load(_ context.Context, id int64) (reservation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return reservation.Request{}, reservation.ErrNotFound
	}
	return req, nil
}

func (m *Memstore) Update(_ context.Context, id int64, fn store.MutationFunc) (reservation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[id]
	if !ok {
		return reservation.Request{}, reservation.ErrNotFound
	}
	next, logEntries, booking, err := fn(current)
	if err != nil {
		return reservation.Request{}, err
	}
	if err := store.Guard(current, next); err != nil {
		return reservation.Request{}, err
	}
	if booking != nil {
		m.nextBookingID++
		booking.ID = m.nextBookingID
		booking.RequestID = id
		m.bookings = append(m.bookings, *booking)
	}
	for i := range logEntries {
		m.nextLogID++
		logEntries[i].ID = m.nextLogID
		m.logs = append(m.logs, logEntries[i])
	}
	next.ID = id
	m.requests[id] = next
	return next, nil
}

func (m *Memstore) IncrementPollAttempts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return reservation.ErrNotFound
	}
	req.PollAttempts++
	m.requests[id] = req
	return nil
}

func (m *Memstore) ListByStatus(_ context.Context, statuses []reservation.Status) ([]reservation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[reservation.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []reservation.Request
	for _, req := range m.requests {
		if want[req.Status] {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memstore) AppendLog(_ context.Context, entry reservation.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memstore) UpsertSubscription(_ context.Context, sub reservation.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.subs {
		if existing.RequestID == sub.RequestID && existing.Platform == sub.Platform {
			sub.ID = id
			m.subs[id] = sub
			return nil
		}
	}
	m.nextSubID++
	sub.ID = m.nextSubID
	m.subs[sub.ID] = sub
	return nil
}

func (m *Memstore) ListActiveSubscriptionsByPlatform(_ context.Context, platform reservation.Platform) ([]reservation.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reservation.Subscription
	for _, sub := range m.subs {
		if sub.Platform == platform && sub.Active {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memstore) ListSubscriptionsByRequest(_ context.Context, requestID int64) ([]reservation.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reservation.Subscription
	for _, sub := range m.subs {
		if sub.RequestID == requestID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memstore) DeactivateSubscriptions(_ context.Context, requestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		if sub.RequestID == requestID {
			sub.Active = false
			m.subs[id] = sub
		}
	}
	return nil
}

func (m *Memstore) ListBookings(_ context.Context) ([]reservation.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reservation.Booking, len(m.bookings))
	copy(out, m.bookings)
	return out, nil
}

func (m *Memstore) ListLogs(_ context.Context, requestID *int64, limit int) ([]reservation.ActivityLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reservation.ActivityLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		entry := m.logs[i]
		if requestID != nil {
			if entry.RequestID == nil || *entry.RequestID != *requestID {
				continue
			}
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

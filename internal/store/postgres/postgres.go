// Package postgres is the production Store (spec §4.1), grounded on the
// teacher's internal/db (thin pgxpool wrapper) and internal/jobs (raw-SQL
// repo) idiom: no ORM, hand-written SQL, *sql.Tx-equivalent pgx.Tx for
// atomic read-mutate-log commits.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/reservation-agent/internal/db"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/store"
)

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }

var _ store.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, spec reservation.RequestSpec) (int64, error) {
	maxPoll := spec.MaxPollDuration
	if maxPoll == 0 {
		maxPoll = reservation.DefaultMaxPollDuration
	}
	var id int64
	err := s.db.QueryRow(ctx, `
INSERT INTO requests (restaurant_name, date, time, party_size, contact_email, booking_open_time, max_poll_duration_seconds, status, venue_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8)
RETURNING id`,
		spec.RestaurantName, spec.Date, spec.Time, spec.PartySize, spec.ContactEmail,
		spec.BookingOpenTime, int(maxPoll.Seconds()), spec.VenueID,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func scanRequest(row db.Row) (reservation.Request, error) {
	var req reservation.Request
	var maxPollSeconds int
	var platform string
	err := row.Scan(
		&req.ID, &req.RestaurantName, &req.Date, &req.Time, &req.PartySize, &req.ContactEmail,
		&req.BookingOpenTime, &maxPollSeconds, &req.Status, &req.VenueID, &platform, &req.PollAttempts,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return reservation.Request{}, err
	}
	req.MaxPollDuration = time.Duration(maxPollSeconds) * time.Second
	req.Platform = reservation.Platform(platform)
	return req, nil
}

const requestColumns = `id, restaurant_name, date, time, party_size, contact_email, booking_open_time, max_poll_duration_seconds, status, venue_id, platform, poll_attempts, created_at, updated_at`

func (s *Store) Load(ctx context.Context, id int64) (reservation.Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=$1`, id)
	req, err := scanRequest(row)
	if db.IsNotFound(err) {
		return reservation.Request{}, reservation.ErrNotFound
	}
	return req, err
}

// Update loads the row with FOR UPDATE inside a transaction, runs fn,
// validates store.Guard, and commits the mutation, any ActivityLog entries,
// and an optional Booking insert together (spec §4.1, §4.3).
func (s *Store) Update(ctx context.Context, id int64, fn store.MutationFunc) (reservation.Request, error) {
	var result reservation.Request
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=$1 FOR UPDATE`, id)
		current, err := scanRequest(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return reservation.ErrNotFound
			}
			return err
		}

		next, logs, booking, err := fn(current)
		if err != nil {
			return err
		}
		if err := store.Guard(current, next); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
UPDATE requests SET status=$2, venue_id=$3, platform=$4, poll_attempts=$5, updated_at=now()
WHERE id=$1`,
			id, string(next.Status), next.VenueID, string(next.Platform), next.PollAttempts)
		if err != nil {
			return err
		}

		if booking != nil {
			if _, err := tx.Exec(ctx, `
INSERT INTO bookings (request_id, platform, confirmation_id, restaurant_name, date, time, party_size, status, raw_response)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				id, string(booking.Platform), booking.ConfirmationID, booking.RestaurantName,
				booking.Date, booking.Time, booking.PartySize, booking.Status, booking.RawResponse); err != nil {
				return err
			}
		}

		for _, entry := range logs {
			if err := insertLog(ctx, tx, entry); err != nil {
				return err
			}
		}

		next.ID = id
		result = next
		return nil
	})
	if err != nil {
		return reservation.Request{}, err
	}
	return result, nil
}

func (s *Store) IncrementPollAttempts(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `UPDATE requests SET poll_attempts = poll_attempts + 1, updated_at=now() WHERE id=$1`, id)
}

func (s *Store) ListByStatus(ctx context.Context, statuses []reservation.Status) ([]reservation.Request, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM requests WHERE status = ANY($1) ORDER BY id`, strs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func insertLog(ctx context.Context, tx pgx.Tx, entry reservation.ActivityLog) error {
	var platform *string
	if entry.Platform != nil {
		p := string(*entry.Platform)
		platform = &p
	}
	_, err := tx.Exec(ctx, `
INSERT INTO activity_log (request_id, ts, action, platform, details)
VALUES ($1,$2,$3,$4,$5)`,
		entry.RequestID, entry.Timestamp, entry.Action, platform, entry.Details)
	return err
}

func (s *Store) AppendLog(ctx context.Context, entry reservation.ActivityLog) error {
	var platform *string
	if entry.Platform != nil {
		p := string(*entry.Platform)
		platform = &p
	}
	return s.db.Exec(ctx, `
INSERT INTO activity_log (request_id, ts, action, platform, details)
VALUES ($1,$2,$3,$4,$5)`,
		entry.RequestID, entry.Timestamp, entry.Action, platform, entry.Details)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub reservation.Subscription) error {
	return s.db.Exec(ctx, `
INSERT INTO subscriptions (request_id, platform, restaurant_name, venue_id, search_date, search_time, search_party_size, active, subscribed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
ON CONFLICT (request_id, platform) DO UPDATE SET
	restaurant_name=EXCLUDED.restaurant_name, venue_id=EXCLUDED.venue_id,
	search_date=EXCLUDED.search_date, search_time=EXCLUDED.search_time,
	search_party_size=EXCLUDED.search_party_size, active=EXCLUDED.active, subscribed_at=now()`,
		sub.RequestID, string(sub.Platform), sub.RestaurantName, sub.VenueID, sub.SearchDate, sub.SearchTime, sub.SearchPartySize, sub.Active)
}

func (s *Store) ListActiveSubscriptionsByPlatform(ctx context.Context, platform reservation.Platform) ([]reservation.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, request_id, platform, restaurant_name, venue_id, search_date, search_time, search_party_size, active, subscribed_at
FROM subscriptions WHERE platform=$1 AND active ORDER BY id`, string(platform))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Subscription
	for rows.Next() {
		var sub reservation.Subscription
		var p string
		if err := rows.Scan(&sub.ID, &sub.RequestID, &p, &sub.RestaurantName, &sub.VenueID,
			&sub.SearchDate, &sub.SearchTime, &sub.SearchPartySize, &sub.Active, &sub.SubscribedAt); err != nil {
			return nil, err
		}
		sub.Platform = reservation.Platform(p)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ListSubscriptionsByRequest(ctx context.Context, requestID int64) ([]reservation.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, request_id, platform, restaurant_name, venue_id, search_date, search_time, search_party_size, active, subscribed_at
FROM subscriptions WHERE request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Subscription
	for rows.Next() {
		var sub reservation.Subscription
		var p string
		if err := rows.Scan(&sub.ID, &sub.RequestID, &p, &sub.RestaurantName, &sub.VenueID,
			&sub.SearchDate, &sub.SearchTime, &sub.SearchPartySize, &sub.Active, &sub.SubscribedAt); err != nil {
			return nil, err
		}
		sub.Platform = reservation.Platform(p)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateSubscriptions(ctx context.Context, requestID int64) error {
	return s.db.Exec(ctx, `UPDATE subscriptions SET active=false WHERE request_id=$1`, requestID)
}

func (s *Store) ListBookings(ctx context.Context) ([]reservation.Booking, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, request_id, platform, confirmation_id, restaurant_name, date, time, party_size, status, raw_response, created_at
FROM bookings ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Booking
	for rows.Next() {
		var b reservation.Booking
		var p string
		if err := rows.Scan(&b.ID, &b.RequestID, &p, &b.ConfirmationID, &b.RestaurantName,
			&b.Date, &b.Time, &b.PartySize, &b.Status, &b.RawResponse, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Platform = reservation.Platform(p)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListLogs(ctx context.Context, requestID *int64, limit int) ([]reservation.ActivityLog, error) {
	var rows db.Rows
	var err error
	if requestID != nil {
		rows, err = s.db.Query(ctx, `
SELECT id, request_id, ts, action, platform, details FROM activity_log
WHERE request_id=$1 ORDER BY ts DESC LIMIT $2`, *requestID, limit)
	} else {
		rows, err = s.db.Query(ctx, `
SELECT id, request_id, ts, action, platform, details FROM activity_log
ORDER BY ts DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.ActivityLog
	for rows.Next() {
		var entry reservation.ActivityLog
		var platform *string
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Timestamp, &entry.Action, &platform, &entry.Details); err != nil {
			return nil, err
		}
		if platform != nil {
			p := reservation.Platform(*platform)
			entry.Platform = &p
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

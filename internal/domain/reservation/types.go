// Package reservation holds the domain model shared by the orchestrator,
// sniper, notification router, and store: the durable Request and its
// Subscription/Booking/ActivityLog children, the status state machine, and
// the Platform capability every adapter implements.
package reservation

import "time"

// Platform identifies which booking platform an adapter, subscription, or
// booking belongs to.
type Platform string

const (
	PlatformResy      Platform = "resy"
	PlatformOpenTable Platform = "opentable"
)

// Status is a Request's place in the state machine of spec §3.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSearching      Status = "searching"
	StatusWaiting        Status = "waiting"
	StatusPolling        Status = "polling"
	StatusNotifyReceived Status = "notify_received"
	StatusBooked         Status = "booked"
	StatusNoAvailability Status = "no_availability"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further Orchestrator/Sniper action may change
// status, venue_id, or platform for a Request in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusBooked, StatusCancelled, StatusFailed, StatusNoAvailability:
		return true
	default:
		return false
	}
}

// Request is the durable unit of user intent (spec §3).
type Request struct {
	ID             int64
	RestaurantName string
	Date           string // YYYY-MM-DD, venue-local
	Time           string // HH:MM, venue-local
	PartySize      int
	ContactEmail   string

	BookingOpenTime *time.Time // nil if unknown
	MaxPollDuration time.Duration

	Status       Status
	VenueID      string
	Platform     Platform // empty until booked
	PollAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestSpec is the immutable attribute set supplied at creation time.
type RequestSpec struct {
	RestaurantName  string
	Date            string
	Time            string
	PartySize       int
	ContactEmail    string
	VenueID         string // optional, pre-known
	BookingOpenTime *time.Time
	MaxPollDuration time.Duration
}

// DefaultMaxPollDuration is used when a RequestSpec omits MaxPollDuration.
const DefaultMaxPollDuration = 300 * time.Second

// DefaultPollInterval is the Sniper's fixed rapid-poll cadence (spec §4.4).
const DefaultPollInterval = 500 * time.Millisecond

// Subscription is a standing request for out-of-band availability alerts
// (spec §3). At most one active Subscription exists per (RequestID, Platform).
type Subscription struct {
	ID              int64
	RequestID       int64
	Platform        Platform
	RestaurantName  string
	VenueID         string
	SearchDate      string
	SearchTime      string
	SearchPartySize int
	Active          bool
	SubscribedAt    time.Time
}

// Booking is the terminal proof of a successful acquisition (spec §3). At
// most one Booking with Status "confirmed" may exist per Request.
type Booking struct {
	ID             int64
	RequestID      int64
	Platform       Platform
	ConfirmationID string
	RestaurantName string
	Date           string
	Time           string // actual booked time, may differ from requested
	PartySize      int
	Status         string // "confirmed" | "cancelled"
	RawResponse    string // JSON blob for audit
	CreatedAt      time.Time
}

const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// ActivityLog is an append-only event keyed by request (spec §3).
type ActivityLog struct {
	ID        int64
	RequestID *int64
	Timestamp time.Time
	Action    string
	Platform  *Platform
	Details   string // JSON blob, may be empty
}

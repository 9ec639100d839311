// Package metrics exposes the process's prometheus/client_golang counters
// and gauges, collected at /metrics by internal/httpapi.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReservationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservations_total",
		Help: "Total reservation requests submitted.",
	})

	BookingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Total confirmed bookings.",
	})

	ActiveSnipers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_snipers",
		Help: "Requests currently in waiting or polling state.",
	})

	PlatformCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_calls_total",
		Help: "Platform adapter calls by platform and outcome.",
	}, []string{"platform", "outcome"})

	PollAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poll_attempts_total",
		Help: "Total sniper poll attempts across all requests.",
	})

	ResumedByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resumed_requests",
		Help: "Requests resumed on startup, by prior status.",
	}, []string{"status"})
)

// Registry bundles the collectors above for registration against a
// prometheus.Registerer at process start (see cmd/).
func Registry() []prometheus.Collector {
	return []prometheus.Collector{
		ReservationsTotal, BookingsTotal, ActiveSnipers, PlatformCallsTotal, PollAttemptsTotal, ResumedByStatus,
	}
}

// Package supervisor resumes in-flight requests on process startup (spec
// §4.7), generalizing the teacher's internal/scheduler.Scheduler tick loop
// into a one-shot concurrent resume pass bounded by golang.org/x/sync/errgroup
// (SPEC_FULL D.8) rather than a polling ticker — the Orchestrator/Sniper own
// ongoing polling once a request is resumed.
package supervisor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/metrics"
	"github.com/example/reservation-agent/internal/store"
)

// resumableStatuses are the non-terminal statuses that imply in-flight work
// was interrupted by a process restart (spec §4.7).
var resumableStatuses = []reservation.Status{
	reservation.StatusSearching,
	reservation.StatusWaiting,
	reservation.StatusPolling,
	reservation.StatusNotifyReceived,
}

// ResumeFunc re-dispatches a resumed request through the Orchestrator. It is
// function-typed to avoid an import cycle with internal/orchestrator.
type ResumeFunc func(ctx context.Context, requestID int64, status reservation.Status) error

// Concurrency bounds how many requests are resumed at once.
const Concurrency = 8

type Supervisor struct {
	Store  store.Store
	Resume ResumeFunc

	log zerolog.Logger
}

func New(st store.Store, resume ResumeFunc) *Supervisor {
	return &Supervisor{
		Store:  st,
		Resume: resume,
		log:    log.With().Str("component", "supervisor").Logger(),
	}
}

// Run loads every non-terminal request left over from a prior process and
// resumes it concurrently, bounded by Concurrency. It returns once every
// resume attempt has been dispatched (not once booking completes — resumed
// requests continue running asynchronously via the Orchestrator/Sniper).
func (s *Supervisor) Run(ctx context.Context) error {
	requests, err := s.Store.ListByStatus(ctx, resumableStatuses)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		s.log.Info().Msg("no in-flight requests to resume")
		return nil
	}

	counts := make(map[reservation.Status]int)
	for _, r := range requests {
		counts[r.Status]++
	}
	for status, n := range counts {
		metrics.ResumedByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	s.log.Info().Int("count", len(requests)).Msg("resuming in-flight requests")

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(Concurrency)
	for _, r := range requests {
		r := r
		group.Go(func() error {
			if err := s.Resume(groupCtx, r.ID, r.Status); err != nil {
				s.log.Error().Err(err).Int64("request_id", r.ID).Msg("resume failed")
			}
			return nil
		})
	}
	return group.Wait()
}

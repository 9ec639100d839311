// Package taskregistry implements design note §9's replacement for
// fire-and-forget goroutines spawned directly on HTTP request: an in-flight
// task registry keyed by request_id, shared by the HTTP handlers, the
// Notification Router and the startup resume pass, generalized
// from the teacher's internal/scheduler.Scheduler sync.WaitGroup/goroutine
// idiom (tick/runJobAttempt) into a dedup-aware Go(id, fn).
package taskregistry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Registry struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	inflight map[int64]struct{}
	log      zerolog.Logger
}

func New() *Registry {
	return &Registry{
		inflight: make(map[int64]struct{}),
		log:      log.With().Str("component", "taskregistry").Logger(),
	}
}

// Go spawns fn in a goroutine for requestID unless a task is already
// in-flight for that id, in which case it is a no-op — mirrors Orchestrator
// Submit's own idempotence at the dispatch layer. The HTTP handler that
// calls this returns immediately after enqueueing (design note §9).
func (r *Registry) Go(requestID int64, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if _, busy := r.inflight[requestID]; busy {
		r.mu.Unlock()
		return
	}
	r.inflight[requestID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, requestID)
			r.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Int64("request_id", requestID).Msg("task panicked")
			}
		}()
		if err := fn(context.Background()); err != nil {
			r.log.Error().Err(err).Int64("request_id", requestID).Msg("task failed")
		}
	}()
}

// InFlight reports whether a task is currently running for requestID.
func (r *Registry) InFlight(requestID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[requestID]
	return ok
}

// Wait blocks until all spawned tasks complete. Used at shutdown.
func (r *Registry) Wait() { r.wg.Wait() }

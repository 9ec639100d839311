package reservation

import "errors"

// Error taxonomy of spec §7. Adapter errors never propagate past the
// Orchestrator as Go errors of these types escaping to the supervisor; they
// are folded into the state machine and logged. Only InvalidTransition
// indicates a programmer error and is allowed to propagate to the caller of
// Store.Update.
var (
	ErrNotFound          = errors.New("reservation: not found")
	ErrInvalidTransition = errors.New("reservation: invalid status transition")
	ErrNoAvailability    = errors.New("reservation: no availability")
	ErrAuthExpired       = errors.New("reservation: adapter auth expired")
	ErrTransport         = errors.New("reservation: adapter transport error")
	ErrOrchestration     = errors.New("reservation: orchestration error")
)

package reservation

// transitions enumerates the normal (non-cancel, non-retry) edges of the
// status diagram in spec §3.
var transitions = map[Status][]Status{
	StatusPending:        {StatusSearching, StatusNotifyReceived},
	StatusSearching:      {StatusBooked, StatusNoAvailability, StatusWaiting, StatusPolling, StatusNotifyReceived},
	StatusWaiting:        {StatusPolling, StatusNotifyReceived},
	StatusPolling:        {StatusBooked, StatusFailed, StatusNotifyReceived},
	StatusNotifyReceived: {StatusBooked, StatusFailed},
	StatusNoAvailability: {StatusNotifyReceived},
}

// CanTransition reports whether moving a Request from `from` to `to` is a
// permitted edge of the state machine in spec §3, including the three
// cross-cutting rules: `cancel` (any non-terminal state to cancelled),
// orchestration error (any non-terminal state to failed) and `retry` (any
// non-booked state back to pending).
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusCancelled {
		return !from.Terminal()
	}
	if to == StatusFailed && !from.Terminal() {
		return true
	}
	if to == StatusPending {
		return from != StatusBooked
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

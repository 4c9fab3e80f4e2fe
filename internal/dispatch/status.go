package dispatch

import "github.com/orbas1/gigvora-automatch/internal/state"

// EntryStatuses enumerates every queue entry status, in lifecycle
// order.
var EntryStatuses = []string{
	state.EntryPending,
	state.EntryNotified,
	state.EntryAccepted,
	state.EntryDeclined,
	state.EntryReassigned,
	state.EntryExpired,
}

func IsValidStatus(status string) bool {
	for _, s := range EntryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case state.EntryAccepted, state.EntryDeclined, state.EntryReassigned, state.EntryExpired:
		return true
	default:
		return false
	}
}

// canTransition is the entry state machine: pending -> notified ->
// {accepted, declined, expired, reassigned}. Only the resolver and the
// expiry sweep call this; the builder only ever creates pending rows.
func canTransition(from, to string) bool {
	switch from {
	case state.EntryPending:
		return to == state.EntryNotified
	case state.EntryNotified:
		switch to {
		case state.EntryAccepted, state.EntryDeclined, state.EntryExpired, state.EntryReassigned:
			return true
		}
	}
	return false
}

package dispute

import (
	"rentals/src/types"
	"slices"
)

var review = []types.DisputeStatus{
	types.DISPUTE_UNDER_REVIEW,
	types.DISPUTE_INVESTIGATING,
	types.DISPUTE_AWAITING_RESPONSE,
	types.DISPUTE_IN_MEDIATION,
}

var transitions = map[types.DisputeStatus][]types.DisputeStatus{
	types.DISPUTE_OPEN: {
		types.DISPUTE_UNDER_REVIEW,
		types.DISPUTE_INVESTIGATING,
		types.DISPUTE_CLOSED,
	},
	types.DISPUTE_RESOLVED: {
		types.DISPUTE_CLOSED,
	},
}

func init() {
	for _, from := range review {
		var next []types.DisputeStatus
		for _, to := range review {
			if to != from {
				next = append(next, to)
			}
		}
		transitions[from] = append(next, types.DISPUTE_RESOLVED, types.DISPUTE_CLOSED)
	}
}

func CanTransition(from, to types.DisputeStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Resolvable reports whether a dispute in status s may be resolved.
func Resolvable(s types.DisputeStatus) bool {
	return CanTransition(s, types.DISPUTE_RESOLVED)
}

// Escalate returns the next priority up, URGENT staying URGENT.
func Escalate(p types.DisputePriority) types.DisputePriority {
	switch p {
	case types.PRIORITY_LOW:
		return types.PRIORITY_MEDIUM
	case types.PRIORITY_MEDIUM:
		return types.PRIORITY_HIGH
	default:
		return types.PRIORITY_URGENT
	}
}

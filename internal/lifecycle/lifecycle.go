package lifecycle

import (
	"errors"
	"fmt"

	"github.com/yofarm-hub/ussd/types"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// State machine for registration status transitions. Deleting a record is
// not a transition and is allowed from every state.
var validTransitions = map[types.Status][]types.Status{
	types.StatusNew: {
		types.StatusPending, // collection initiated
		types.StatusFailed,  // initiation failed
	},
	types.StatusPending: {
		types.StatusRegistered, // payment confirmed
		types.StatusFailed,     // payment failed
		types.StatusPending,    // provider still processing
	},
	types.StatusFailed: {
		types.StatusPending, // retry initiated
		types.StatusFailed,  // retry failed
	},
	types.StatusRegistered: {
		// Terminal state - no transitions
	},
}

// ValidateTransition checks if the status transition is allowed.
func ValidateTransition(current, next types.Status) error {
	allowed, exists := validTransitions[current]
	if !exists {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, current)
	}

	for _, status := range allowed {
		if status == next {
			return nil
		}
	}

	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, current, next)
}

// AllowedTransitions returns the statuses reachable from current.
func AllowedTransitions(current types.Status) []types.Status {
	return validTransitions[current]
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(status types.Status) bool {
	allowed, exists := validTransitions[status]
	return exists && len(allowed) == 0
}

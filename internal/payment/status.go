package payment

import (
	"strings"

	"github.com/yofarm-hub/ussd/types"
)

// Outcome is the local reading of a provider status.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Keys are lower case with spaces, dashes and underscores removed.
var providerOutcomes = map[string]Outcome{
	"success":      OutcomeSucceeded,
	"successful":   OutcomeSucceeded,
	"succeeded":    OutcomeSucceeded,
	"completed":    OutcomeSucceeded,
	"paid":         OutcomeSucceeded,
	"failed":       OutcomeFailed,
	"failure":      OutcomeFailed,
	"declined":     OutcomeFailed,
	"rejected":     OutcomeFailed,
	"cancelled":    OutcomeFailed,
	"canceled":     OutcomeFailed,
	"expired":      OutcomeFailed,
	"pending":      OutcomePending,
	"processing":   OutcomePending,
	"initiated":    OutcomePending,
	"senttovendor": OutcomePending,
}

// Classify maps a raw provider status onto an Outcome.
func Classify(raw string) Outcome {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
	return providerOutcomes[key]
}

// LifecycleStatus maps the outcome onto the user lifecycle. Unknown
// outcomes fail closed.
func (o Outcome) LifecycleStatus() types.Status {
	switch o {
	case OutcomeSucceeded:
		return types.StatusRegistered
	case OutcomePending:
		return types.StatusPending
	default:
		return types.StatusFailed
	}
}

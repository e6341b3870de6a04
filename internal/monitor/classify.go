package monitor

import "strings"

// Decision is the three-way verdict on a polled operation.
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionSucceeded
	DecisionFailed
)

func (d Decision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionSucceeded:
		return "succeeded"
	case DecisionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateClass buckets the free-form state string from the remote API.
type StateClass int

const (
	// StateInProgress covers in-flight states and anything unrecognized;
	// an operation we cannot classify is assumed to still be running.
	StateInProgress StateClass = iota
	StateSucceeded
	StateFailed
)

// State is the parsed form of a remote state string. Raw keeps the original
// value for logging and error propagation.
type State struct {
	Class StateClass
	Raw   string
}

// ParseState classifies a raw state string case-insensitively.
func ParseState(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETE", "SUCCESS", "FINISHED":
		return State{Class: StateSucceeded, Raw: raw}
	case "FAILED", "ERROR", "UNKNOWN":
		return State{Class: StateFailed, Raw: raw}
	default:
		return State{Class: StateInProgress, Raw: raw}
	}
}

// HealthClass buckets the status string. Only one value matters: UNKNOWN.
type HealthClass int

const (
	HealthReported HealthClass = iota
	HealthUnknown
)

// Health is the parsed form of a remote status string.
type Health struct {
	Class HealthClass
	Raw   string
}

// ParseHealth classifies a raw status string case-insensitively.
func ParseHealth(raw string) Health {
	if strings.ToUpper(strings.TrimSpace(raw)) == "UNKNOWN" {
		return Health{Class: HealthUnknown, Raw: raw}
	}
	return Health{Class: HealthReported, Raw: raw}
}

// Classify maps a parsed (state, status) pair to a Decision.
//
// An UNKNOWN status dominates every state, including ones that look finished:
// an external system that cannot report a coherent status is assumed broken,
// so the operation is treated as failed rather than successful or in-flight.
func Classify(state State, health Health) Decision {
	if health.Class == HealthUnknown {
		return DecisionFailed
	}
	switch state.Class {
	case StateSucceeded:
		return DecisionSucceeded
	case StateFailed:
		return DecisionFailed
	default:
		return DecisionContinue
	}
}

// ClassifyRaw parses both strings at the boundary and classifies them.
func ClassifyRaw(state, status string) Decision {
	return Classify(ParseState(state), ParseHealth(status))
}

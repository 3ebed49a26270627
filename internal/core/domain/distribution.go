package domain

import (
	"fmt"
	"slices"
)

// DistributionState is the phase of the settlement cycle. There is at most one
// cycle in flight and every entry point checks it first.
type DistributionState uint8

const (
	DistributionStateNone DistributionState = iota
	DistributionStateInitiated
	DistributionStateReadDataReceived
	DistributionStateBridgingCompleted
	DistributionStateDistributePending
)

func (s DistributionState) String() string {
	switch s {
	case DistributionStateNone:
		return "None"
	case DistributionStateInitiated:
		return "Initiated"
	case DistributionStateReadDataReceived:
		return "ReadDataReceived"
	case DistributionStateBridgingCompleted:
		return "BridgingCompleted"
	case DistributionStateDistributePending:
		return "DistributePending"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

func (s DistributionState) IsValid() bool {
	return s <= DistributionStateDistributePending
}

// distributionTransitions is the full set of allowed state moves.
var distributionTransitions = map[DistributionState][]DistributionState{
	DistributionStateNone: {DistributionStateInitiated},
	DistributionStateInitiated: {
		DistributionStateReadDataReceived,
		DistributionStateBridgingCompleted,
	},
	DistributionStateReadDataReceived: {
		DistributionStateBridgingCompleted,
		DistributionStateDistributePending,
	},
	DistributionStateDistributePending: {
		DistributionStateBridgingCompleted,
		DistributionStateDistributePending,
	},
	DistributionStateBridgingCompleted: {DistributionStateNone},
}

func (s DistributionState) CanTransitionTo(next DistributionState) bool {
	return slices.Contains(distributionTransitions[s], next)
}

// Transition returns next if the move is allowed.
func (s DistributionState) Transition(next DistributionState) (DistributionState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("invalid distribution state transition %s -> %s", s, next)
	}
	return next, nil
}

func ParseDistributionState(str string) (DistributionState, error) {
	for s := DistributionStateNone; s <= DistributionStateDistributePending; s++ {
		if s.String() == str {
			return s, nil
		}
	}
	return DistributionStateNone, fmt.Errorf("unknown distribution state %q", str)
}

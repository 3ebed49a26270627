package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistributionStateTransitions(t *testing.T) {
	tests := []struct {
		from     DistributionState
		to       DistributionState
		expected bool
	}{
		{DistributionStateNone, DistributionStateInitiated, true},
		{DistributionStateNone, DistributionStateBridgingCompleted, false},
		{DistributionStateInitiated, DistributionStateInitiated, false},
		{DistributionStateInitiated, DistributionStateReadDataReceived, true},
		{DistributionStateInitiated, DistributionStateBridgingCompleted, true},
		{DistributionStateInitiated, DistributionStateNone, false},
		{DistributionStateReadDataReceived, DistributionStateBridgingCompleted, true},
		{DistributionStateReadDataReceived, DistributionStateDistributePending, true},
		{DistributionStateReadDataReceived, DistributionStateNone, false},
		{DistributionStateDistributePending, DistributionStateDistributePending, true},
		{DistributionStateDistributePending, DistributionStateBridgingCompleted, true},
		{DistributionStateBridgingCompleted, DistributionStateNone, true},
		{DistributionStateBridgingCompleted, DistributionStateInitiated, false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)

		next, err := tt.from.Transition(tt.to)
		if tt.expected {
			require.NoError(t, err)
			require.Equal(t, tt.to, next)
		} else {
			require.Error(t, err)
			require.Equal(t, tt.from, next)
		}
	}
}

func TestParseDistributionState(t *testing.T) {
	for s := DistributionStateNone; s <= DistributionStateDistributePending; s++ {
		parsed, err := ParseDistributionState(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
		require.True(t, s.IsValid())
	}

	_, err := ParseDistributionState("Finished")
	require.Error(t, err)
	require.False(t, DistributionState(9).IsValid())
	require.Equal(t, "Unknown(9)", DistributionState(9).String())
}

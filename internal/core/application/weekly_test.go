package application

import (
	"fmt"
	"testing"

	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	// Sunday 2024-01-07 00:00:00 UTC
	sunday = int64(1704585600)
	// Wednesday 2024-01-10 00:00:00 UTC
	wednesday = int64(1704844800)
)

func TestStartOfWeek(t *testing.T) {
	noon := wednesday + 12*3600

	tests := []struct {
		now      int64
		day      uint8
		expected int64
	}{
		{now: noon, day: 0, expected: sunday},
		{now: noon, day: 3, expected: wednesday},
		{now: noon, day: 4, expected: wednesday - 6*secondsPerDay},
		{now: wednesday, day: 3, expected: wednesday},
		{now: wednesday - 1, day: 3, expected: wednesday - 7*secondsPerDay},
		{now: sunday, day: 0, expected: sunday},
		{now: sunday + 6*secondsPerDay + secondsPerDay - 1, day: 0, expected: sunday},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("now_%d_day_%d", test.now, test.day), func(t *testing.T) {
			require.Equal(t, test.expected, startOfWeek(test.now, test.day))
		})
	}
}

func TestValidateDistributionNotCompleted(t *testing.T) {
	now := wednesday + 12*3600

	t.Run("never_distributed", func(t *testing.T) {
		require.NoError(t, validateDistributionNotCompleted(0, now, 0))
	})

	t.Run("distributed_last_week", func(t *testing.T) {
		require.NoError(t, validateDistributionNotCompleted(sunday-1, now, 0))
	})

	t.Run("distributed_at_week_start", func(t *testing.T) {
		err := validateDistributionNotCompleted(sunday, now, 0)
		require.Error(t, err)
		require.True(t, errors.FEE_DISTRIBUTION_ALREADY_COMPLETED.Is(err))
	})

	t.Run("distributed_this_week", func(t *testing.T) {
		err := validateDistributionNotCompleted(sunday+secondsPerDay, now, 0)
		require.True(t, errors.FEE_DISTRIBUTION_ALREADY_COMPLETED.Is(err))

		e, ok := err.(errors.Error)
		require.True(t, ok)
		require.Equal(t, fmt.Sprint(sunday), e.Metadata()["start_of_week"])
	})

	t.Run("week_rolls_over_on_distribution_day", func(t *testing.T) {
		last := wednesday - secondsPerDay
		require.Error(t, validateDistributionNotCompleted(last, now, 0))
		require.NoError(t, validateDistributionNotCompleted(last, now, 3))
	})
}

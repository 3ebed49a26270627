package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// generateErrorFixtures creates test fixtures with sample metadata for each error type
func generateErrorFixtures() []Error {
	return []Error{
		INTERNAL_ERROR.New("ledger unavailable").
			WithMetadata(map[string]any{
				"component": "ledger",
				"operation": "update",
			}),

		INVALID_DISTRIBUTION_STATE.New("distribute called too early").
			WithMetadata(DistributionStateMetadata{
				CurrentState:  "Initiated",
				ExpectedState: []string{"BridgingCompleted"},
			}),

		FEE_DISTRIBUTION_ALREADY_COMPLETED.New("distribution already completed this week").
			WithMetadata(WeeklyMarkerMetadata{
				LastDistributionTime: 1717200000,
				StartOfWeek:          1717113600,
			}),

		OUTDATED_READ_RESPONSE.New("read response too old").
			WithMetadata(ReadResponseMetadata{
				RequestID:         "0x01",
				ResponseTimestamp: 1717200000,
				Now:               1717203601,
				MaxDelay:          3600,
			}),

		BRIDGED_AMOUNT_NOT_SUFFICIENT.New("bridged funds not received").
			WithMetadata(BridgedAmountMetadata{
				RequiredFeeAmount: "100",
				OriginalBalance:   "40",
				MinFeeReceived:    "59",
				CurrentBalance:    "41",
			}),

		REFERRAL_REWARDS_THRESHOLD_BREACHED.New("referral rewards above cap").
			WithMetadata(ThresholdMetadata{
				Token:     "0x0000000000000000000000000000000000000001",
				Amount:    "200",
				Threshold: "100",
			}),

		TREASURY_FEE_THRESHOLD_BREACHED.New("treasury shortfall above cap").
			WithMetadata(TreasuryShortfallMetadata{
				Shortfall:    "50",
				MaxShortfall: "10",
				ForTreasury:  "80",
			}),

		REFERRAL_REWARDS_ARRAY_MISMATCH.New("accounts and amounts differ").
			WithMetadata(ArrayMismatchMetadata{ExpectedLength: 3, GotLength: 2}),

		REFERRAL_REWARDS_AMOUNT_EXCEEDS_MAX_BATCH_SIZE.New("batch too large").
			WithMetadata(BatchSizeMetadata{BatchSize: 11, MaxBatchSize: 10}),

		REPORT_NOT_FOUND.New("no report for cycle").
			WithMetadata(ReportNotFoundMetadata{CycleID: "c1"}),

		PERMISSION_DENIED.New("admin role required").
			WithMetadata(PermissionMetadata{Route: "/v1/admin/params"}),
	}
}

func TestErrors(t *testing.T) {
	fixtures := generateErrorFixtures()

	for _, err := range fixtures {
		require.NotNil(t, err)
		require.NotEmpty(t, err.Error())
		require.NotEmpty(t, err.CodeName())
		require.GreaterOrEqual(t, err.HTTPStatus(), http.StatusBadRequest)
		require.NotNil(t, err.Log())
		require.NotEmpty(t, err.Metadata())
	}
}

func TestErrorMetadata(t *testing.T) {
	err := TREASURY_FEE_THRESHOLD_BREACHED.New("shortfall %s", "50").
		WithMetadata(TreasuryShortfallMetadata{
			Shortfall:    "50",
			MaxShortfall: "10",
			ForTreasury:  "80",
		})

	require.Equal(t, map[string]string{
		"shortfall":     "50",
		"max_shortfall": "10",
		"for_treasury":  "80",
	}, err.Metadata())
	require.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus())
	require.Equal(t, "TREASURY_FEE_THRESHOLD_BREACHED (9): shortfall 50", err.Error())
}

func TestCodeIs(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := OVERFLOW.Wrap(cause)

	require.True(t, OVERFLOW.Is(err))
	require.False(t, DIVIDE_BY_ZERO.Is(err))
	require.False(t, OVERFLOW.Is(cause))
	require.False(t, OVERFLOW.Is(nil))
	require.ErrorIs(t, err, cause)
}

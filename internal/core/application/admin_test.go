package application

import (
	"testing"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAdminParams(t *testing.T) {
	env := newTestEnv(t, testParams(1, 2, 3))
	env.seedChain(t, 1, 100, 50)
	env.seedChain(t, 2, 0, 50)

	params, err := env.admin.GetParams(env.ctx)
	require.NoError(t, err)
	require.Equal(t, env.params, *params)

	t.Run("update", func(t *testing.T) {
		updated := *params
		updated.DistributionDay = 3
		updated.MaxReadResponseDelay = 2 * time.Hour
		updated.Keepers = updated.Keepers[:1]

		require.NoError(t, env.admin.UpdateParams(env.ctx, updated))

		got, err := env.admin.GetParams(env.ctx)
		require.NoError(t, err)
		require.Equal(t, updated, *got)
	})

	t.Run("invalid", func(t *testing.T) {
		invalid := *params
		invalid.RewardToken = invalid.CurrentChain().FeeToken
		invalid.DistributionDay = 7

		err := env.admin.UpdateParams(env.ctx, invalid)
		requireCode(t, errors.INVALID_PARAMS, err)
		require.Contains(t, err.Error(), "distribution day")
		require.Contains(t, err.Error(), "must differ")
	})

	t.Run("cycle_in_flight", func(t *testing.T) {
		_, err := env.svc.InitiateDistribute(env.ctx)
		require.NoError(t, err)

		err = env.admin.UpdateParams(env.ctx, *params)
		requireCode(t, errors.INVALID_DISTRIBUTION_STATE, err)
	})
}

func TestAdminWithdrawTokens(t *testing.T) {
	env := newTestEnv(t, testParams(1))
	require.NoError(t, env.network.Mint(1, rewardToken, holdingAccount, amount(100)))

	err := env.admin.WithdrawTokens(env.ctx, rewardToken, bob, amount(0))
	requireCode(t, errors.INVALID_PARAMS, err)
	err = env.admin.WithdrawTokens(env.ctx, rewardToken, common.Address{}, amount(1))
	requireCode(t, errors.INVALID_PARAMS, err)
	err = env.admin.WithdrawTokens(env.ctx, rewardToken, bob, amount(101))
	requireCode(t, errors.INTERNAL_ERROR, err)

	require.NoError(t, env.admin.WithdrawTokens(env.ctx, rewardToken, bob, amount(60)))
	require.Equal(t, uint64(60), env.balance(t, 1, rewardToken, bob))
	require.Equal(t, uint64(40), env.balance(t, 1, rewardToken, holdingAccount))
	require.Equal(t, []domain.EventType{domain.EventTypeTokensWithdrawn}, env.repo.eventTypes())

	// The escape hatch works in any state.
	env.seedChain(t, 1, 0, 10)
	_, err = env.svc.InitiateDistribute(env.ctx)
	require.NoError(t, err)
	require.NotEqual(t, domain.DistributionStateNone, env.status(t).State)
	require.NoError(t, env.admin.WithdrawTokens(env.ctx, rewardToken, bob, amount(40)))
}

func TestAdminReports(t *testing.T) {
	env := newTestEnv(t, testParams(1))
	env.seedChain(t, 1, 80, 10)
	require.NoError(t, env.network.AccrueFees(
		1, env.params.CurrentChain().FeeHandler, rewardToken, amount(1000),
	))

	reports, err := env.admin.ListReports(env.ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, reports)

	_, err = env.svc.InitiateDistribute(env.ctx)
	require.NoError(t, err)
	report, err := env.svc.Distribute(env.ctx, validDistributeRequest())
	require.NoError(t, err)

	reports, err = env.admin.ListReports(env.ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, report.CycleID, reports[0].CycleID)

	reports, err = env.admin.ListReports(env.ctx, report.DistributedAt+1, 0)
	require.NoError(t, err)
	require.Empty(t, reports)

	_, err = env.admin.GetReport(env.ctx, "unknown")
	requireCode(t, errors.REPORT_NOT_FOUND, err)
}

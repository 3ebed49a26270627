package application

import (
	"math/rand"
	"testing"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestKeeperCosts(t *testing.T) {
	params := testParams(1)

	costs := keeperCosts(params.Keepers, []*uint256.Int{amount(10), amount(80)})
	require.Len(t, costs, 2)
	require.Equal(t, keeperA, costs[0].Keeper)
	require.Equal(t, uint64(20), costs[0].Amount.Uint64())
	require.True(t, costs[0].TreasuryOnly)
	require.Equal(t, keeperB, costs[1].Keeper)
	require.True(t, costs[1].Amount.IsZero())
}

func TestComputeCostBuckets(t *testing.T) {
	// total 1000, half of the fees are v2 so the base is 500. The external
	// service takes 10% of the base, keeper A costs 20 to the treasury alone
	// and keeper B costs 40 split in half. Referral rewards are 100 USD at a
	// price of 2 USD per token.
	validInput := func() bucketsInput {
		return bucketsInput{
			total: amount(1000),
			keeperCosts: []domain.KeeperCost{
				{Keeper: keeperA, Amount: amount(20), TreasuryOnly: true},
				{Keeper: keeperB, Amount: amount(40)},
			},
			feesV1Usd:        amount(500),
			feesV2Usd:        amount(500),
			referralUsd:      amount(100),
			rewardTokenPrice: fixedpoint.Factor(2, 1),
		}
	}

	t.Run("valid", func(t *testing.T) {
		buckets, err := computeCostBuckets(testParams(1), validInput())
		require.NoError(t, err)

		require.Equal(t, uint64(1000), buckets.Total.Uint64())
		require.Equal(t, uint64(40), buckets.KeeperCostsTreasury.Uint64())
		require.Equal(t, uint64(20), buckets.KeeperCostsGlp.Uint64())
		require.Equal(t, uint64(50), buckets.ForExternalService.Uint64())
		require.Equal(t, uint64(410), buckets.ForTreasury.Uint64())
		require.Equal(t, uint64(50), buckets.ForReferralRewards.Uint64())
		require.Equal(t, uint64(430), buckets.Residual.Uint64())
		require.True(t, buckets.TreasuryShortfall.IsZero())
		require.NoError(t, buckets.CheckConservation())
	})

	t.Run("treasury_covers_residual_shortfall", func(t *testing.T) {
		params := testParams(1)
		params.MinResidualFactor = fixedpoint.PrecisionUnit

		buckets, err := computeCostBuckets(params, validInput())
		require.NoError(t, err)

		require.Equal(t, uint64(70), buckets.TreasuryShortfall.Uint64())
		require.Equal(t, uint64(340), buckets.ForTreasury.Uint64())
		require.Equal(t, uint64(500), buckets.Residual.Uint64())
		require.NoError(t, buckets.CheckConservation())
	})

	t.Run("no_v2_fees", func(t *testing.T) {
		in := validInput()
		in.feesV2Usd = amount(0)
		in.keeperCosts = nil

		buckets, err := computeCostBuckets(testParams(1), in)
		require.NoError(t, err)

		require.True(t, buckets.ForTreasury.IsZero())
		require.True(t, buckets.ForExternalService.IsZero())
		require.Equal(t, uint64(950), buckets.Residual.Uint64())
		require.NoError(t, buckets.CheckConservation())
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name   string
			params func(p *domain.DistributionParams)
			input  func(in *bucketsInput)
			code   interface{ Is(error) bool }
		}{
			{
				name: "shortfall_above_max",
				params: func(p *domain.DistributionParams) {
					p.MinResidualFactor = fixedpoint.PrecisionUnit
					p.MaxTreasuryShortfallFactor = fixedpoint.Factor(10, 100)
				},
				code: errors.TREASURY_FEE_THRESHOLD_BREACHED,
			},
			{
				name: "referral_usd_above_absolute_cap",
				input: func(in *bucketsInput) {
					in.referralUsd = amount(1001)
				},
				code: errors.WNT_REFERRAL_REWARDS_IN_USD_THRESHOLD_BREACHED,
			},
			{
				name: "referral_usd_above_v1_fees_share",
				input: func(in *bucketsInput) {
					in.referralUsd = amount(251)
				},
				code: errors.REFERRAL_REWARDS_THRESHOLD_BREACHED,
			},
			{
				name: "referral_tokens_above_pool_share",
				input: func(in *bucketsInput) {
					in.rewardTokenPrice = fixedpoint.Factor(1, 2)
				},
				code: errors.REFERRAL_REWARDS_THRESHOLD_BREACHED,
			},
			{
				name: "keeper_costs_above_treasury_share",
				input: func(in *bucketsInput) {
					in.keeperCosts = []domain.KeeperCost{
						{Keeper: keeperA, Amount: amount(451), TreasuryOnly: true},
					}
				},
				code: errors.ARITHMETIC_INVARIANT_VIOLATED,
			},
			{
				name: "no_fees",
				input: func(in *bucketsInput) {
					in.feesV1Usd = amount(0)
					in.feesV2Usd = amount(0)
					in.referralUsd = amount(0)
				},
				code: errors.DIVIDE_BY_ZERO,
			},
			{
				name: "zero_price",
				input: func(in *bucketsInput) {
					in.rewardTokenPrice = amount(0)
				},
				code: errors.DIVIDE_BY_ZERO,
			},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				params := testParams(1)
				if test.params != nil {
					test.params(&params)
				}
				in := validInput()
				if test.input != nil {
					test.input(&in)
				}

				buckets, err := computeCostBuckets(params, in)
				require.Error(t, err)
				require.Nil(t, buckets)
				require.True(t, test.code.Is(err), err.Error())
			})
		}
	})
}

func TestComputeCostBucketsProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	factor := func() *uint256.Int {
		return fixedpoint.Factor(uint64(rnd.Intn(101)), 100)
	}
	expectedFailures := []interface{ Is(error) bool }{
		errors.ARITHMETIC_INVARIANT_VIOLATED,
		errors.TREASURY_FEE_THRESHOLD_BREACHED,
		errors.REFERRAL_REWARDS_THRESHOLD_BREACHED,
		errors.WNT_REFERRAL_REWARDS_IN_USD_THRESHOLD_BREACHED,
	}

	succeeded := 0
	for round := 0; round < 200; round++ {
		params := testParams(1)
		params.KeeperGlpFactor = factor()
		params.ExternalServiceFactor = factor()
		params.MinResidualFactor = factor()
		params.MaxTreasuryShortfallFactor = factor()
		params.MaxReferralRewardsWntFactor = factor()

		total := uint64(rnd.Intn(1_000_000))
		feesV1, feesV2 := uint64(rnd.Intn(1_000_000)), uint64(rnd.Intn(1_000_000))
		if feesV1+feesV2 == 0 {
			feesV1 = 1
		}
		in := bucketsInput{
			total: amount(total),
			keeperCosts: []domain.KeeperCost{
				{Keeper: keeperA, Amount: amount(uint64(rnd.Intn(int(total/10) + 1))), TreasuryOnly: true},
				{Keeper: keeperB, Amount: amount(uint64(rnd.Intn(int(total/10) + 1)))},
			},
			feesV1Usd:        amount(feesV1),
			feesV2Usd:        amount(feesV2),
			referralUsd:      amount(uint64(rnd.Intn(1200))),
			rewardTokenPrice: fixedpoint.Factor(uint64(1+rnd.Intn(10)), uint64(1+rnd.Intn(4))),
		}

		buckets, err := computeCostBuckets(params, in)
		if err != nil {
			require.Nil(t, buckets)
			matched := false
			for _, code := range expectedFailures {
				matched = matched || code.Is(err)
			}
			require.True(t, matched, "round %d: unexpected error %s", round, err)
			continue
		}
		succeeded++

		require.NoError(t, buckets.CheckConservation(), "round %d", round)
		for name, v := range map[string]*uint256.Int{
			"keeper_treasury":    buckets.KeeperCostsTreasury,
			"keeper_glp":         buckets.KeeperCostsGlp,
			"external_service":   buckets.ForExternalService,
			"treasury":           buckets.ForTreasury,
			"referral_rewards":   buckets.ForReferralRewards,
			"residual":           buckets.Residual,
			"treasury_shortfall": buckets.TreasuryShortfall,
		} {
			require.NotNil(t, v, "round %d: %s", round, name)
			require.True(t, v.Cmp(in.total) <= 0, "round %d: %s above total", round, name)
		}

		// The residual keeps its floor and the referral rewards their cap.
		base, err := fixedpoint.MulDiv(in.total, in.feesV2Usd, amount(feesV1+feesV2))
		require.NoError(t, err)
		minResidual, err := fixedpoint.ApplyFactor(
			new(uint256.Int).Sub(in.total, base), params.MinResidualFactor,
		)
		require.NoError(t, err)
		require.True(t, buckets.Residual.Cmp(minResidual) >= 0, "round %d", round)

		maxReferral, err := fixedpoint.ApplyFactor(in.total, params.MaxReferralRewardsWntFactor)
		require.NoError(t, err)
		require.True(t, buckets.ForReferralRewards.Cmp(maxReferral) <= 0, "round %d", round)

		maxShortfall, err := fixedpoint.ApplyFactor(base, params.MaxTreasuryShortfallFactor)
		require.NoError(t, err)
		require.True(t, buckets.TreasuryShortfall.Cmp(maxShortfall) <= 0, "round %d", round)
	}
	require.Positive(t, succeeded)
}

package application

import (
	"math/big"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/holiman/uint256"
)

type bucketsInput struct {
	// total is the reward token amount held after fees were withdrawn.
	total       *uint256.Int
	keeperCosts []domain.KeeperCost
	feesV1Usd   *uint256.Int
	feesV2Usd   *uint256.Int
	referralUsd *uint256.Int
	// rewardTokenPrice is a factor such that ToFactor(usd, price) is the
	// token amount.
	rewardTokenPrice *uint256.Int
}

// keeperCosts returns what each keeper needs to get back to its target balance.
func keeperCosts(keepers []domain.Keeper, balances []*uint256.Int) []domain.KeeperCost {
	costs := make([]domain.KeeperCost, 0, len(keepers))
	for i, k := range keepers {
		costs = append(costs, domain.KeeperCost{
			Keeper:       k.Address,
			Amount:       fixedpoint.SubFloor(k.TargetBalance, balances[i]),
			TreasuryOnly: k.TreasuryOnly,
		})
	}
	return costs
}

// computeCostBuckets splits the reward pool. Every threshold is validated here
// so that no transfer happens unless the whole split is valid.
func computeCostBuckets(
	params domain.DistributionParams, in bucketsInput,
) (*domain.CostBuckets, error) {
	keeperTreasury, keeperGlp := fixedpoint.Zero(), fixedpoint.Zero()
	for _, cost := range in.keeperCosts {
		if cost.TreasuryOnly {
			keeperTreasury.Add(keeperTreasury, cost.Amount)
			continue
		}
		glpPart, err := fixedpoint.ApplyFactor(cost.Amount, params.KeeperGlpFactor)
		if err != nil {
			return nil, typedError(err)
		}
		keeperGlp.Add(keeperGlp, glpPart)
		keeperTreasury.Add(keeperTreasury, new(uint256.Int).Sub(cost.Amount, glpPart))
	}

	totalFeesUsd, err := fixedpoint.Add(in.feesV1Usd, in.feesV2Usd)
	if err != nil {
		return nil, typedError(err)
	}
	base, err := fixedpoint.MulDiv(in.total, in.feesV2Usd, totalFeesUsd)
	if err != nil {
		return nil, typedError(err)
	}
	forExternal, err := fixedpoint.ApplyFactor(base, params.ExternalServiceFactor)
	if err != nil {
		return nil, typedError(err)
	}
	treasuryShare, err := fixedpoint.Sub(base, forExternal)
	if err != nil {
		return nil, typedError(err)
	}
	forTreasury, err := fixedpoint.Sub(treasuryShare, keeperTreasury)
	if err != nil {
		return nil, errors.ARITHMETIC_INVARIANT_VIOLATED.New(
			"keeper costs %s exceed the treasury share %s",
			keeperTreasury.Dec(), treasuryShare.Dec(),
		)
	}

	forReferral, err := referralRewardsAmount(params, in)
	if err != nil {
		return nil, err
	}

	residual := new(big.Int).Set(in.total.ToBig())
	for _, v := range []*uint256.Int{keeperGlp, keeperTreasury, forExternal, forTreasury, forReferral} {
		residual.Sub(residual, v.ToBig())
	}

	// The residual bucket must keep at least its floor, the treasury covers
	// the gap up to a share of the base.
	expected, err := fixedpoint.Sub(in.total, base)
	if err != nil {
		return nil, typedError(err)
	}
	minResidual, err := fixedpoint.ApplyFactor(expected, params.MinResidualFactor)
	if err != nil {
		return nil, typedError(err)
	}
	shortfall := fixedpoint.Zero()
	if residual.Cmp(minResidual.ToBig()) < 0 {
		if shortfall, err = fixedpoint.ToUnsigned(
			new(big.Int).Sub(minResidual.ToBig(), residual),
		); err != nil {
			return nil, typedError(err)
		}
		maxShortfall, err := fixedpoint.ApplyFactor(base, params.MaxTreasuryShortfallFactor)
		if err != nil {
			return nil, typedError(err)
		}
		if shortfall.Gt(maxShortfall) || shortfall.Gt(forTreasury) {
			return nil, errors.TREASURY_FEE_THRESHOLD_BREACHED.New(
				"residual shortfall %s exceeds max %s or treasury share %s",
				shortfall.Dec(), maxShortfall.Dec(), forTreasury.Dec(),
			).WithMetadata(errors.TreasuryShortfallMetadata{
				Shortfall:    shortfall.Dec(),
				MaxShortfall: maxShortfall.Dec(),
				ForTreasury:  forTreasury.Dec(),
			})
		}
		forTreasury.Sub(forTreasury, shortfall)
		residual.Add(residual, shortfall.ToBig())
	}

	residualAmount, err := fixedpoint.ToUnsigned(residual)
	if err != nil {
		return nil, typedError(err)
	}

	buckets := &domain.CostBuckets{
		Total:               in.total.Clone(),
		KeeperCosts:         in.keeperCosts,
		KeeperCostsTreasury: keeperTreasury,
		KeeperCostsGlp:      keeperGlp,
		ForExternalService:  forExternal,
		ForTreasury:         forTreasury,
		ForReferralRewards:  forReferral,
		Residual:            residualAmount,
		TreasuryShortfall:   shortfall,
	}
	if err := buckets.CheckConservation(); err != nil {
		return nil, errors.CONSERVATION_VIOLATED.Wrap(err)
	}
	return buckets, nil
}

// referralRewardsAmount converts the referral rewards USD amount into reward
// tokens, enforcing the absolute and relative caps.
func referralRewardsAmount(params domain.DistributionParams, in bucketsInput) (*uint256.Int, error) {
	if in.referralUsd.Gt(params.MaxReferralRewardsUsdAmount) {
		return nil, errors.WNT_REFERRAL_REWARDS_IN_USD_THRESHOLD_BREACHED.New(
			"referral rewards of %s USD above cap %s",
			in.referralUsd.Dec(), params.MaxReferralRewardsUsdAmount.Dec(),
		).WithMetadata(errors.ThresholdMetadata{
			Amount:    in.referralUsd.Dec(),
			Threshold: params.MaxReferralRewardsUsdAmount.Dec(),
		})
	}

	maxUsd, err := fixedpoint.ApplyFactor(in.feesV1Usd, params.MaxReferralRewardsUsdFactor)
	if err != nil {
		return nil, typedError(err)
	}
	if in.referralUsd.Gt(maxUsd) {
		return nil, errors.REFERRAL_REWARDS_THRESHOLD_BREACHED.New(
			"referral rewards of %s USD above %s USD share of v1 fees",
			in.referralUsd.Dec(), maxUsd.Dec(),
		).WithMetadata(errors.ThresholdMetadata{
			Amount:    in.referralUsd.Dec(),
			Threshold: maxUsd.Dec(),
		})
	}

	amount, err := fixedpoint.ToFactor(in.referralUsd, in.rewardTokenPrice)
	if err != nil {
		return nil, typedError(err)
	}
	maxAmount, err := fixedpoint.ApplyFactor(in.total, params.MaxReferralRewardsWntFactor)
	if err != nil {
		return nil, typedError(err)
	}
	if amount.Gt(maxAmount) {
		return nil, errors.REFERRAL_REWARDS_THRESHOLD_BREACHED.New(
			"referral rewards of %s tokens above %s share of the reward pool",
			amount.Dec(), maxAmount.Dec(),
		).WithMetadata(errors.ThresholdMetadata{
			Token:     params.RewardToken.Hex(),
			Amount:    amount.Dec(),
			Threshold: maxAmount.Dec(),
		})
	}
	return amount, nil
}

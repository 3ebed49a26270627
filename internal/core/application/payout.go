package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/keys"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

// payoutPlan is the outcome of a distribution whose payout started. It is
// stored before the first transfer, a retried distribution pays what is left
// of it instead of computing a new split.
type payoutPlan struct {
	feeTokenAmount *uint256.Int
	esTokenAmount  *uint256.Int
	buckets        domain.CostBuckets
	createdAt      int64
}

// Layout of the stored plan, the keeper costs follow in keeper order.
const (
	planFeeTokenAmount = iota
	planEsTokenAmount
	planTotal
	planKeeperCostsTreasury
	planKeeperCostsGlp
	planForExternalService
	planForTreasury
	planForReferralRewards
	planResidual
	planTreasuryShortfall
	planCreatedAt
	planKeeperCosts
)

func (p payoutPlan) encode() []*uint256.Int {
	values := make([]*uint256.Int, planKeeperCosts, planKeeperCosts+len(p.buckets.KeeperCosts))
	values[planFeeTokenAmount] = orZero(p.feeTokenAmount)
	values[planEsTokenAmount] = orZero(p.esTokenAmount)
	values[planTotal] = orZero(p.buckets.Total)
	values[planKeeperCostsTreasury] = orZero(p.buckets.KeeperCostsTreasury)
	values[planKeeperCostsGlp] = orZero(p.buckets.KeeperCostsGlp)
	values[planForExternalService] = orZero(p.buckets.ForExternalService)
	values[planForTreasury] = orZero(p.buckets.ForTreasury)
	values[planForReferralRewards] = orZero(p.buckets.ForReferralRewards)
	values[planResidual] = orZero(p.buckets.Residual)
	values[planTreasuryShortfall] = orZero(p.buckets.TreasuryShortfall)
	values[planCreatedAt] = uint256.NewInt(uint64(p.createdAt))
	for _, cost := range p.buckets.KeeperCosts {
		values = append(values, orZero(cost.Amount))
	}
	return values
}

func decodePayoutPlan(values []*uint256.Int, keepers []domain.Keeper) (*payoutPlan, error) {
	if len(values) != planKeeperCosts+len(keepers) {
		return nil, fmt.Errorf(
			"payout plan has %d values, expected %d", len(values), planKeeperCosts+len(keepers),
		)
	}
	if !values[planCreatedAt].IsUint64() {
		return nil, fmt.Errorf("invalid payout plan time %s", values[planCreatedAt].Dec())
	}
	plan := &payoutPlan{
		feeTokenAmount: values[planFeeTokenAmount],
		esTokenAmount:  values[planEsTokenAmount],
		buckets: domain.CostBuckets{
			Total:               values[planTotal],
			KeeperCostsTreasury: values[planKeeperCostsTreasury],
			KeeperCostsGlp:      values[planKeeperCostsGlp],
			ForExternalService:  values[planForExternalService],
			ForTreasury:         values[planForTreasury],
			ForReferralRewards:  values[planForReferralRewards],
			Residual:            values[planResidual],
			TreasuryShortfall:   values[planTreasuryShortfall],
		},
		createdAt: int64(values[planCreatedAt].Uint64()),
	}
	for i, k := range keepers {
		plan.buckets.KeeperCosts = append(plan.buckets.KeeperCosts, domain.KeeperCost{
			Keeper:       k.Address,
			Amount:       values[planKeeperCosts+i],
			TreasuryOnly: k.TreasuryOnly,
		})
	}
	return plan, nil
}

// payoutPlan loads the plan of the payout in progress, nil if none started.
func (tx ledgerTx) payoutPlan(keepers []domain.Keeper) (*payoutPlan, uint64, error) {
	values, err := tx.GetUintArray(keys.PayoutPlan)
	if err != nil {
		return nil, 0, err
	}
	if len(values) == 0 {
		return nil, 0, nil
	}
	plan, err := decodePayoutPlan(values, keepers)
	if err != nil {
		return nil, 0, err
	}
	step, err := tx.getUint64(keys.PayoutStep)
	if err != nil {
		return nil, 0, err
	}
	return plan, step, nil
}

func (tx ledgerTx) setPayoutPlan(plan payoutPlan) error {
	if err := tx.SetUintArray(keys.PayoutPlan, plan.encode()); err != nil {
		return err
	}
	return tx.setUint64(keys.PayoutStep, 0)
}

func (tx ledgerTx) deletePayoutPlan() error {
	if err := tx.Delete(keys.PayoutPlan); err != nil {
		return err
	}
	return tx.Delete(keys.PayoutStep)
}

// payoutStep is a single external call of a payout.
type payoutStep struct {
	name string
	run  func(ctx context.Context) error
}

// payoutSteps lists the moves of funds out of the holding account. The
// referral rewards stay there until claimed. The list depends on the plan
// and the keepers only, so a step index is stable across retries.
func (s *service) payoutSteps(params domain.DistributionParams, plan *payoutPlan) []payoutStep {
	feeToken := params.CurrentChain().FeeToken
	transfer := func(name string, token, to common.Address, amount *uint256.Int) payoutStep {
		return payoutStep{name, func(ctx context.Context) error {
			return s.transfer(ctx, token, to, amount)
		}}
	}
	notify := func(name string, tracker, token common.Address, amount *uint256.Int) payoutStep {
		return payoutStep{name, func(ctx context.Context) error {
			return s.notifyTracker(ctx, tracker, token, amount)
		}}
	}

	steps := []payoutStep{
		transfer("fee token to tracker", feeToken, params.FeeTokenRewardTracker, plan.feeTokenAmount),
		notify("fee token tracker", params.FeeTokenRewardTracker, feeToken, plan.feeTokenAmount),
	}
	for _, cost := range plan.buckets.KeeperCosts {
		steps = append(steps, transfer(
			fmt.Sprintf("keeper %s", cost.Keeper), params.RewardToken, cost.Keeper, cost.Amount,
		))
	}
	return append(steps,
		transfer(
			"external service", params.RewardToken, params.ExternalService,
			plan.buckets.ForExternalService,
		),
		transfer("treasury", params.RewardToken, params.Treasury, plan.buckets.ForTreasury),
		transfer(
			"residual to tracker", params.RewardToken, params.GlpRewardTracker,
			plan.buckets.Residual,
		),
		notify("glp tracker", params.GlpRewardTracker, params.RewardToken, plan.buckets.Residual),
	)
}

// payout runs the steps of the plan from the given one on, recording each
// completed step before the next call.
func (s *service) payout(
	ctx context.Context, cycleID string, params domain.DistributionParams,
	plan *payoutPlan, from uint64,
) error {
	logger := log.WithField("cycle", cycleID)
	steps := s.payoutSteps(params, plan)
	for i := from; i < uint64(len(steps)); i++ {
		step := steps[i]
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("payout step %q failed: %w", step.name, err)
		}
		if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
			return ledgerTx{tx}.setUint64(keys.PayoutStep, i+1)
		}); err != nil {
			// The next retry repeats this step.
			logger.WithError(err).Errorf("failed to record payout step %q", step.name)
			return fmt.Errorf("failed to record payout step %q: %w", step.name, err)
		}
		logger.Debugf("payout step %d/%d done: %s", i+1, len(steps), step.name)
	}
	return nil
}

func (s *service) transfer(
	ctx context.Context, token, to common.Address, amount *uint256.Int,
) error {
	if amount.IsZero() {
		return nil
	}
	if err := s.vault.Transfer(ctx, token, to, amount); err != nil {
		return fmt.Errorf("failed to transfer %s of %s to %s: %w", amount.Dec(), token, to, err)
	}
	return nil
}

// notifyTracker streams an amount already sent to a reward tracker over the
// distribution period.
func (s *service) notifyTracker(
	ctx context.Context, tracker, token common.Address, amount *uint256.Int,
) error {
	if amount.IsZero() {
		return nil
	}
	period := uint256.NewInt(uint64(domain.DistributionPeriod / time.Second))
	tokensPerInterval := new(uint256.Int).Div(amount, period)
	if err := s.trackers.NotifyNewRewardAmount(
		ctx, tracker, token, amount, tokensPerInterval,
	); err != nil {
		return fmt.Errorf("failed to notify reward tracker %s: %w", tracker, err)
	}
	return nil
}

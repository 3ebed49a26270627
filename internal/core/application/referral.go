package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/metrics"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/arkade-os/fee-distributor/pkg/keys"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

func validateReferralRewardsRequest(req ReferralRewardsRequest) error {
	if len(req.Accounts) != len(req.Amounts) {
		return errors.REFERRAL_REWARDS_ARRAY_MISMATCH.New(
			"got %d accounts and %d amounts", len(req.Accounts), len(req.Amounts),
		).WithMetadata(errors.ArrayMismatchMetadata{
			ExpectedLength: len(req.Accounts),
			GotLength:      len(req.Amounts),
		})
	}
	if len(req.Accounts) > req.MaxBatchSize {
		return errors.REFERRAL_REWARDS_AMOUNT_EXCEEDS_MAX_BATCH_SIZE.New(
			"batch of %d accounts above max %d", len(req.Accounts), req.MaxBatchSize,
		).WithMetadata(errors.BatchSizeMetadata{
			BatchSize:    len(req.Accounts),
			MaxBatchSize: req.MaxBatchSize,
		})
	}
	for i, amount := range req.Amounts {
		if amount == nil {
			return errors.REFERRAL_REWARDS_ARRAY_MISMATCH.New("missing amount at index %d", i)
		}
	}
	return nil
}

func referralThresholdError(token string, sent, authorized *uint256.Int) error {
	return errors.REFERRAL_REWARDS_THRESHOLD_BREACHED.New(
		"referral rewards sent %s would exceed authorized %s", sent.Dec(), authorized.Dec(),
	).WithMetadata(errors.ThresholdMetadata{
		Token:     token,
		Amount:    sent.Dec(),
		Threshold: authorized.Dec(),
	})
}

// sendReferralRewards pays a batch of referral rewards out of the amount
// authorized by the last distribution. The batch is reserved in the sent
// amount before transferring so that what leaves the holding account never
// exceeds the authorized amount, what a failed batch did not pay is released.
func (s *service) sendReferralRewards(ctx context.Context, req ReferralRewardsRequest) error {
	now := s.clock.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := requireState(snap.state, domain.DistributionStateNone); err != nil {
		return err
	}
	if err := validateReferralRewardsRequest(req); err != nil {
		return err
	}
	params := *snap.params

	total, err := fixedpoint.Sum(req.Amounts...)
	if err != nil {
		return typedError(err)
	}

	var authorized, sent *uint256.Int
	if err := s.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		authorized, sent, err = ledgerTx{tx}.referralRewards(req.Token)
		return err
	}); err != nil {
		return typedError(err)
	}
	newSent, err := fixedpoint.Add(sent, total)
	if err != nil {
		return typedError(err)
	}
	if newSent.Gt(authorized) {
		return referralThresholdError(req.Token.Hex(), newSent, authorized)
	}

	if req.Token == params.EsToken {
		balance, err := s.vault.BalanceOf(ctx, req.Token, params.HoldingAccount)
		if err != nil {
			return typedError(fmt.Errorf("failed to read es token balance: %w", err))
		}
		if balance.Lt(total) {
			shortfall := new(uint256.Int).Sub(total, balance)
			if err := s.vault.Mint(ctx, req.Token, params.HoldingAccount, shortfall); err != nil {
				return typedError(fmt.Errorf("failed to mint es token: %w", err))
			}
			log.Debugf("minted %s es tokens for referral rewards", shortfall.Dec())
		}
	} else {
		balance, err := s.vault.BalanceOf(ctx, req.Token, params.HoldingAccount)
		if err != nil {
			return typedError(fmt.Errorf("failed to read referral token balance: %w", err))
		}
		if balance.Lt(total) {
			return errors.REFERRAL_REWARDS_THRESHOLD_BREACHED.New(
				"referral rewards batch %s above holding balance %s", total.Dec(), balance.Dec(),
			).WithMetadata(errors.ThresholdMetadata{
				Token:     req.Token.Hex(),
				Amount:    total.Dec(),
				Threshold: balance.Dec(),
			})
		}
	}

	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		state, err := ltx.state()
		if err != nil {
			return err
		}
		if err := requireState(state, domain.DistributionStateNone); err != nil {
			return err
		}
		authorized, sent, err := ltx.referralRewards(req.Token)
		if err != nil {
			return err
		}
		newSent, err := fixedpoint.Add(sent, total)
		if err != nil {
			return err
		}
		if newSent.Gt(authorized) {
			return referralThresholdError(req.Token.Hex(), newSent, authorized)
		}
		return ltx.SetUint(keys.ReferralRewardsSentKey(req.Token), newSent)
	}); err != nil {
		return typedError(err)
	}

	paid := fixedpoint.Zero()
	for i, account := range req.Accounts {
		if err := s.transfer(ctx, req.Token, account, req.Amounts[i]); err != nil {
			log.WithError(err).Errorf(
				"referral rewards batch interrupted after %d of %d transfers", i, len(req.Accounts),
			)
			s.releaseReferralRewards(ctx, req.Token, new(uint256.Int).Sub(total, paid))
			metrics.ReferralRewardsSentTotal.WithLabelValues(req.Token.Hex()).Add(metrics.Amount(paid))
			return typedError(err)
		}
		paid.Add(paid, req.Amounts[i])
	}
	metrics.ReferralRewardsSentTotal.WithLabelValues(req.Token.Hex()).Add(metrics.Amount(total))

	log.Infof(
		"sent %s referral rewards of token %s to %d accounts",
		total.Dec(), req.Token.Hex(), len(req.Accounts),
	)
	s.saveEvents(ctx, snap.cycle.id, []domain.Event{domain.ReferralRewardsSent{
		DistributionEvent: domain.DistributionEvent{
			Id:        snap.cycle.id,
			Type:      domain.EventTypeReferralRewardsSent,
			Timestamp: now.Unix(),
		},
		Token:    req.Token.Hex(),
		Accounts: len(req.Accounts),
		Amount:   total.Dec(),
	}})
	return nil
}

// releaseReferralRewards gives back to the authorized budget the part of a
// reserved batch that was not transferred.
func (s *service) releaseReferralRewards(
	ctx context.Context, token common.Address, unpaid *uint256.Int,
) {
	if unpaid.IsZero() {
		return
	}
	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		_, sent, err := ledgerTx{tx}.referralRewards(token)
		if err != nil {
			return err
		}
		return tx.SetUint(keys.ReferralRewardsSentKey(token), fixedpoint.SubFloor(sent, unpaid))
	}); err != nil {
		log.WithError(err).Errorf(
			"failed to release %s unpaid referral rewards of token %s", unpaid.Dec(), token.Hex(),
		)
	}
}

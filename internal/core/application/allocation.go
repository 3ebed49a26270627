package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/metrics"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/arkade-os/fee-distributor/pkg/keys"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

// sufficiency is the outcome of comparing the current fee balance with the
// balance expected once inbound transfers settle.
type sufficiency struct {
	required    *uint256.Int
	original    *uint256.Int
	minReceived *uint256.Int
	current     *uint256.Int
}

// ok compares the current balance with the original balance plus what is
// expected to arrive. A chain that had a surplus only needs to have kept its
// required amount.
func (s sufficiency) ok() bool {
	baseline := fixedpoint.Min(s.original, s.required)
	expected, err := fixedpoint.Add(baseline, s.minReceived)
	if err != nil {
		return false
	}
	return expected.Cmp(s.current) <= 0
}

func (s sufficiency) metadata() errors.BridgedAmountMetadata {
	return errors.BridgedAmountMetadata{
		RequiredFeeAmount: s.required.Dec(),
		OriginalBalance:   s.original.Dec(),
		MinFeeReceived:    s.minReceived.Dec(),
		CurrentBalance:    s.current.Dec(),
	}
}

// checkSufficiency tolerates the bridge slippage on the amount still expected
// to land on the current chain, minus a fixed buffer.
func checkSufficiency(
	required, original, current, slippageFactor, buffer *uint256.Int,
) (sufficiency, error) {
	pending := fixedpoint.SubFloor(required, original)
	minPending, err := fixedpoint.ApplyFactor(pending, orZero(slippageFactor))
	if err != nil {
		return sufficiency{}, err
	}
	return sufficiency{
		required:    required,
		original:    original,
		minReceived: fixedpoint.SubFloor(minPending, orZero(buffer)),
		current:     current,
	}, nil
}

// plannedBridgeTransfers returns the transfers the current chain must issue,
// in destination order.
func plannedBridgeTransfers(
	params domain.DistributionParams, records domain.ChainRecords, rebalance *domain.Rebalance,
) []domain.BridgeTransfer {
	from := records.IndexOf(params.CurrentChainID)
	transfers := make([]domain.BridgeTransfer, 0)
	for to, amount := range rebalance.Bridging[from] {
		if amount.IsZero() {
			continue
		}
		transfers = append(transfers, domain.BridgeTransfer{
			FromChainID: params.CurrentChainID,
			ToChainID:   records[to].ChainID,
			Amount:      amount.Clone(),
		})
	}
	return transfers
}

// allTransfers flattens the bridging matrix.
func allTransfers(records domain.ChainRecords, rebalance *domain.Rebalance) []domain.BridgeTransfer {
	transfers := make([]domain.BridgeTransfer, 0)
	for from, row := range rebalance.Bridging {
		for to, amount := range row {
			if amount.IsZero() {
				continue
			}
			transfers = append(transfers, domain.BridgeTransfer{
				FromChainID: records[from].ChainID,
				ToChainID:   records[to].ChainID,
				Amount:      amount.Clone(),
			})
		}
	}
	return transfers
}

// validateBridgeAmount makes sure that what is left on the current chain after
// sending covers its own share.
func validateBridgeAmount(required, settled, totalSent *uint256.Int) error {
	left, err := fixedpoint.Sub(settled, totalSent)
	if err != nil || left.Lt(required) {
		return errors.ATTEMPTED_BRIDGE_AMOUNT_TOO_HIGH.New(
			"sending %s out of %s leaves less than the required %s",
			totalSent.Dec(), settled.Dec(), required.Dec(),
		).WithMetadata(errors.BridgeAmountTooHighMetadata{
			RequiredFeeAmount: required.Dec(),
			SettledBalance:    settled.Dec(),
			TotalSent:         totalSent.Dec(),
		})
	}
	return nil
}

// bridgeSurplus issues one bridge call per planned transfer from the holding
// account. Every sent amount is added to the bridged out amount of the ledger
// before the next call. On failure it returns what was sent so far.
func (s *service) bridgeSurplus(
	ctx context.Context, cycleID string, params domain.DistributionParams,
	transfers []domain.BridgeTransfer, now time.Time,
) (*uint256.Int, []domain.Event, error) {
	totalSent := fixedpoint.Zero()
	events := make([]domain.Event, 0, len(transfers))
	source := params.CurrentChain()

	for _, t := range transfers {
		destination, ok := params.Chain(t.ToChainID)
		if !ok {
			return totalSent, events, fmt.Errorf("unknown destination chain %d", t.ToChainID)
		}
		minAmountOut, err := fixedpoint.ApplyFactor(t.Amount, orZero(destination.BridgeSlippageFactor))
		if err != nil {
			return totalSent, events, err
		}

		req := ports.BridgeRequest{
			SourceToken:         source.FeeToken,
			Amount:              t.Amount,
			DestinationChainID:  destination.ChainID,
			DestinationToken:    destination.FeeToken,
			Recipient:           destination.FeeReceiver,
			MinAmountOut:        minAmountOut,
			OriginDeadline:      now.Add(destination.BridgeOriginDelay),
			DestinationDeadline: now.Add(destination.BridgeDestinationDelay),
		}
		if err := s.bridge.Bridge(ctx, req); err != nil {
			return totalSent, events, fmt.Errorf("failed to bridge to chain %d: %w", t.ToChainID, err)
		}
		totalSent.Add(totalSent, t.Amount)
		if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
			return tx.SetUint(keys.BridgedOutAmount, totalSent)
		}); err != nil {
			return totalSent, events, fmt.Errorf("failed to record bridged out amount: %w", err)
		}
		metrics.BridgedAmount.WithLabelValues(fmt.Sprint(t.ToChainID)).Add(metrics.Amount(t.Amount))

		log.WithField("cycle", cycleID).
			WithField("to", destination.ChainID).
			Debugf("bridged %s fee tokens, min out %s", t.Amount.Dec(), minAmountOut.Dec())

		events = append(events, domain.FeesBridgedOut{
			DistributionEvent: domain.DistributionEvent{
				Id:        cycleID,
				Type:      domain.EventTypeFeesBridgedOut,
				Timestamp: now.Unix(),
			},
			DestinationChainID: destination.ChainID,
			Amount:             t.Amount.Dec(),
			MinAmountOut:       minAmountOut.Dec(),
		})
	}
	return totalSent, events, nil
}

// typedError maps the fixedpoint failures to their codes and any other
// untyped error to INTERNAL_ERROR.
func typedError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(errors.Error); ok {
		return err
	}
	switch err {
	case fixedpoint.ErrDivideByZero:
		return errors.DIVIDE_BY_ZERO.Wrap(err)
	case fixedpoint.ErrOverflow:
		return errors.OVERFLOW.Wrap(err)
	case fixedpoint.ErrArithmeticInvariantViolated:
		return errors.ARITHMETIC_INVARIANT_VIOLATED.Wrap(err)
	default:
		return errors.INTERNAL_ERROR.Wrap(err)
	}
}

package simulated

import (
	"context"
	"fmt"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type bridge struct {
	network *Network
	chainID uint64
	sender  common.Address
	// feeFactor is the share of every transfer kept by the bridge.
	feeFactor *uint256.Int
}

// NewBridge returns a bridge sending tokens of sender out of chainID. A nil
// feeFactor means no bridge fee.
func NewBridge(
	network *Network, chainID uint64, sender common.Address, feeFactor *uint256.Int,
) ports.Bridge {
	if feeFactor == nil {
		feeFactor = fixedpoint.Zero()
	}
	return &bridge{network, chainID, sender, feeFactor}
}

func (b *bridge) Bridge(_ context.Context, req ports.BridgeRequest) error {
	if req.Amount == nil || req.Amount.IsZero() {
		return fmt.Errorf("missing bridge amount")
	}
	if now := b.network.clock.Now(); !req.OriginDeadline.IsZero() && now.After(req.OriginDeadline) {
		return fmt.Errorf("origin deadline %s expired", req.OriginDeadline)
	}

	fee, err := fixedpoint.ApplyFactor(req.Amount, b.feeFactor)
	if err != nil {
		return err
	}
	out := new(uint256.Int).Sub(req.Amount, fee)
	if req.MinAmountOut != nil && out.Lt(req.MinAmountOut) {
		return fmt.Errorf(
			"bridge output %s below min amount out %s", out.Dec(), req.MinAmountOut.Dec(),
		)
	}

	return b.network.bridgeOut(InflightTransfer{
		SourceChainID:      b.chainID,
		SourceToken:        req.SourceToken,
		Sender:             b.sender,
		Refund:             req.Amount.Clone(),
		DestinationChainID: req.DestinationChainID,
		Token:              req.DestinationToken,
		Recipient:          req.Recipient,
		Amount:             out,
		Deadline:           req.DestinationDeadline,
	})
}

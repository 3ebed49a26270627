package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenVault gives access to token balances of the current chain. Transfers
// and mints are made from and to the distributor holding account.
type TokenVault interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*uint256.Int, error)
	// ClaimableFees is the fee balance pending in the fee handler.
	ClaimableFees(ctx context.Context, feeHandler, token common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error
	Mint(ctx context.Context, token, to common.Address, amount *uint256.Int) error
}

type BridgeRequest struct {
	SourceToken         common.Address
	Amount              *uint256.Int
	DestinationChainID  uint64
	DestinationToken    common.Address
	Recipient           common.Address
	MinAmountOut        *uint256.Int
	OriginDeadline      time.Time
	DestinationDeadline time.Time
}

// Bridge moves tokens out of the current chain. Funds are debited when the call
// returns and credited on the destination later.
type Bridge interface {
	Bridge(ctx context.Context, req BridgeRequest) error
}

// FeeSource is an upstream fee handler accruing fees for the distributor.
type FeeSource interface {
	Name() string
	WithdrawAccruedFees(ctx context.Context, token common.Address) (*uint256.Int, error)
}

type RewardTracker interface {
	NotifyNewRewardAmount(
		ctx context.Context, tracker, token common.Address,
		amount, tokensPerInterval *uint256.Int,
	) error
}

// PriceOracle returns the price of a token as a factor of PrecisionUnit, such
// that ToFactor(usdAmount, price) is the token amount.
type PriceOracle interface {
	GetPrice(ctx context.Context, token common.Address) (*uint256.Int, error)
}

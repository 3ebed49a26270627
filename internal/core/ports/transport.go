package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type ReadMethod uint8

const (
	// ReadClaimableFees reads the pending fee balance of Token in Target.
	ReadClaimableFees ReadMethod = iota
	// ReadBalanceOf reads the balance of Account in Token.
	ReadBalanceOf
	// ReadTotalSupply reads the total supply of Token.
	ReadTotalSupply
)

func (m ReadMethod) String() string {
	switch m {
	case ReadClaimableFees:
		return "claimableFees"
	case ReadBalanceOf:
		return "balanceOf"
	case ReadTotalSupply:
		return "totalSupply"
	default:
		return "unknown"
	}
}

type ReadRequest struct {
	ChainID uint64
	Method  ReadMethod
	Target  common.Address
	Token   common.Address
	Account common.Address
}

type ReadOptions struct {
	GasLimit     uint64
	ResponseSize uint32
}

type ReadReceipt struct {
	RequestID common.Hash
	Fee       *uint256.Int
}

// ReadTransport sends batched cross-chain reads. The response is delivered
// asynchronously, with every read result encoded as a 32 byte word in request
// order, to the registered ReadResponseHandler.
type ReadTransport interface {
	QuoteFee(ctx context.Context, reqs []ReadRequest, opts ReadOptions) (*uint256.Int, error)
	Send(
		ctx context.Context, reqs []ReadRequest, opts ReadOptions, fee *uint256.Int,
	) (*ReadReceipt, error)
	RegisterResponseHandler(handler ReadResponseHandler)
}

type ReadResponseHandler func(
	ctx context.Context, requestID common.Hash, timestamp int64, payload []byte,
) error

package application

import (
	"context"
	"fmt"
	"math/big"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
)

const (
	readsPerChain = 3
	wordSize      = 32
)

// chainReadArguments decodes the reads of a single remote chain: the fee
// amount pending in the fee handler, the fee receiver balance and the staked
// token supply.
var chainReadArguments = func() abi.Arguments {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	args := make(abi.Arguments, 0, readsPerChain)
	for i := 0; i < readsPerChain; i++ {
		args = append(args, abi.Argument{Type: uint256Type})
	}
	return args
}()

// buildReadRequests returns the batch of reads for every remote chain, in the
// configured chain order.
func buildReadRequests(params domain.DistributionParams) []ports.ReadRequest {
	remote := params.RemoteChains()
	reqs := make([]ports.ReadRequest, 0, len(remote)*readsPerChain)
	for _, c := range remote {
		reqs = append(reqs,
			ports.ReadRequest{
				ChainID: c.ChainID,
				Method:  ports.ReadClaimableFees,
				Target:  c.FeeHandler,
				Token:   c.FeeToken,
			},
			ports.ReadRequest{
				ChainID: c.ChainID,
				Method:  ports.ReadBalanceOf,
				Token:   c.FeeToken,
				Account: c.FeeReceiver,
			},
			ports.ReadRequest{
				ChainID: c.ChainID,
				Method:  ports.ReadTotalSupply,
				Token:   c.StakedToken,
			},
		)
	}
	return reqs
}

func readOptions(params domain.DistributionParams, numOfReads int) ports.ReadOptions {
	return ports.ReadOptions{
		GasLimit:     params.ReadGasBase + params.ReadGasPerRead*uint64(numOfReads),
		ResponseSize: uint32(numOfReads * wordSize),
	}
}

// decodeReadResponse decodes the remote chain records out of the response
// payload. Slots follow the configured chain order with the current chain
// skipped.
func decodeReadResponse(
	params domain.DistributionParams, payload []byte,
) (domain.ChainRecords, error) {
	remote := params.RemoteChains()
	expectedLen := len(remote) * readsPerChain * wordSize
	if len(payload) != expectedLen {
		return nil, errors.INVALID_READ_RESPONSE.New(
			"expected %d bytes, got %d", expectedLen, len(payload),
		).WithMetadata(errors.InvalidReadResponseMetadata{
			ExpectedLength: expectedLen,
			GotLength:      len(payload),
		})
	}

	records := make(domain.ChainRecords, 0, len(remote))
	slot := 0
	for _, c := range params.Chains {
		if c.ChainID == params.CurrentChainID {
			continue
		}
		offset := slot * readsPerChain * wordSize
		slot++

		values, err := chainReadArguments.Unpack(
			payload[offset : offset+readsPerChain*wordSize],
		)
		if err != nil {
			return nil, errors.INVALID_READ_RESPONSE.Wrap(
				fmt.Errorf("chain %d: %w", c.ChainID, err),
			)
		}
		words := make([]*uint256.Int, 0, readsPerChain)
		for _, v := range values {
			word, overflow := uint256.FromBig(v.(*big.Int))
			if overflow {
				return nil, errors.INVALID_READ_RESPONSE.New(
					"chain %d: read value overflows", c.ChainID,
				)
			}
			words = append(words, word)
		}

		fee, err := fixedpoint.Add(words[0], words[1])
		if err != nil {
			return nil, errors.OVERFLOW.Wrap(fmt.Errorf("chain %d fee amount: %w", c.ChainID, err))
		}
		records = append(records, domain.NewChainRecord(c.ChainID, fee, words[2]))
	}
	return records, nil
}

// mergeChainRecords returns the records of all chains in configured order.
func mergeChainRecords(
	params domain.DistributionParams, current domain.ChainRecord, remote domain.ChainRecords,
) domain.ChainRecords {
	records := make(domain.ChainRecords, 0, len(params.Chains))
	for _, c := range params.Chains {
		if c.ChainID == params.CurrentChainID {
			records = append(records, current)
			continue
		}
		if i := remote.IndexOf(c.ChainID); i >= 0 {
			records = append(records, remote[i])
		}
	}
	return records
}

// currentFeeBalance is the fee token amount the distributor can settle on the
// current chain: the fees pending in the fee handler plus the holding balance.
func (s *service) currentFeeBalance(
	ctx context.Context, params domain.DistributionParams,
) (*uint256.Int, error) {
	current := params.CurrentChain()
	claimable, err := s.vault.ClaimableFees(ctx, current.FeeHandler, current.FeeToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimable fees: %w", err)
	}
	held, err := s.vault.BalanceOf(ctx, current.FeeToken, params.HoldingAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to read holding fee balance: %w", err)
	}
	return fixedpoint.Add(claimable, held)
}

// currentChainRecord reads the record of the current chain synchronously.
func (s *service) currentChainRecord(
	ctx context.Context, params domain.DistributionParams,
) (domain.ChainRecord, error) {
	fee, err := s.currentFeeBalance(ctx, params)
	if err != nil {
		return domain.ChainRecord{}, err
	}
	staked, err := s.vault.TotalSupply(ctx, params.CurrentChain().StakedToken)
	if err != nil {
		return domain.ChainRecord{}, fmt.Errorf("failed to read staked supply: %w", err)
	}
	return domain.NewChainRecord(params.CurrentChainID, fee, staked), nil
}

// beginAggregation quotes and sends the batched reads of the remote chains.
// It returns a nil receipt when there is no remote chain.
func (s *service) beginAggregation(
	ctx context.Context, params domain.DistributionParams,
) (*ports.ReadReceipt, error) {
	reqs := buildReadRequests(params)
	if len(reqs) == 0 {
		return nil, nil
	}
	opts := readOptions(params, len(reqs))

	fee, err := s.transport.QuoteFee(ctx, reqs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to quote read fee: %w", err)
	}
	receipt, err := s.transport.Send(ctx, reqs, opts, fee)
	if err != nil {
		return nil, fmt.Errorf("failed to send read request: %w", err)
	}
	return receipt, nil
}

package application

import (
	"math/big"
	"testing"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func encodeChainReads(t *testing.T, claimable, received, staked *big.Int) []byte {
	buf, err := chainReadArguments.Pack(claimable, received, staked)
	require.NoError(t, err)
	return buf
}

func TestBuildReadRequests(t *testing.T) {
	params := testParams(2, 1, 3)

	reqs := buildReadRequests(params)
	require.Len(t, reqs, 6)

	for i, chainID := range []uint64{1, 3} {
		chain := testChain(chainID)
		batch := reqs[i*readsPerChain : (i+1)*readsPerChain]

		require.Equal(t, ports.ReadRequest{
			ChainID: chainID,
			Method:  ports.ReadClaimableFees,
			Target:  chain.FeeHandler,
			Token:   chain.FeeToken,
		}, batch[0])
		require.Equal(t, ports.ReadRequest{
			ChainID: chainID,
			Method:  ports.ReadBalanceOf,
			Token:   chain.FeeToken,
			Account: chain.FeeReceiver,
		}, batch[1])
		require.Equal(t, ports.ReadRequest{
			ChainID: chainID,
			Method:  ports.ReadTotalSupply,
			Token:   chain.StakedToken,
		}, batch[2])
	}

	t.Run("single_chain", func(t *testing.T) {
		require.Empty(t, buildReadRequests(testParams(1)))
	})
}

func TestReadOptions(t *testing.T) {
	opts := readOptions(testParams(1, 2, 3), 6)
	require.Equal(t, uint64(100_000+6*20_000), opts.GasLimit)
	require.Equal(t, uint32(6*32), opts.ResponseSize)
}

func TestDecodeReadResponse(t *testing.T) {
	// The current chain sits in the middle of the configured list.
	params := testParams(2, 1, 3)
	params.Chains = []domain.ChainConfig{testChain(1), testChain(2), testChain(3)}

	payload := append(
		encodeChainReads(t, big.NewInt(70), big.NewInt(30), big.NewInt(1000)),
		encodeChainReads(t, big.NewInt(5), big.NewInt(0), big.NewInt(250))...,
	)

	records, err := decodeReadResponse(params, payload)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, uint64(1), records[0].ChainID)
	require.Equal(t, uint64(100), records[0].FeeAmount.Uint64())
	require.Equal(t, uint64(1000), records[0].StakedAmount.Uint64())

	require.Equal(t, uint64(3), records[1].ChainID)
	require.Equal(t, uint64(5), records[1].FeeAmount.Uint64())
	require.Equal(t, uint64(250), records[1].StakedAmount.Uint64())

	t.Run("merged_in_configured_order", func(t *testing.T) {
		current := domain.NewChainRecord(2, amount(40), amount(500))
		merged := mergeChainRecords(params, current, records)
		require.Len(t, merged, 3)
		for i, chainID := range []uint64{1, 2, 3} {
			require.Equal(t, chainID, merged[i].ChainID)
		}
		require.Equal(t, current, merged[1])
	})

	t.Run("invalid_length", func(t *testing.T) {
		for _, payload := range [][]byte{nil, payload[:len(payload)-1], append(payload, 0)} {
			_, err := decodeReadResponse(params, payload)
			require.Error(t, err)
			require.True(t, errors.INVALID_READ_RESPONSE.Is(err))
		}
	})

	t.Run("fee_overflow", func(t *testing.T) {
		maxWord := new(uint256.Int).SetAllOne().ToBig()
		payload := append(
			encodeChainReads(t, maxWord, big.NewInt(1), big.NewInt(1)),
			encodeChainReads(t, big.NewInt(0), big.NewInt(0), big.NewInt(0))...,
		)
		_, err := decodeReadResponse(params, payload)
		require.True(t, errors.OVERFLOW.Is(err))
	})

	t.Run("single_chain", func(t *testing.T) {
		records, err := decodeReadResponse(testParams(1), nil)
		require.NoError(t, err)
		require.Empty(t, records)
	})
}

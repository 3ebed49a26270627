package domain_test

import (
	"math/rand"
	"testing"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestComputeRebalance(t *testing.T) {
	t.Run("two chains", func(t *testing.T) {
		rebalance, err := domain.ComputeRebalance(records(
			[]uint64{100, 0}, []uint64{50, 50},
		))
		require.NoError(t, err)

		requireAmounts(t, []uint64{50, 50}, rebalance.Targets)
		require.Equal(t, int64(50), rebalance.Differences[0].Int64())
		require.Equal(t, int64(-50), rebalance.Differences[1].Int64())
		requireMatrix(t, [][]uint64{{0, 50}, {0, 0}}, rebalance.Bridging)
	})

	t.Run("three chains single deficit", func(t *testing.T) {
		rebalance, err := domain.ComputeRebalance(records(
			[]uint64{30, 30, 30}, []uint64{10, 10, 80},
		))
		require.NoError(t, err)

		require.Equal(t, uint64(90), rebalance.TotalFee.Uint64())
		require.Equal(t, uint64(100), rebalance.TotalStake.Uint64())
		requireAmounts(t, []uint64{9, 9, 72}, rebalance.Targets)
		requireMatrix(t, [][]uint64{{0, 0, 21}, {0, 0, 21}, {0, 0, 0}}, rebalance.Bridging)
	})

	t.Run("surplus split across deficits in index order", func(t *testing.T) {
		rebalance, err := domain.ComputeRebalance(records(
			[]uint64{0, 90, 0, 10}, []uint64{25, 25, 25, 25},
		))
		require.NoError(t, err)

		requireAmounts(t, []uint64{25, 25, 25, 25}, rebalance.Targets)
		requireMatrix(t, [][]uint64{
			{0, 0, 0, 0},
			{25, 0, 25, 15},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
		}, rebalance.Bridging)
		require.Equal(t, uint64(65), rebalance.SentBy(1).Uint64())
		require.Equal(t, uint64(15), rebalance.ReceivedBy(3).Uint64())
		require.Equal(t, uint64(65), rebalance.Surplus(1).Uint64())
		require.True(t, rebalance.Surplus(0).IsZero())
	})

	t.Run("balanced", func(t *testing.T) {
		rebalance, err := domain.ComputeRebalance(records(
			[]uint64{40, 60}, []uint64{2, 3},
		))
		require.NoError(t, err)
		requireMatrix(t, [][]uint64{{0, 0}, {0, 0}}, rebalance.Bridging)
	})

	t.Run("no stake", func(t *testing.T) {
		_, err := domain.ComputeRebalance(records([]uint64{40, 60}, []uint64{0, 0}))
		require.ErrorIs(t, err, fixedpoint.ErrDivideByZero)
	})
}

func TestComputeRebalanceProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := 2 + rnd.Intn(6)
		fees := make([]uint64, n)
		stakes := make([]uint64, n)
		for i := range fees {
			fees[i] = uint64(rnd.Intn(1_000_000))
			stakes[i] = uint64(1 + rnd.Intn(1_000_000))
		}

		rebalance, err := domain.ComputeRebalance(records(fees, stakes))
		require.NoError(t, err)

		allocated := fixedpoint.Zero()
		for i := range fees {
			require.True(t, rebalance.SentBy(i).Cmp(rebalance.Surplus(i)) <= 0,
				"chain %d sends more than its surplus", i)

			post := new(uint256.Int).SetUint64(fees[i])
			post.Sub(post, rebalance.SentBy(i))
			post.Add(post, rebalance.ReceivedBy(i))
			require.True(t, post.Cmp(rebalance.Targets[i]) >= 0,
				"chain %d ends below target", i)
			if rebalance.Differences[i].Sign() < 0 {
				require.Equal(t, rebalance.Targets[i].Dec(), post.Dec())
			}
			allocated.Add(allocated, rebalance.Targets[i])
		}

		// the flooring remainder is left where it is, less than one unit per chain
		remainder := new(uint256.Int).Sub(rebalance.TotalFee, allocated)
		require.True(t, remainder.Lt(uint256.NewInt(uint64(n))))
	}
}

func records(fees, stakes []uint64) domain.ChainRecords {
	out := make(domain.ChainRecords, 0, len(fees))
	for i := range fees {
		out = append(out, domain.NewChainRecord(
			uint64(i+1), uint256.NewInt(fees[i]), uint256.NewInt(stakes[i]),
		))
	}
	return out
}

func requireAmounts(t *testing.T, expected []uint64, got []*uint256.Int) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i := range expected {
		require.Equal(t, expected[i], got[i].Uint64(), "index %d", i)
	}
}

func requireMatrix(t *testing.T, expected [][]uint64, got [][]*uint256.Int) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i := range expected {
		requireAmounts(t, expected[i], got[i])
	}
}

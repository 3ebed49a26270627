package domain

import (
	"fmt"

	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type KeeperCost struct {
	Keeper       common.Address
	Amount       *uint256.Int
	TreasuryOnly bool
}

// CostBuckets is the split of the reward pool of a cycle.
type CostBuckets struct {
	Total               *uint256.Int
	KeeperCosts         []KeeperCost
	KeeperCostsTreasury *uint256.Int
	KeeperCostsGlp      *uint256.Int
	ForExternalService  *uint256.Int
	ForTreasury         *uint256.Int
	ForReferralRewards  *uint256.Int
	Residual            *uint256.Int
	// TreasuryShortfall is the amount moved from the treasury to the residual
	// bucket to honor its floor.
	TreasuryShortfall *uint256.Int
}

func (b CostBuckets) Sum() (*uint256.Int, error) {
	return fixedpoint.Sum(
		b.KeeperCostsTreasury,
		b.KeeperCostsGlp,
		b.ForExternalService,
		b.ForTreasury,
		b.ForReferralRewards,
		b.Residual,
	)
}

// CheckConservation fails unless the buckets add up to the total exactly.
func (b CostBuckets) CheckConservation() error {
	sum, err := b.Sum()
	if err != nil {
		return err
	}
	if !sum.Eq(b.Total) {
		return fmt.Errorf("buckets sum to %s, expected %s", sum.Dec(), b.Total.Dec())
	}
	return nil
}

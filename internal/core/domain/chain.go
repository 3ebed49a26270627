package domain

import (
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/holiman/uint256"
)

// ChainRecord is the fee and stake snapshot of a chain for the current cycle.
// The record of the current chain is read live, the others come from the last
// aggregation response.
type ChainRecord struct {
	ChainID      uint64
	FeeAmount    *uint256.Int
	StakedAmount *uint256.Int
}

func NewChainRecord(chainID uint64, fee, staked *uint256.Int) ChainRecord {
	return ChainRecord{
		ChainID:      chainID,
		FeeAmount:    fee.Clone(),
		StakedAmount: staked.Clone(),
	}
}

// ChainRecords is ordered as the configured chain list.
type ChainRecords []ChainRecord

func (r ChainRecords) Totals() (totalFee, totalStake *uint256.Int, err error) {
	totalFee, totalStake = fixedpoint.Zero(), fixedpoint.Zero()
	for _, record := range r {
		if totalFee, err = fixedpoint.Add(totalFee, record.FeeAmount); err != nil {
			return nil, nil, err
		}
		if totalStake, err = fixedpoint.Add(totalStake, record.StakedAmount); err != nil {
			return nil, nil, err
		}
	}
	return totalFee, totalStake, nil
}

func (r ChainRecords) IndexOf(chainID uint64) int {
	for i, record := range r {
		if record.ChainID == chainID {
			return i
		}
	}
	return -1
}

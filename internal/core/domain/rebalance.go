package domain

import (
	"math/big"

	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/holiman/uint256"
)

// Rebalance is the outcome of the allocation of the total fees across chains
// proportionally to their stake.
type Rebalance struct {
	TotalFee   *uint256.Int
	TotalStake *uint256.Int
	// Targets[i] is the share of chain i.
	Targets []*uint256.Int
	// Differences[i] is FeeAmount - Target, positive for surplus chains.
	Differences []*big.Int
	// Bridging[from][to] is the amount chain from must send to chain to.
	Bridging [][]*uint256.Int
}

// ComputeRebalance computes targets and the transfer matrix with a single
// left-to-right pass matching surplus chains against deficit chains in index
// order. A surplus chain never sends more than its surplus.
func ComputeRebalance(records ChainRecords) (*Rebalance, error) {
	totalFee, totalStake, err := records.Totals()
	if err != nil {
		return nil, err
	}

	n := len(records)
	targets := make([]*uint256.Int, n)
	differences := make([]*big.Int, n)
	remaining := make([]*big.Int, n)
	bridging := make([][]*uint256.Int, n)
	for i, record := range records {
		target, err := fixedpoint.MulDiv(totalFee, record.StakedAmount, totalStake)
		if err != nil {
			return nil, err
		}
		targets[i] = target
		differences[i] = fixedpoint.Delta(record.FeeAmount, target)
		remaining[i] = new(big.Int).Set(differences[i])

		bridging[i] = make([]*uint256.Int, n)
		for j := range bridging[i] {
			bridging[i][j] = fixedpoint.Zero()
		}
	}

	deficitIndex := 0
	for surplusIndex := 0; surplusIndex < n; surplusIndex++ {
		for remaining[surplusIndex].Sign() > 0 {
			for deficitIndex < n && remaining[deficitIndex].Sign() >= 0 {
				deficitIndex++
			}
			if deficitIndex == n {
				break
			}

			needed := new(big.Int).Neg(remaining[deficitIndex])
			if needed.Cmp(remaining[surplusIndex]) > 0 {
				amount, err := fixedpoint.ToUnsigned(remaining[surplusIndex])
				if err != nil {
					return nil, err
				}
				bridging[surplusIndex][deficitIndex].Add(
					bridging[surplusIndex][deficitIndex], amount,
				)
				remaining[deficitIndex].Add(remaining[deficitIndex], remaining[surplusIndex])
				remaining[surplusIndex].SetInt64(0)
				continue
			}

			amount, err := fixedpoint.ToUnsigned(needed)
			if err != nil {
				return nil, err
			}
			bridging[surplusIndex][deficitIndex].Add(
				bridging[surplusIndex][deficitIndex], amount,
			)
			remaining[surplusIndex].Sub(remaining[surplusIndex], needed)
			remaining[deficitIndex].SetInt64(0)
			deficitIndex++
		}
	}

	return &Rebalance{
		TotalFee:    totalFee,
		TotalStake:  totalStake,
		Targets:     targets,
		Differences: differences,
		Bridging:    bridging,
	}, nil
}

// SentBy returns the total amount chain index i sends out.
func (r *Rebalance) SentBy(i int) *uint256.Int {
	total := fixedpoint.Zero()
	for _, amount := range r.Bridging[i] {
		total.Add(total, amount)
	}
	return total
}

// ReceivedBy returns the total amount chain index i receives.
func (r *Rebalance) ReceivedBy(i int) *uint256.Int {
	total := fixedpoint.Zero()
	for from := range r.Bridging {
		total.Add(total, r.Bridging[from][i])
	}
	return total
}

// Surplus returns the positive difference of chain index i, zero otherwise.
func (r *Rebalance) Surplus(i int) *uint256.Int {
	if r.Differences[i].Sign() <= 0 {
		return fixedpoint.Zero()
	}
	surplus, _ := fixedpoint.ToUnsigned(r.Differences[i])
	return surplus
}

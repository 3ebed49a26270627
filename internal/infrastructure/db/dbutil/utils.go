package dbutil

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Validates time range values. A zero value means unbounded and is allowed.
func ValidateTimeRange(after, before int64) error {
	if after < 0 || before < 0 {
		return fmt.Errorf("after and before must be greater than or equal to 0")
	}
	if before > 0 && after > 0 && before <= after {
		return fmt.Errorf("before must be greater than after")
	}
	return nil
}

// InTimeRange reports whether ts falls in the inclusive range, zero bounds
// being ignored.
func InTimeRange(ts, after, before int64) bool {
	if after > 0 && ts < after {
		return false
	}
	if before > 0 && ts > before {
		return false
	}
	return true
}

// SortReports orders the reports by distribution time, most recent first.
func SortReports(reports []domain.DistributionReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].DistributedAt > reports[j].DistributedAt
	})
}

type chainRecord struct {
	ChainID      uint64 `json:"chainId"`
	FeeAmount    string `json:"feeAmount"`
	StakedAmount string `json:"stakedAmount"`
}

type bridgeTransfer struct {
	FromChainID uint64 `json:"fromChainId"`
	ToChainID   uint64 `json:"toChainId"`
	Amount      string `json:"amount"`
}

type keeperCost struct {
	Keeper       string `json:"keeper"`
	Amount       string `json:"amount"`
	TreasuryOnly bool   `json:"treasuryOnly"`
}

type costBuckets struct {
	Total               string       `json:"total"`
	KeeperCosts         []keeperCost `json:"keeperCosts"`
	KeeperCostsTreasury string       `json:"keeperCostsTreasury"`
	KeeperCostsGlp      string       `json:"keeperCostsGlp"`
	ForExternalService  string       `json:"forExternalService"`
	ForTreasury         string       `json:"forTreasury"`
	ForReferralRewards  string       `json:"forReferralRewards"`
	Residual            string       `json:"residual"`
	TreasuryShortfall   string       `json:"treasuryShortfall"`
}

type referral struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type report struct {
	CycleID             string           `json:"cycleId"`
	InitiatedAt         int64            `json:"initiatedAt"`
	ReadResponseAt      int64            `json:"readResponseAt"`
	DistributedAt       int64            `json:"distributedAt"`
	Chains              []chainRecord    `json:"chains"`
	Transfers           []bridgeTransfer `json:"transfers"`
	RequiredFeeAmount   string           `json:"requiredFeeAmount"`
	FeeTokenDistributed string           `json:"feeTokenDistributed"`
	Buckets             costBuckets      `json:"buckets"`
	Referrals           []referral       `json:"referrals"`
}

// EncodeReport serializes a report with amounts as decimal strings. Nil
// amounts are encoded as empty strings.
func EncodeReport(r domain.DistributionReport) ([]byte, error) {
	rec := report{
		CycleID:             r.CycleID,
		InitiatedAt:         r.InitiatedAt,
		ReadResponseAt:      r.ReadResponseAt,
		DistributedAt:       r.DistributedAt,
		Chains:              make([]chainRecord, 0, len(r.Chains)),
		Transfers:           make([]bridgeTransfer, 0, len(r.Transfers)),
		RequiredFeeAmount:   dec(r.RequiredFeeAmount),
		FeeTokenDistributed: dec(r.FeeTokenDistributed),
		Buckets: costBuckets{
			Total:               dec(r.Buckets.Total),
			KeeperCosts:         make([]keeperCost, 0, len(r.Buckets.KeeperCosts)),
			KeeperCostsTreasury: dec(r.Buckets.KeeperCostsTreasury),
			KeeperCostsGlp:      dec(r.Buckets.KeeperCostsGlp),
			ForExternalService:  dec(r.Buckets.ForExternalService),
			ForTreasury:         dec(r.Buckets.ForTreasury),
			ForReferralRewards:  dec(r.Buckets.ForReferralRewards),
			Residual:            dec(r.Buckets.Residual),
			TreasuryShortfall:   dec(r.Buckets.TreasuryShortfall),
		},
		Referrals: make([]referral, 0, len(r.Referrals)),
	}
	for _, c := range r.Chains {
		rec.Chains = append(rec.Chains, chainRecord{
			ChainID:      c.ChainID,
			FeeAmount:    dec(c.FeeAmount),
			StakedAmount: dec(c.StakedAmount),
		})
	}
	for _, t := range r.Transfers {
		rec.Transfers = append(rec.Transfers, bridgeTransfer{
			FromChainID: t.FromChainID,
			ToChainID:   t.ToChainID,
			Amount:      dec(t.Amount),
		})
	}
	for _, k := range r.Buckets.KeeperCosts {
		rec.Buckets.KeeperCosts = append(rec.Buckets.KeeperCosts, keeperCost{
			Keeper:       k.Keeper.Hex(),
			Amount:       dec(k.Amount),
			TreasuryOnly: k.TreasuryOnly,
		})
	}
	for _, a := range r.Referrals {
		rec.Referrals = append(rec.Referrals, referral{
			Token:  a.Token.Hex(),
			Amount: dec(a.Amount),
		})
	}
	return json.Marshal(rec)
}

func DecodeReport(buf []byte) (*domain.DistributionReport, error) {
	var rec report
	if err := json.Unmarshal(buf, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	p := parser{}
	r := &domain.DistributionReport{
		CycleID:             rec.CycleID,
		InitiatedAt:         rec.InitiatedAt,
		ReadResponseAt:      rec.ReadResponseAt,
		DistributedAt:       rec.DistributedAt,
		Chains:              make(domain.ChainRecords, 0, len(rec.Chains)),
		Transfers:           make([]domain.BridgeTransfer, 0, len(rec.Transfers)),
		RequiredFeeAmount:   p.amount(rec.RequiredFeeAmount),
		FeeTokenDistributed: p.amount(rec.FeeTokenDistributed),
		Buckets: domain.CostBuckets{
			Total:               p.amount(rec.Buckets.Total),
			KeeperCosts:         make([]domain.KeeperCost, 0, len(rec.Buckets.KeeperCosts)),
			KeeperCostsTreasury: p.amount(rec.Buckets.KeeperCostsTreasury),
			KeeperCostsGlp:      p.amount(rec.Buckets.KeeperCostsGlp),
			ForExternalService:  p.amount(rec.Buckets.ForExternalService),
			ForTreasury:         p.amount(rec.Buckets.ForTreasury),
			ForReferralRewards:  p.amount(rec.Buckets.ForReferralRewards),
			Residual:            p.amount(rec.Buckets.Residual),
			TreasuryShortfall:   p.amount(rec.Buckets.TreasuryShortfall),
		},
		Referrals: make([]domain.ReferralAuthorization, 0, len(rec.Referrals)),
	}
	for _, c := range rec.Chains {
		r.Chains = append(r.Chains, domain.ChainRecord{
			ChainID:      c.ChainID,
			FeeAmount:    p.amount(c.FeeAmount),
			StakedAmount: p.amount(c.StakedAmount),
		})
	}
	for _, t := range rec.Transfers {
		r.Transfers = append(r.Transfers, domain.BridgeTransfer{
			FromChainID: t.FromChainID,
			ToChainID:   t.ToChainID,
			Amount:      p.amount(t.Amount),
		})
	}
	for _, k := range rec.Buckets.KeeperCosts {
		r.Buckets.KeeperCosts = append(r.Buckets.KeeperCosts, domain.KeeperCost{
			Keeper:       p.address(k.Keeper),
			Amount:       p.amount(k.Amount),
			TreasuryOnly: k.TreasuryOnly,
		})
	}
	for _, a := range rec.Referrals {
		r.Referrals = append(r.Referrals, domain.ReferralAuthorization{
			Token:  p.address(a.Token),
			Amount: p.amount(a.Amount),
		})
	}
	if p.err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", rec.CycleID, p.err)
	}
	return r, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// parser keeps the first error met so that decoding reads linearly.
type parser struct {
	err error
}

func (p *parser) amount(s string) *uint256.Int {
	if s == "" || p.err != nil {
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		p.err = fmt.Errorf("invalid amount %q: %w", s, err)
		return nil
	}
	return v
}

func (p *parser) address(s string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.err = fmt.Errorf("invalid address %q", s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

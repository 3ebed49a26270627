package domain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type BridgeTransfer struct {
	FromChainID uint64
	ToChainID   uint64
	Amount      *uint256.Int
}

type ReferralAuthorization struct {
	Token  common.Address
	Amount *uint256.Int
}

// DistributionReport is the summary of a completed cycle.
type DistributionReport struct {
	CycleID             string
	InitiatedAt         int64
	ReadResponseAt      int64
	DistributedAt       int64
	Chains              ChainRecords
	Transfers           []BridgeTransfer
	RequiredFeeAmount   *uint256.Int
	FeeTokenDistributed *uint256.Int
	Buckets             CostBuckets
	Referrals           []ReferralAuthorization
}

var ErrReportNotFound = errors.New("report not found")

type ReportRepository interface {
	Add(ctx context.Context, report DistributionReport) error
	// Get returns ErrReportNotFound if there is no report for the cycle.
	Get(ctx context.Context, cycleID string) (*DistributionReport, error)
	// List returns the reports distributed in the given time range, most
	// recent first. Zero bounds are ignored.
	List(ctx context.Context, after, before int64) ([]DistributionReport, error)
	Close()
}

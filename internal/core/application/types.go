package application

import (
	"context"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Service drives the distribution cycle. Every error returned is an
// errors.Error carrying its code.
type Service interface {
	Start() error
	Stop()
	InitiateDistribute(ctx context.Context) (*InitiateResult, error)
	OnAggregationResponse(
		ctx context.Context, requestID common.Hash, timestamp int64, payload []byte,
	) error
	ConfirmBridgingCompleted(ctx context.Context) (domain.DistributionState, error)
	Distribute(ctx context.Context, req DistributeRequest) (*domain.DistributionReport, error)
	SendReferralRewards(ctx context.Context, req ReferralRewardsRequest) error
	GetStatus(ctx context.Context) (*DistributionStatus, error)
	GetEventsChannel(ctx context.Context) <-chan []domain.Event
}

type InitiateResult struct {
	CycleID   string
	RequestID common.Hash
	// State is Initiated, unless there is no remote chain to read and the
	// cycle moved on straight away.
	State domain.DistributionState
}

type DistributeRequest struct {
	WntReferralRewardsUsd     *uint256.Int
	EsTokenForReferralRewards *uint256.Int
	FeesV1Usd                 *uint256.Int
	FeesV2Usd                 *uint256.Int
}

type ReferralRewardsRequest struct {
	Token        common.Address
	MaxBatchSize int
	Accounts     []common.Address
	Amounts      []*uint256.Int
}

type ReferralRewardsStatus struct {
	Token      common.Address
	Authorized *uint256.Int
	Sent       *uint256.Int
}

type DistributionStatus struct {
	State                 domain.DistributionState
	CycleID               string
	InitiatedAt           int64
	PendingRequestID      common.Hash
	ReadResponseTimestamp int64
	LastDistributionTime  int64
	OriginalFeeAmount     *uint256.Int
	RequiredFeeAmount     *uint256.Int
	BridgedOutAmount      *uint256.Int
	// PayoutStep counts the completed steps of an interrupted payout.
	PayoutStep            uint64
	Chains                domain.ChainRecords
	ReferralRewards       []ReferralRewardsStatus
	LedgerVersion         uint64
}

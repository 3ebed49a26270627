package ports

import "context"

const (
	DistributionCompleted Topic = "Distribution Completed"
	DistributionFailed    Topic = "Distribution Failed"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}

type DistributionCompletedAlert struct {
	CycleID             string
	DistributedAt       string
	Duration            string
	ChainCount          int
	BridgeTransfers     int
	FeeTokenDistributed string
	TotalRewardAmount   string
	ForTreasury         string
	ForExternalService  string
	ForReferralRewards  string
	Residual            string
	TreasuryShortfall   string
}

type DistributionFailedAlert struct {
	Operation string
	State     string
	Code      string
	Error     string
}

package application

import (
	"context"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

func (s *service) sendDistributionAlert(report domain.DistributionReport) {
	s.publishAlert(ports.DistributionCompleted, getDistributionStats(report))
}

func (s *service) publishAlert(topic ports.Topic, message any) {
	if s.alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.alerts.Publish(ctx, topic, message); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}

func getDistributionStats(report domain.DistributionReport) (a ports.DistributionCompletedAlert) {
	distributedAt := "N/A"
	duration := "N/A"
	if report.DistributedAt > 0 {
		distributedAt = time.Unix(report.DistributedAt, 0).UTC().Format(time.RFC3339)
	}
	if report.InitiatedAt > 0 && report.DistributedAt >= report.InitiatedAt {
		duration = time.Unix(report.DistributedAt, 0).Sub(
			time.Unix(report.InitiatedAt, 0),
		).String()
	}

	a.CycleID = report.CycleID
	a.DistributedAt = distributedAt
	a.Duration = duration
	a.ChainCount = len(report.Chains)
	a.BridgeTransfers = len(report.Transfers)
	a.FeeTokenDistributed = decOrNA(report.FeeTokenDistributed)
	a.TotalRewardAmount = decOrNA(report.Buckets.Total)
	a.ForTreasury = decOrNA(report.Buckets.ForTreasury)
	a.ForExternalService = decOrNA(report.Buckets.ForExternalService)
	a.ForReferralRewards = decOrNA(report.Buckets.ForReferralRewards)
	a.Residual = decOrNA(report.Buckets.Residual)
	a.TreasuryShortfall = decOrNA(report.Buckets.TreasuryShortfall)
	return
}

func decOrNA(v *uint256.Int) string {
	if v == nil {
		return "N/A"
	}
	return v.Dec()
}

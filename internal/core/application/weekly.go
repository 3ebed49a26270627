package application

import (
	"time"

	"github.com/arkade-os/fee-distributor/pkg/errors"
)

const secondsPerDay = int64(24 * time.Hour / time.Second)

// startOfWeek returns the unix time of the midnight (UTC) that opened the
// current distribution week. 1970-01-01 was a Thursday, hence the +4 to get
// 0 for Sunday.
func startOfWeek(now int64, distributionDay uint8) int64 {
	dayOfWeek := ((now / secondsPerDay) + 4) % 7
	daysSinceStart := (dayOfWeek + 7 - int64(distributionDay)) % 7
	midnight := now - now%secondsPerDay
	return midnight - daysSinceStart*secondsPerDay
}

// validateDistributionNotCompleted rejects a cycle when the last distribution
// happened at or after the start of the current week.
func validateDistributionNotCompleted(
	lastDistributionTime, now int64, distributionDay uint8,
) error {
	weekStart := startOfWeek(now, distributionDay)
	if lastDistributionTime > 0 && lastDistributionTime >= weekStart {
		return errors.FEE_DISTRIBUTION_ALREADY_COMPLETED.New(
			"fees already distributed at %s, week started at %s",
			time.Unix(lastDistributionTime, 0).UTC().Format(time.RFC3339),
			time.Unix(weekStart, 0).UTC().Format(time.RFC3339),
		).WithMetadata(errors.WeeklyMarkerMetadata{
			LastDistributionTime: lastDistributionTime,
			StartOfWeek:          weekStart,
		})
	}
	return nil
}

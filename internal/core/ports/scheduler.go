package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleWeekly runs task every week on the given day at the given UTC
	// time of day (hh:mm).
	ScheduleWeekly(day time.Weekday, at string, task func()) error
	ScheduleEvery(interval time.Duration, task func()) error
}

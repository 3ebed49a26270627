package timescheduler

import (
	"fmt"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
}

// NewScheduler returns a scheduler whose weekly tasks run on UTC time.
func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleWeekly(day time.Weekday, at string, task func()) error {
	if day < time.Sunday || day > time.Saturday {
		return fmt.Errorf("invalid week day %d", day)
	}
	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Errorf("invalid time of day %q, must be hh:mm", at)
	}

	_, err := s.scheduler.Every(1).Week().Weekday(day).At(at).SingletonMode().Do(task)
	return err
}

func (s *service) ScheduleEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	_, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(task)
	return err
}

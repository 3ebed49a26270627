package httpservice

import (
	"fmt"
	"time"
)

const defaultEventsHeartbeat = 30 * time.Second

type Config struct {
	Port uint32

	SchedulerToken string
	TransportToken string
	AdminToken     string

	// EventsHeartbeat is the interval of the keep-alive comments sent on idle
	// event streams.
	EventsHeartbeat time.Duration
}

func (c Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("missing port")
	}
	tokens := map[string]string{}
	for role, token := range map[string]string{
		"scheduler": c.SchedulerToken,
		"transport": c.TransportToken,
		"admin":     c.AdminToken,
	} {
		if token == "" {
			continue
		}
		if other, ok := tokens[token]; ok {
			return fmt.Errorf("%s and %s roles must have different tokens", other, role)
		}
		tokens[token] = role
	}
	if c.EventsHeartbeat < 0 {
		return fmt.Errorf("events heartbeat must not be negative")
	}
	return nil
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) heartbeat() time.Duration {
	if c.EventsHeartbeat <= 0 {
		return defaultEventsHeartbeat
	}
	return c.EventsHeartbeat
}

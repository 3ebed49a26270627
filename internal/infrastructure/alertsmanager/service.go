package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
)

const (
	serviceName = "feedistd"

	maxRetries = 5
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl    string
	httpClient *http.Client
}

func NewService(alertManagerURL string) ports.Alerts {
	return &service{
		baseUrl: alertManagerURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  "info",
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.DistributionCompleted:
		annotations["firing_title"] = "💸 Distribution Completed"
		m, ok := message.(ports.DistributionCompletedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatDistributionCompletedAlert(m)
		labels["cycle_id"] = m.CycleID
	case ports.DistributionFailed:
		annotations["firing_title"] = "🚨 Distribution Failed"
		m, ok := message.(ports.DistributionFailedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatDistributionFailedAlert(m)
		labels["severity"] = "warning"
		labels["operation"] = m.Operation
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alerts Alert) error {
	payload, err := json.Marshal([]Alert{alerts})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	baseDelay := 100 * time.Millisecond

	for attempt := range maxRetries {
		req, err := http.NewRequestWithContext(ctx, "POST", s.baseUrl, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			// Network error - retry with backoff
			if attempt < maxRetries-1 {
				// exponential: 100ms, 200ms, 400ms, 800ms, 1600ms
				delay := baseDelay * time.Duration(1<<uint(attempt))

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return fmt.Errorf("failed to send alert after %d attempts: %w", maxRetries, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			return nil
		}

		_ = resp.Body.Close()

		// Retry on 5xx (server errors), but not on 4xx (client errors)
		if resp.StatusCode >= 500 {
			if attempt < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<uint(attempt))

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		// 4xx error or final 5xx error
		return fmt.Errorf(
			"failed to send alert to AlertManager with status %d after %d attempts",
			resp.StatusCode, attempt+1,
		)
	}

	return fmt.Errorf("failed to send alert after %d attempts", maxRetries)
}

func formatDistributionCompletedAlert(data ports.DistributionCompletedAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*Cycle:* `%s`", data.CycleID))
	lines = append(lines, fmt.Sprintf("*Distributed at:* %s", data.DistributedAt))

	lines = append(lines, "\n*Rebalancing:*")
	lines = append(lines, fmt.Sprintf("• Chains: %d", data.ChainCount))
	lines = append(lines, fmt.Sprintf("• Bridge transfers: %d", data.BridgeTransfers))
	lines = append(lines, fmt.Sprintf("• Fee token distributed: %s", data.FeeTokenDistributed))

	lines = append(lines, "\n*Reward pool:*")
	lines = append(lines, fmt.Sprintf("• Total: %s", data.TotalRewardAmount))
	lines = append(lines, fmt.Sprintf("• Treasury: %s", data.ForTreasury))
	lines = append(lines, fmt.Sprintf("• External service: %s", data.ForExternalService))
	lines = append(lines, fmt.Sprintf("• Referral rewards: %s", data.ForReferralRewards))
	lines = append(lines, fmt.Sprintf("• Stakers: %s", data.Residual))
	if data.TreasuryShortfall != "" && data.TreasuryShortfall != "0" {
		lines = append(lines, fmt.Sprintf("• Treasury shortfall: %s", data.TreasuryShortfall))
	}

	lines = append(lines, fmt.Sprintf("\n*Duration:* %s", data.Duration))
	return strings.Join(lines, "\n")
}

func formatDistributionFailedAlert(data ports.DistributionFailedAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*Operation:* %s", data.Operation))
	lines = append(lines, fmt.Sprintf("*State:* %s", data.State))
	if data.Code != "" {
		lines = append(lines, fmt.Sprintf("*Code:* `%s`", data.Code))
	}
	lines = append(lines, fmt.Sprintf("*Error:* %s", data.Error))
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	lines := make([]string, 0)
	for key, value := range data {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, value))
	}
	return strings.Join(lines, "\n")
}

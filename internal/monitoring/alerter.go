package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/config"
	"github.com/sells-group/campaign-views/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureBacklog AlertType = "accounting_failure_backlog"
	AlertPayoutBacklog  AlertType = "payout_backlog"
	AlertLimiterOpen    AlertType = "rate_limiter_circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = 500 * time.Millisecond
	retry.MaxBackoff = 5 * time.Second
	retry.OnRetry = resilience.LogRetries(zap.L().With(zap.String("component", "monitoring.alerter")), "send alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Views whose accounting failed and still wait for replay.
	if a.cfg.FailureBacklogThreshold > 0 && snap.FailureBacklog >= a.cfg.FailureBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d accounting failure(s) awaiting replay, threshold %d",
				snap.FailureBacklog, a.cfg.FailureBacklogThreshold,
			),
			Details: map[string]any{
				"failure_backlog": snap.FailureBacklog,
				"threshold":       a.cfg.FailureBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingPayoutThreshold > 0 && snap.EligiblePayouts >= a.cfg.PendingPayoutThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPayoutBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d payout(s) totalling %d cents are eligible but not executed",
				snap.EligiblePayouts, snap.PendingPayoutCents,
			),
			Details: map[string]any{
				"eligible_payouts":     snap.EligiblePayouts,
				"pending_payout_cents": snap.PendingPayoutCents,
				"threshold":            a.cfg.PendingPayoutThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.LimiterCircuit == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:      AlertLimiterOpen,
			Severity:  "medium",
			Message:   "Distributed rate limiter unavailable, limits are enforced per process",
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx
// responses are returned as transient errors.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

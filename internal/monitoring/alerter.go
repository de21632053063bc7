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

	"github.com/licenceworks/hmo-audit/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSessionFailureRate AlertType = "session_failure_rate"
	AlertReviewBacklog      AlertType = "review_backlog"
	AlertFallbackRate       AlertType = "fallback_rate"
)

// fallbackRateThreshold is the fraction of sessions using fallback
// extraction above which document quality is considered degraded.
const fallbackRateThreshold = 0.5

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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// The failure-rate check needs a minimum of 5 finished sessions so a single
// bad document does not page anyone.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.SessionsCompleted + snap.SessionsFailed
	if finished >= 5 && a.cfg.MaxFailureRate > 0 && snap.SessionFailRate > a.cfg.MaxFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertSessionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Session failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.SessionFailRate*100, a.cfg.MaxFailureRate*100,
				snap.SessionsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SessionFailRate,
				"threshold":    a.cfg.MaxFailureRate,
				"failed":       snap.SessionsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxReviewBacklog > 0 && snap.ReviewPending > a.cfg.MaxReviewBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Review backlog of %d pending records exceeds threshold %d",
				snap.ReviewPending, a.cfg.MaxReviewBacklog,
			),
			Details: map[string]any{
				"pending":     snap.ReviewPending,
				"in_progress": snap.ReviewInProgress,
				"threshold":   a.cfg.MaxReviewBacklog,
			},
			Timestamp: now,
		})
	}

	if snap.SessionsTotal > 0 && snap.FallbackRate > fallbackRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFallbackRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Fallback extraction used in %.0f%% of sessions in last %dh; source document quality may be degrading",
				snap.FallbackRate*100, snap.LookbackHours,
			),
			Details: map[string]any{
				"fallback_rate": snap.FallbackRate,
				"sessions":      snap.SessionsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts sends each alert and returns how many went out successfully.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	sent := 0
	for _, alert := range alerts {
		if err := a.Send(ctx, alert); err != nil {
			zap.L().Error("monitoring: send alert failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Send posts the alert to the configured webhook. Without a webhook URL the
// alert is logged only.
func (a *Alerter) Send(ctx context.Context, alert Alert) error {
	zap.L().Warn("monitoring alert",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message),
	)

	if a.cfg.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: send webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

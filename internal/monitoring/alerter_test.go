package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licenceworks/hmo-audit/internal/config"
)

func monitoringCfg(webhook string) config.MonitoringConfig {
	return config.MonitoringConfig{
		WebhookURL:          webhook,
		LookbackWindowHours: 24,
		MaxFailureRate:      0.25,
		MaxReviewBacklog:    50,
	}
}

func TestEvaluate_FailureRate(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))

	snap := &MetricsSnapshot{
		SessionsTotal:     10,
		SessionsCompleted: 6,
		SessionsFailed:    4,
		SessionFailRate:   0.4,
		LookbackHours:     24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSessionFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestEvaluate_FailureRateNeedsMinimumSessions(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))

	// 1 failure out of 2 finished is above the rate but below the floor.
	snap := &MetricsSnapshot{
		SessionsTotal:     2,
		SessionsCompleted: 1,
		SessionsFailed:    1,
		SessionFailRate:   0.5,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))

	snap := &MetricsSnapshot{ReviewPending: 51, ReviewInProgress: 3}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, 51, alerts[0].Details["pending"])
}

func TestEvaluate_FallbackRate(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))

	snap := &MetricsSnapshot{SessionsTotal: 4, FallbackRate: 0.75, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFallbackRate, alerts[0].Type)
}

func TestEvaluate_Quiet(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))

	snap := &MetricsSnapshot{
		SessionsTotal:     10,
		SessionsCompleted: 10,
		ReviewPending:     3,
		FallbackRate:      0.1,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestSend_PostsWebhook(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(monitoringCfg(srv.URL))
	err := a.Send(context.Background(), Alert{Type: AlertReviewBacklog, Severity: "medium", Message: "backlog"})
	require.NoError(t, err)
	assert.Equal(t, AlertReviewBacklog, got.Type)
}

func TestSend_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(monitoringCfg(""))
	assert.NoError(t, a.Send(context.Background(), Alert{Type: AlertReviewBacklog}))
}

func TestSend_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(monitoringCfg(srv.URL))
	err := a.Send(context.Background(), Alert{Type: AlertReviewBacklog})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSendAlerts_CountsSuccesses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(monitoringCfg(srv.URL))
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSessionFailureRate},
		{Type: AlertReviewBacklog},
	})
	assert.Equal(t, 1, sent)
}

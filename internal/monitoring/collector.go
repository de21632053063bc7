// Package monitoring watches pipeline and review health: a collector builds
// point-in-time snapshots, an alerter compares them against thresholds, and
// a checker runs the loop in the background of the serve mode.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/licenceworks/hmo-audit/internal/audit"
	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Session metrics (within lookback window).
	SessionsTotal      int     `json:"sessions_total"`
	SessionsCompleted  int     `json:"sessions_completed"`
	SessionsFailed     int     `json:"sessions_failed"`
	SessionsInFlight   int     `json:"sessions_in_flight"`
	SessionFailRate    float64 `json:"session_fail_rate"`
	FallbackRate       float64 `json:"fallback_rate"`
	RecordsExtracted   int     `json:"records_extracted"`

	// Review queue depth and progress.
	ReviewPending        int     `json:"review_pending"`
	ReviewInProgress     int     `json:"review_in_progress"`
	ReviewCompletionRate float64 `json:"review_completion_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ReviewReporter abstracts the audit manager method the collector needs.
type ReviewReporter interface {
	GenerateAuditReport() *audit.Report
}

// Collector gathers metrics from the store and the review queue.
type Collector struct {
	store   store.Store
	reviews ReviewReporter
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store, reviews ReviewReporter) *Collector {
	return &Collector{store: st, reviews: reviews}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	sessions, err := c.store.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)
	fallbacks := 0
	for i := range sessions {
		s := &sessions[i]
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.SessionsTotal++
		switch s.Status {
		case model.SessionCompleted:
			snap.SessionsCompleted++
			snap.RecordsExtracted += len(s.Records)
		case model.SessionError:
			snap.SessionsFailed++
		default:
			snap.SessionsInFlight++
		}
		if s.FallbackUsed {
			fallbacks++
		}
	}
	if snap.SessionsTotal > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(snap.SessionsTotal)
		snap.FallbackRate = float64(fallbacks) / float64(snap.SessionsTotal)
	}

	if c.reviews != nil {
		report := c.reviews.GenerateAuditReport()
		snap.ReviewPending = report.StatusCounts[model.ReviewPending]
		snap.ReviewInProgress = report.StatusCounts[model.ReviewInReview]
		snap.ReviewCompletionRate = report.CompletionRate
	}

	return snap, nil
}

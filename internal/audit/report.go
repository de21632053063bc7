package audit

import (
	"sort"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// ReasonCount pairs a flag reason with how often it occurred.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// FieldCount pairs a field key with how often it was corrected.
type FieldCount struct {
	FieldKey string `json:"field_key"`
	Count    int    `json:"count"`
}

// Report aggregates the whole flagged-record set.
type Report struct {
	Total               int                        `json:"total"`
	StatusCounts        map[model.ReviewStatus]int `json:"status_counts"`
	ReviewerThroughput  map[string]int             `json:"reviewer_throughput"`
	TopFlagReasons      []ReasonCount              `json:"top_flag_reasons,omitempty"`
	MostCorrectedFields []FieldCount               `json:"most_corrected_fields,omitempty"`
	CompletionRate      float64                    `json:"completion_rate"`
}

// SessionSummary is the per-session view of the same aggregates.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Report
}

// GenerateAuditReport aggregates over every flagged record the manager
// knows about.
func (m *Manager) GenerateAuditReport() *Report {
	return m.buildReport("")
}

// GetSessionAuditSummary aggregates over one session's flagged records.
func (m *Manager) GetSessionAuditSummary(sessionID string) *SessionSummary {
	return &SessionSummary{
		SessionID: sessionID,
		Report:    *m.buildReport(sessionID),
	}
}

func (m *Manager) buildReport(sessionID string) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &Report{
		StatusCounts:       make(map[model.ReviewStatus]int),
		ReviewerThroughput: make(map[string]int),
	}

	reasonCounts := make(map[string]int)
	fieldCounts := make(map[string]int)
	completed := 0

	for _, fr := range m.records {
		if sessionID != "" && fr.SessionID != sessionID {
			continue
		}
		report.Total++
		report.StatusCounts[fr.ReviewStatus]++
		if fr.FlagReason != "" {
			reasonCounts[fr.FlagReason]++
		}
		if fr.ReviewStatus.Terminal() {
			completed++
			if fr.AssignedReviewer != "" {
				report.ReviewerThroughput[fr.AssignedReviewer]++
			}
		}
		for _, entry := range fr.AuditTrail {
			if entry.Action != model.ActionCorrected {
				continue
			}
			for key, after := range entry.After {
				if entry.Before[key] != after {
					fieldCounts[key]++
				}
			}
		}
	}

	report.TopFlagReasons = sortedReasons(reasonCounts)
	report.MostCorrectedFields = sortedFields(fieldCounts)
	if report.Total > 0 {
		report.CompletionRate = float64(completed) / float64(report.Total)
	}
	return report
}

func sortedReasons(counts map[string]int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func sortedFields(counts map[string]int) []FieldCount {
	out := make([]FieldCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, FieldCount{FieldKey: key, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FieldKey < out[j].FieldKey
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

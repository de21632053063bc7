package quality

import (
	"fmt"
	"strings"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// FlagDecision says whether one record needs human review and why. Reasons
// are human-readable and surfaced verbatim in the audit workflow.
type FlagDecision struct {
	Index   int      `json:"index"`
	Flag    bool     `json:"flag"`
	Reasons []string `json:"reasons,omitempty"`
}

// Reason joins the individual reasons for display.
func (d FlagDecision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// FlagLowConfidenceRecords decides, per record, whether it must be routed to
// review. A record is flagged if ANY of: overall confidence below the flag
// threshold, the validation result is invalid, any critical field scores
// below the critical threshold, or any critical field is empty. Panics on
// length mismatch.
func (a *Assessor) FlagLowConfidenceRecords(records []*model.Record, results []model.ValidationResult) []FlagDecision {
	if len(records) != len(results) {
		panic(fmt.Sprintf("quality: records/results length mismatch: %d vs %d", len(records), len(results)))
	}

	decisions := make([]FlagDecision, len(records))
	for i, r := range records {
		d := FlagDecision{Index: i}

		if results[i].ConfidenceScore < a.cfg.FlagThreshold {
			d.Reasons = append(d.Reasons, fmt.Sprintf(
				"overall confidence %.2f below threshold %.2f",
				results[i].ConfidenceScore, a.cfg.FlagThreshold,
			))
		}
		if !results[i].IsValid {
			d.Reasons = append(d.Reasons, "record failed validation")
		}
		for _, key := range model.CriticalFields() {
			if strings.TrimSpace(r.Get(key)) == "" {
				d.Reasons = append(d.Reasons, fmt.Sprintf("critical field %s is empty", key))
				continue
			}
			if r.Confidence[key] < a.cfg.CriticalThreshold {
				d.Reasons = append(d.Reasons, fmt.Sprintf(
					"critical field %s confidence %.2f below %.2f",
					key, r.Confidence[key], a.cfg.CriticalThreshold,
				))
			}
		}

		d.Flag = len(d.Reasons) > 0
		decisions[i] = d
	}
	return decisions
}

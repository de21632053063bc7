// Package export renders structured licence records to CSV and XLSX for
// downstream consumers.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// recordHeader is the fixed column order for record exports: every declared
// field key, then the computed columns. The header is emitted even for an
// empty batch so downstream parsers always see the schema.
func recordHeader() []string {
	return append(model.FieldKeys(), "overall_confidence", "validation_errors")
}

// Records writes the batch as CSV.
func Records(w io.Writer, records []*model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader()); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(recordRow(r)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// Audited writes reviewed records as CSV with their audit metadata appended
// to each row.
func Audited(w io.Writer, records []model.AuditedRecord) error {
	header := append(recordHeader(),
		"record_id", "flag_reason", "review_status", "reviewer", "correction_count")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, ar := range records {
		row := append(recordRow(ar.Record),
			ar.Meta.RecordID,
			ar.Meta.FlagReason,
			string(ar.Meta.ReviewStatus),
			ar.Meta.Reviewer,
			fmt.Sprintf("%d", ar.Meta.CorrectionCount),
		)
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// Errors writes the session's processing failures as CSV. This is the
// fallback artifact when a run ends in the error state: operators get a
// machine-readable account of what broke instead of an empty output file.
func Errors(w io.Writer, s *model.ProcessingSession) error {
	cw := csv.NewWriter(w)
	header := []string{"session_id", "document", "stage", "category", "severity", "message", "recovery_suggestions", "timestamp"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, pe := range s.Errors {
		row := []string{
			s.ID,
			s.DocumentName,
			string(pe.Stage),
			string(pe.Category),
			string(pe.Severity),
			pe.Message,
			strings.Join(pe.Suggestions, "; "),
			pe.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func recordRow(r *model.Record) []string {
	keys := model.FieldKeys()
	row := make([]string, 0, len(keys)+2)
	for _, key := range keys {
		row = append(row, r.Get(key))
	}
	row = append(row,
		fmt.Sprintf("%.3f", overallConfidence(r)),
		strings.Join(r.ValidationErrors, "; "),
	)
	return row
}

func overallConfidence(r *model.Record) float64 {
	var sum, total float64
	for _, key := range model.FieldKeys() {
		w := model.FieldWeight(key)
		total += w
		sum += w * r.Confidence[key]
	}
	if total == 0 {
		return 0.0
	}
	return sum / total
}

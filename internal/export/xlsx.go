package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// RecordsXLSX writes the batch as a workbook: a Records sheet with the same
// columns as the CSV export, plus a Quality sheet when a report is supplied.
func RecordsXLSX(w io.Writer, records []*model.Record, report *model.ExtractionQualityReport) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Records")
	if err != nil {
		return eris.Wrap(err, "export: add records sheet")
	}
	headerRow := sheet.AddRow()
	for _, h := range recordHeader() {
		headerRow.AddCell().SetString(h)
	}
	for _, r := range records {
		row := sheet.AddRow()
		for _, key := range model.FieldKeys() {
			row.AddCell().SetString(r.Get(key))
		}
		row.AddCell().SetFloat(overallConfidence(r))
		row.AddCell().SetString(strings.Join(r.ValidationErrors, "; "))
	}

	if report != nil {
		if err := addQualitySheet(f, report); err != nil {
			return err
		}
	}

	return eris.Wrap(f.Write(w), "export: write workbook")
}

func addQualitySheet(f *xlsx.File, report *model.ExtractionQualityReport) error {
	sheet, err := f.AddSheet("Quality")
	if err != nil {
		return eris.Wrap(err, "export: add quality sheet")
	}

	summary := [][2]string{
		{"Overall level", string(report.OverallLevel)},
	}
	for _, kv := range summary {
		row := sheet.AddRow()
		row.AddCell().SetString(kv[0])
		row.AddCell().SetString(kv[1])
	}
	row := sheet.AddRow()
	row.AddCell().SetString("Records")
	row.AddCell().SetInt(report.RecordCount)
	row = sheet.AddRow()
	row.AddCell().SetString("Valid records")
	row.AddCell().SetInt(report.ValidCount)
	row = sheet.AddRow()
	row.AddCell().SetString("Mean confidence")
	row.AddCell().SetFloat(report.MeanConfidence)
	row = sheet.AddRow()
	row.AddCell().SetString("Validation rate")
	row.AddCell().SetFloat(report.ValidationRate)

	sheet.AddRow()
	header := sheet.AddRow()
	for _, h := range []string{"field", "population_rate", "mean_confidence", "min", "max", "errors", "level"} {
		header.AddCell().SetString(h)
	}
	for _, key := range model.FieldKeys() {
		m, ok := report.FieldMetrics[key]
		if !ok {
			continue
		}
		row := sheet.AddRow()
		row.AddCell().SetString(m.FieldKey)
		row.AddCell().SetFloat(m.PopulationRate)
		row.AddCell().SetFloat(m.MeanConfidence)
		row.AddCell().SetFloat(m.MinConfidence)
		row.AddCell().SetFloat(m.MaxConfidence)
		row.AddCell().SetInt(m.ErrorCount)
		row.AddCell().SetString(string(m.Level))
	}

	if len(report.Recommendations) > 0 {
		sheet.AddRow()
		for _, rec := range report.Recommendations {
			row := sheet.AddRow()
			row.AddCell().SetString("Recommendation")
			row.AddCell().SetString(rec)
		}
	}
	return nil
}

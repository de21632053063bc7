package pipeline

import (
	"context"
	"encoding/csv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/pkg/nlp"
)

// tabularConfidence is assigned to cells read from row-structured documents.
// A mapped header column is nearly as reliable as an explicit label.
const tabularConfidence = 0.9

// stageStructure converts recognized entities (or tabular rows) into
// structured records. Every record keeps a parallel map of the recognizer
// confidences so later stages can blend them with validator scores. When
// nothing can be structured the run degrades to a single empty record with
// zero confidences, which validation and flagging route to review.
func (p *Pipeline) stageStructure(_ context.Context, r *run) error {
	if r.tabular() {
		if err := p.structureTabular(r); err != nil {
			p.degrade(r, model.StageDataStructuring, err)
		}
	} else {
		p.structureFreeText(r)
	}
	if len(r.records) == 0 {
		p.degrade(r, model.StageDataStructuring, eris.New("pipeline: no records could be structured from the document"))
		r.records = append(r.records, model.NewRecord())
		r.extraction = append(r.extraction, map[string]float64{})
	}
	return nil
}

func (p *Pipeline) structureFreeText(r *run) {
	for _, fields := range r.entities {
		if len(fields) == 0 {
			continue
		}
		rec := model.NewRecord()
		conf := make(map[string]float64, len(fields))
		for key, entity := range fields {
			rec.Set(key, entity.Value())
			conf[key] = entity.Confidence
		}
		r.records = append(r.records, rec)
		r.extraction = append(r.extraction, conf)
	}
}

// structureTabular maps a header row onto the record schema and reads one
// record per data row. Columns with unrecognized headers are ignored.
func (p *Pipeline) structureTabular(r *run) error {
	rows, err := tabularRows(r.doc.Format, r.doc.Text)
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return eris.New("pipeline: tabular document has no data rows")
	}

	columns := make(map[int]string)
	for i, header := range rows[0] {
		if key := nlp.MatchLabel(header); key != "" {
			columns[i] = key
		}
	}
	if len(columns) == 0 {
		return eris.New("pipeline: no recognizable column headers in tabular document")
	}
	zap.L().Debug("pipeline: tabular headers mapped",
		zap.Int("columns", len(rows[0])),
		zap.Int("mapped", len(columns)),
	)

	for _, row := range rows[1:] {
		rec := model.NewRecord()
		conf := make(map[string]float64)
		populated := 0
		for i, cell := range row {
			key, ok := columns[i]
			if !ok {
				continue
			}
			value := strings.TrimSpace(cell)
			if value == "" {
				continue
			}
			rec.Set(key, value)
			conf[key] = tabularConfidence
			populated++
		}
		if populated == 0 {
			continue
		}
		r.records = append(r.records, rec)
		r.extraction = append(r.extraction, conf)
	}
	return nil
}

// tabularRows parses the extracted text into cells. CSV text is parsed
// properly; XLSX extraction joins cells with tabs, so rows split on those.
func tabularRows(format, text string) ([][]string, error) {
	if format == "csv" {
		reader := csv.NewReader(strings.NewReader(text))
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: parse csv")
		}
		return rows, nil
	}

	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows, nil
}

// stageScore writes the recognizer confidences onto the records.
func (p *Pipeline) stageScore(_ context.Context, r *run) error {
	for i, rec := range r.records {
		for key, c := range r.extraction[i] {
			rec.SetConfidence(key, c)
		}
	}
	return nil
}

// stageValidate runs full validation over each record, then blends validator
// scores with the extraction confidences: a field is only as trustworthy as
// the weaker of how it was read and how it validates. When any fallback
// contributed to this session, every blended field confidence is scaled down
// by the penalty, exactly once, so flagging sees the penalized scores.
func (p *Pipeline) stageValidate(_ context.Context, r *run) error {
	for i, rec := range r.records {
		result := p.engine.Validate(rec)
		for key, extracted := range r.extraction[i] {
			if extracted < rec.Confidence[key] {
				rec.SetConfidence(key, extracted)
			}
		}
		if r.session.FallbackUsed {
			for key, c := range rec.Confidence {
				rec.SetConfidence(key, c*fallbackPenalty)
			}
		}
		result.ConfidenceScore = weightedConfidence(rec)
		r.results = append(r.results, result)
	}
	return nil
}

func weightedConfidence(r *model.Record) float64 {
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

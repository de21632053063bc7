package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/licenceworks/hmo-audit/internal/audit"
	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/quality"
	"github.com/licenceworks/hmo-audit/internal/resilience"
	"github.com/licenceworks/hmo-audit/internal/store"
	"github.com/licenceworks/hmo-audit/internal/validate"
	"github.com/licenceworks/hmo-audit/pkg/textract"
)

const labeledRegister = `Licence Number: HMO123
Council: Leeds City Council
Property Address: 12 High Street, Leeds, LS1 4AB
Start Date: 2024-01-01
Expiry Date: 2029-01-01
Maximum Occupancy: 6
Manager: Jane Smith
Licence Holder: Acme Lettings Ltd
Shared Bathrooms: 3
Storeys: 3

Licence Number: HMO456
Council: Leeds City Council
Property Address: 34 Park Road, Leeds, LS2 7EW
Start Date: 2024-02-01
Maximum Occupancy: 8
Manager: John Doe
Licence Holder: Acme Lettings Ltd
Shared Bathrooms: 2
Storeys: 2
`

// fakeExtractor counts calls and returns a canned result or error.
type fakeExtractor struct {
	res   *textract.Result
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (*textract.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newTestPipeline(cfg Config, st store.Store, extractor, ocr textract.Extractor) (*Pipeline, *audit.Manager) {
	engine := validate.NewEngine(nil)
	auditMgr := audit.NewManager(engine, nil)
	p := New(cfg, st, extractor, ocr, engine, quality.NewAssessor(quality.DefaultConfig()), auditMgr)
	return p, auditMgr
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcess_LabeledDocument(t *testing.T) {
	path := writeDoc(t, "register.txt", labeledRegister)
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.SessionCompleted, s.Status)
	assert.Equal(t, model.StageCompleted, s.CurrentStage)
	assert.False(t, s.FallbackUsed)
	require.NotNil(t, s.CompletedAt)
	require.NotNil(t, s.Metrics)
	require.Len(t, s.Records, 2)

	first := s.Records[0]
	assert.Equal(t, "HMO123", first.Get(model.FieldLicenceReference))
	assert.Equal(t, "Leeds City Council", first.Get(model.FieldCouncil))
	assert.Equal(t, "12 High Street, Leeds, LS1 4AB", first.Get(model.FieldHMOAddress))
	assert.Equal(t, "6", first.Get(model.FieldMaxOccupancy))

	// Extraction confidence caps the validator's enthusiasm.
	assert.InDelta(t, 0.9, first.Confidence[model.FieldCouncil], 1e-9)

	// Only the record missing its expiry date goes to review.
	require.Len(t, s.FlaggedIDs, 1)
}

func TestProcess_FlagReasonsReachReview(t *testing.T) {
	path := writeDoc(t, "register.txt", labeledRegister)
	p, auditMgr := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, s.FlaggedIDs, 1)

	fr := auditMgr.Get(s.FlaggedIDs[0])
	require.NotNil(t, fr)
	assert.Equal(t, s.ID, fr.SessionID)
	assert.Equal(t, model.ReviewPending, fr.ReviewStatus)
	assert.Contains(t, fr.FlagReason, "record failed validation")
	assert.Equal(t, "HMO456", fr.Record.Get(model.FieldLicenceReference))
}

func TestProcess_PatternFallback(t *testing.T) {
	prose := `Leeds City Council granted licence HMO1234 for the property at
12 High Street, Leeds LS1 4AB from 2024-01-01 until 2029-01-01
for a maximum of 6 persons.
`
	path := writeDoc(t, "notice.txt", prose)
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, s.FallbackUsed)
	require.Len(t, s.Records, 1)
	rec := s.Records[0]
	assert.Equal(t, "HMO1234", rec.Get(model.FieldLicenceReference))

	// Pattern confidence 0.6 scaled by the one-time fallback penalty.
	assert.InDelta(t, 0.42, rec.Confidence[model.FieldCouncil], 1e-9)

	// A critical field below the critical threshold forces review.
	require.Len(t, s.FlaggedIDs, 1)
}

func TestStageValidate_PenaltyAppliesAfterBlending(t *testing.T) {
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	build := func(fallback bool) *model.Record {
		rec := model.NewRecord()
		rec.Set(model.FieldCouncil, "Leeds City Council")
		rec.Set(model.FieldLicenceReference, "HMO123")
		rec.Set(model.FieldSharedBathrooms, "0")
		r := &run{
			session: &model.ProcessingSession{FallbackUsed: fallback},
			records: []*model.Record{rec},
			extraction: []map[string]float64{{
				model.FieldCouncil:          0.9,
				model.FieldLicenceReference: 0.9,
				model.FieldSharedBathrooms:  0.9,
			}},
		}
		require.NoError(t, p.stageScore(context.Background(), r))
		require.NoError(t, p.stageValidate(context.Background(), r))
		return rec
	}

	clean := build(false)
	assert.InDelta(t, 0.6, clean.Confidence[model.FieldSharedBathrooms], 1e-9)

	// The validator score is the binding minimum for shared_bathrooms; the
	// penalty must still scale the blended value, not just the extraction side.
	degraded := build(true)
	assert.InDelta(t, 0.42, degraded.Confidence[model.FieldSharedBathrooms], 1e-9)
	assert.InDelta(t, 0.63, degraded.Confidence[model.FieldCouncil], 1e-9)
}

func TestProcess_UnrecognizableTextCompletesDegraded(t *testing.T) {
	path := writeDoc(t, "notes.txt", "General correspondence about bins and refuse collection.\n\nNothing in this letter concerns licensing.")
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	// A document with no recognizable entities degrades to a single empty
	// record routed to review instead of failing the session.
	assert.Equal(t, model.SessionCompleted, s.Status)
	assert.Equal(t, model.StageCompleted, s.CurrentStage)
	assert.True(t, s.FallbackUsed)
	require.NotEmpty(t, s.Errors)
	assert.Equal(t, model.StageDataStructuring, s.Errors[len(s.Errors)-1].Stage)
	assert.Equal(t, model.ErrNLPProcessing, s.Errors[len(s.Errors)-1].Category)
	require.Len(t, s.Records, 1)
	require.Len(t, s.FlaggedIDs, 1)
}

func TestProcess_TabularCSV(t *testing.T) {
	content := "Licence Number,Council,Property Address,Start Date,Expiry Date,Maximum Occupancy\n" +
		"HMO1,Leeds City Council,\"12 High Street, Leeds, LS1 4AB\",2024-01-01,2029-01-01,6\n" +
		"HMO2,Leeds City Council,\"34 Park Road, Leeds, LS2 7EW\",2024-02-01,2029-02-01,8\n"
	path := writeDoc(t, "register.csv", content)
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.SessionCompleted, s.Status)
	require.Len(t, s.Records, 2)
	assert.Equal(t, "HMO1", s.Records[0].Get(model.FieldLicenceReference))
	assert.Equal(t, "34 Park Road, Leeds, LS2 7EW", s.Records[1].Get(model.FieldHMOAddress))
	assert.InDelta(t, tabularConfidence, s.Records[0].Confidence[model.FieldLicenceReference], 1e-9)

	// Registers without manager or holder names fail validation, so both
	// rows land in the review queue.
	assert.Len(t, s.FlaggedIDs, 2)
}

func TestProcess_TabularXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Register")
	require.NoError(t, err)
	header := sheet.AddRow()
	for _, h := range []string{"Licence Number", "Council", "Property Address"} {
		header.AddCell().SetString(h)
	}
	row := sheet.AddRow()
	for _, v := range []string{"HMO9", "Leeds City Council", "5 Mill Lane, Leeds, LS3 1AB"} {
		row.AddCell().SetString(v)
	}
	path := filepath.Join(t.TempDir(), "register.xlsx")
	require.NoError(t, f.Save(path))

	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)
	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, s.Records, 1)
	assert.Equal(t, "HMO9", s.Records[0].Get(model.FieldLicenceReference))
	assert.Equal(t, "5 Mill Lane, Leeds, LS3 1AB", s.Records[0].Get(model.FieldHMOAddress))
}

func TestProcess_OCRFallback(t *testing.T) {
	path := writeDoc(t, "scanned.pdf", "%PDF-1.4 placeholder")
	primary := &fakeExtractor{err: eris.New("textract: no extractable text in scanned.pdf; the document may be scanned")}
	ocr := &fakeExtractor{res: &textract.Result{Text: labeledRegister, Format: "pdf", Pages: 1, OCRUsed: true}}

	p, _ := newTestPipeline(Config{}, nil, primary, ocr)
	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, s.FallbackUsed)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, ocr.calls)
	require.Len(t, s.Records, 2)

	// Label confidence 0.9 scaled by the fallback penalty.
	assert.InDelta(t, 0.63, s.Records[0].Confidence[model.FieldCouncil], 1e-9)
}

func TestProcess_OCRCircuitOpens(t *testing.T) {
	path := writeDoc(t, "scanned.pdf", "%PDF-1.4 placeholder")
	primary := &fakeExtractor{err: eris.New("textract: no extractable text in scanned.pdf; the document may be scanned")}
	ocr := &fakeExtractor{err: eris.New("mistral: invalid request")}

	cfg := Config{Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 1}}
	p, _ := newTestPipeline(cfg, nil, primary, ocr)

	_, err := p.Process(context.Background(), path)
	require.Error(t, err)
	_, err = p.Process(context.Background(), path)
	require.Error(t, err)

	// The open circuit sheds the second OCR call.
	assert.Equal(t, 1, ocr.calls)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestProcess_NoOCRConfigured(t *testing.T) {
	path := writeDoc(t, "scanned.pdf", "%PDF-1.4 placeholder")
	primary := &fakeExtractor{err: eris.New("textract: no extractable text in scanned.pdf; the document may be scanned")}

	p, _ := newTestPipeline(Config{}, nil, primary, nil)
	s, err := p.Process(context.Background(), path)
	require.Error(t, err)

	assert.Equal(t, model.SessionError, s.Status)
	assert.Equal(t, model.StageError, s.CurrentStage)
	require.NotEmpty(t, s.Errors)
	assert.Equal(t, model.StageDocumentExtraction, s.Errors[0].Stage)
	assert.Equal(t, model.ErrDocumentProcessing, s.Errors[0].Category)
}

func TestProcess_MissingFile(t *testing.T) {
	out := t.TempDir()
	p, _ := newTestPipeline(Config{OutputDir: out}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)

	assert.Equal(t, model.SessionError, s.Status)
	require.NotEmpty(t, s.Errors)
	assert.Equal(t, model.ErrFileUpload, s.Errors[0].Category)
	assert.Equal(t, model.SeverityCritical, s.Errors[0].Severity)
	require.NotNil(t, s.CompletedAt)

	// A failed run leaves an error report instead of the records CSV.
	_, statErr := os.Stat(filepath.Join(out, s.ID+"_errors.csv"))
	assert.NoError(t, statErr)
}

func TestProcess_UnsupportedFormat(t *testing.T) {
	path := writeDoc(t, "register.docx", "not supported")
	p, _ := newTestPipeline(Config{}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document format")
	assert.Equal(t, model.SessionError, s.Status)
}

func TestProcess_WritesRecordsCSV(t *testing.T) {
	out := t.TempDir()
	path := writeDoc(t, "register.txt", labeledRegister)
	p, _ := newTestPipeline(Config{OutputDir: out}, nil, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, s.ID+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "licence_reference")
	assert.Contains(t, string(data), "HMO123")
}

func TestProcess_CacheHit(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	path := writeDoc(t, "register.txt", labeledRegister)
	extractor := &fakeExtractor{res: &textract.Result{Text: labeledRegister, Format: "txt"}}
	cfg := Config{CacheEnabled: true, CacheTTL: time.Hour}
	p, _ := newTestPipeline(cfg, st, extractor, nil)

	_, err = p.Process(context.Background(), path)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, extractor.calls)
}

func TestProcess_MemoryCacheWithoutStore(t *testing.T) {
	path := writeDoc(t, "register.txt", labeledRegister)
	extractor := &fakeExtractor{res: &textract.Result{Text: labeledRegister, Format: "txt"}}
	p, _ := newTestPipeline(Config{CacheEnabled: true, CacheTTL: time.Hour}, nil, extractor, nil)

	_, err := p.Process(context.Background(), path)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, extractor.calls)
}

func TestProcess_CheckpointsSession(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	path := writeDoc(t, "register.txt", labeledRegister)
	p, _ := newTestPipeline(Config{}, st, textract.NewLocalExtractor(""), nil)

	s, err := p.Process(context.Background(), path)
	require.NoError(t, err)

	persisted, err := st.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, persisted.Status)
	assert.Equal(t, model.StageCompleted, persisted.CurrentStage)
	assert.Len(t, persisted.Records, 2)
}

func TestProcessBatch(t *testing.T) {
	paths := []string{
		writeDoc(t, "a.txt", labeledRegister),
		writeDoc(t, "b.txt", labeledRegister),
	}
	p, _ := newTestPipeline(Config{Concurrency: 2}, nil, textract.NewLocalExtractor(""), nil)

	sessions, err := p.ProcessBatch(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "a.txt", sessions[0].DocumentName)
	assert.Equal(t, "b.txt", sessions[1].DocumentName)
	for _, s := range sessions {
		assert.Equal(t, model.SessionCompleted, s.Status)
	}
}

func TestProcessBatch_FailureDoesNotStopBatch(t *testing.T) {
	paths := []string{
		filepath.Join(t.TempDir(), "missing.pdf"),
		writeDoc(t, "b.txt", labeledRegister),
	}
	p, _ := newTestPipeline(Config{Concurrency: 2}, nil, textract.NewLocalExtractor(""), nil)

	sessions, err := p.ProcessBatch(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, model.SessionError, sessions[0].Status)
	assert.Equal(t, model.SessionCompleted, sessions[1].Status)
}

func TestFingerprint_ContentAddressed(t *testing.T) {
	a := writeDoc(t, "a.txt", "same content")
	b := writeDoc(t, "b.txt", "same content")
	c := writeDoc(t, "c.txt", "different content")

	fpA, err := fingerprint(a)
	require.NoError(t, err)
	fpB, err := fingerprint(b)
	require.NoError(t, err)
	fpC, err := fingerprint(c)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.NotEqual(t, fpA, fpC)
}

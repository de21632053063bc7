// Package pipeline orchestrates the extraction run: a fixed stage sequence
// from document intake to persisted, quality-assessed licence records. Each
// stage checkpoint writes the session through to the store so progress is
// observable while a run is in flight.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/licenceworks/hmo-audit/internal/audit"
	"github.com/licenceworks/hmo-audit/internal/export"
	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/quality"
	"github.com/licenceworks/hmo-audit/internal/resilience"
	"github.com/licenceworks/hmo-audit/internal/store"
	"github.com/licenceworks/hmo-audit/internal/validate"
	"github.com/licenceworks/hmo-audit/pkg/nlp"
	"github.com/licenceworks/hmo-audit/pkg/textract"
)

// fallbackPenalty scales the final field confidences when any fallback path
// (OCR, pattern recognition, or a degraded stage) contributed to a session.
// Applied exactly once per run, after validation blending and before the
// flagging stage.
const fallbackPenalty = 0.7

// memCacheSize bounds the in-memory extraction cache in front of the store.
const memCacheSize = 128

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".csv":  true,
	".xlsx": true,
}

// Config controls one pipeline instance.
type Config struct {
	Concurrency  int
	CacheEnabled bool
	CacheTTL     time.Duration
	OutputDir    string
	Retry        resilience.RetryConfig
	Breaker      resilience.CircuitBreakerConfig
}

// Pipeline runs documents through the extraction stages.
type Pipeline struct {
	cfg        Config
	store      store.Store
	extractor  textract.Extractor
	ocr        textract.Extractor // nil when no OCR provider is configured
	ocrBreaker *resilience.CircuitBreaker
	mem        *expirable.LRU[string, *textract.Result]
	label      nlp.Recognizer
	pattern    nlp.Recognizer
	engine     *validate.Engine
	assessor   *quality.Assessor
	audit      *audit.Manager
}

// New creates a Pipeline. st and ocr may be nil; everything else is required.
func New(cfg Config, st store.Store, extractor, ocr textract.Extractor,
	engine *validate.Engine, assessor *quality.Assessor, auditMgr *audit.Manager) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     st,
		extractor: extractor,
		ocr:       ocr,
		label:     nlp.NewLabelRecognizer(),
		pattern:   nlp.NewPatternRecognizer(),
		engine:    engine,
		assessor:  assessor,
		audit:     auditMgr,
		mem:       expirable.NewLRU[string, *textract.Result](memCacheSize, nil, cfg.CacheTTL),
	}
	if ocr != nil {
		bcfg := cfg.Breaker
		bcfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("pipeline: ocr circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		p.ocrBreaker = resilience.NewCircuitBreaker(bcfg)
	}
	return p
}

// run carries the intermediate state of one document between stages.
type run struct {
	session    *model.ProcessingSession
	path       string
	doc        *textract.Result
	blocks     []string
	entities   []nlp.Fields
	records    []*model.Record
	extraction []map[string]float64 // per-record recognizer confidences
	results    []model.ValidationResult
}

// tabular reports whether the document is row-structured rather than free
// text, in which case segmentation and entity recognition are skipped.
func (r *run) tabular() bool {
	return r.doc != nil && (r.doc.Format == "csv" || r.doc.Format == "xlsx")
}

// Process runs one document through every stage and returns the session. On
// failure the returned session is in the error state and carries the
// classified errors plus whatever partial results existed; the error is also
// returned for callers that stop on first failure.
func (p *Pipeline) Process(ctx context.Context, path string) (*model.ProcessingSession, error) {
	now := time.Now().UTC()
	session := &model.ProcessingSession{
		ID:           uuid.New().String(),
		DocumentName: filepath.Base(path),
		Status:       model.SessionQueued,
		CurrentStage: model.StageQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.checkpoint(ctx, session)

	zap.L().Info("pipeline: session started",
		zap.String("session", session.ID),
		zap.String("document", session.DocumentName),
	)

	r := &run{session: session, path: path}
	session.Status = model.SessionProcessing

	stages := []struct {
		stage model.Stage
		fn    func(context.Context, *run) error
	}{
		{model.StageProcessing, p.stageAccept},
		{model.StageDocumentExtraction, p.stageExtract},
		{model.StageNLPProcessing, p.stageSegment},
		{model.StageEntityExtraction, p.stageEntities},
		{model.StageDataStructuring, p.stageStructure},
		{model.StageConfidenceScoring, p.stageScore},
		{model.StageDataValidation, p.stageValidate},
		{model.StageQualityAssessment, p.stageAssess},
		{model.StageFlaggingRecords, p.stageFlag},
		{model.StageCSVGeneration, p.stageExportCSV},
		{model.StageFinalizing, p.stageFinalize},
	}

	for _, st := range stages {
		if err := p.runStage(ctx, r, st.stage, st.fn); err != nil {
			return p.fail(ctx, r, st.stage, err), err
		}
	}

	done := time.Now().UTC()
	session.Status = model.SessionCompleted
	session.CurrentStage = model.StageCompleted
	session.UpdatedAt = done
	session.CompletedAt = &done
	p.checkpoint(ctx, session)

	zap.L().Info("pipeline: session completed",
		zap.String("session", session.ID),
		zap.Int("records", len(session.Records)),
		zap.Int("flagged", len(session.FlaggedIDs)),
		zap.Bool("fallback_used", session.FallbackUsed),
	)
	return session, nil
}

// ProcessBatch runs documents concurrently, bounded by the configured
// concurrency. Per-document failures are recorded on their sessions and do
// not stop the batch; only context cancellation aborts early.
func (p *Pipeline) ProcessBatch(ctx context.Context, paths []string) ([]*model.ProcessingSession, error) {
	sessions := make([]*model.ProcessingSession, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, path := range paths {
		g.Go(func() error {
			s, err := p.Process(gctx, path)
			sessions[i] = s
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sessions, eris.Wrap(err, "pipeline: batch aborted")
	}
	return sessions, nil
}

// runStage advances the session to the stage, checkpoints, and executes it.
func (p *Pipeline) runStage(ctx context.Context, r *run, stage model.Stage, fn func(context.Context, *run) error) error {
	s := r.session
	s.CurrentStage = stage
	s.UpdatedAt = time.Now().UTC()
	p.checkpoint(ctx, s)

	start := time.Now()
	err := fn(ctx, r)
	zap.L().Debug("pipeline: stage finished",
		zap.String("session", s.ID),
		zap.String("stage", string(stage)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return err
}

// fail moves the session into the error state, keeping partial results, and
// writes the error report artifact in place of the normal CSV output.
func (p *Pipeline) fail(ctx context.Context, r *run, stage model.Stage, err error) *model.ProcessingSession {
	s := r.session
	now := time.Now().UTC()
	s.Errors = append(s.Errors, resilience.Classify(stage, err))
	s.Status = model.SessionError
	s.CurrentStage = model.StageError
	s.Records = r.records
	s.UpdatedAt = now
	s.CompletedAt = &now
	p.checkpoint(ctx, s)
	p.writeErrorReport(s)

	zap.L().Error("pipeline: session failed",
		zap.String("session", s.ID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	return s
}

// checkpoint persists the session snapshot. Checkpoint failures are logged
// rather than returned: a storage hiccup must not kill an in-flight run.
func (p *Pipeline) checkpoint(ctx context.Context, s *model.ProcessingSession) {
	if p.store == nil {
		return
	}
	if err := p.store.UpsertSession(ctx, s); err != nil {
		zap.L().Warn("pipeline: session checkpoint failed",
			zap.String("session", s.ID),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) stageAccept(_ context.Context, r *run) error {
	info, err := os.Stat(r.path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: stat %s", r.path)
	}
	if info.IsDir() {
		return eris.Errorf("pipeline: %s is a directory", r.path)
	}
	ext := strings.ToLower(filepath.Ext(r.path))
	if !supportedExtensions[ext] {
		return eris.Errorf("pipeline: unsupported document format %q", ext)
	}
	return nil
}

func (p *Pipeline) stageExtract(ctx context.Context, r *run) error {
	doc, err := p.extractDocument(ctx, r.path)
	if err != nil {
		return err
	}
	r.doc = doc
	if doc.OCRUsed {
		r.session.FallbackUsed = true
	}
	return nil
}

// degrade records a recoverable stage failure on the session and marks the
// run as degraded. The run continues with whatever substitute result the
// stage provides.
func (p *Pipeline) degrade(r *run, stage model.Stage, err error) {
	r.session.Errors = append(r.session.Errors, resilience.Classify(stage, err))
	r.session.FallbackUsed = true
	zap.L().Warn("pipeline: stage degraded",
		zap.String("session", r.session.ID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
}

func (p *Pipeline) stageSegment(_ context.Context, r *run) error {
	if r.tabular() {
		return nil
	}
	r.blocks = nlp.Segment(r.doc.Text)
	if len(r.blocks) == 0 {
		p.degrade(r, model.StageNLPProcessing, eris.New("pipeline: no text blocks found in document"))
	}
	return nil
}

func (p *Pipeline) stageEntities(ctx context.Context, r *run) error {
	if r.tabular() {
		return nil
	}
	for _, block := range r.blocks {
		fields, err := p.label.Recognize(ctx, block)
		if err == nil && usableFields(fields) {
			r.entities = append(r.entities, fields)
			continue
		}
		if err != nil {
			p.degrade(r, model.StageEntityExtraction, eris.Wrap(err, "pipeline: label recognition"))
		}

		fields, err = p.pattern.Recognize(ctx, block)
		if err != nil {
			p.degrade(r, model.StageEntityExtraction, eris.Wrap(err, "pipeline: pattern recognition"))
			fields = nlp.Fields{}
		}
		if len(fields) > 0 {
			r.session.FallbackUsed = true
		}
		r.entities = append(r.entities, fields)
	}
	return nil
}

// usableFields reports whether a label recognition result is good enough to
// skip the pattern fallback: it identified the licence or found enough
// context to be a real record.
func usableFields(fields nlp.Fields) bool {
	if _, ok := fields[nlp.KeyLicenceReference]; ok {
		return true
	}
	return len(fields) >= 3
}

func (p *Pipeline) stageAssess(_ context.Context, r *run) error {
	r.session.Metrics = p.assessor.Assess(r.records, r.results)
	return nil
}

func (p *Pipeline) stageFlag(ctx context.Context, r *run) error {
	decisions := p.assessor.FlagLowConfidenceRecords(r.records, r.results)
	for _, d := range decisions {
		if !d.Flag {
			continue
		}
		id := p.audit.Flag(ctx, r.records[d.Index], r.session.ID, d.Reason(), "pipeline")
		r.session.FlaggedIDs = append(r.session.FlaggedIDs, id)
	}
	return nil
}

func (p *Pipeline) stageExportCSV(_ context.Context, r *run) error {
	if p.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return eris.Wrap(err, "pipeline: create output dir")
	}
	path := filepath.Join(p.cfg.OutputDir, r.session.ID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "pipeline: create csv")
	}
	if err := export.Records(f, r.records); err != nil {
		f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "pipeline: close csv")
}

func (p *Pipeline) stageFinalize(ctx context.Context, r *run) error {
	if p.store != nil {
		if err := p.store.SaveRecords(ctx, r.session.ID, r.records); err != nil {
			return eris.Wrap(err, "pipeline: save records")
		}
	}
	r.session.Records = r.records
	return nil
}

// writeErrorReport emits the error CSV for a failed session. Best effort.
func (p *Pipeline) writeErrorReport(s *model.ProcessingSession) {
	if p.cfg.OutputDir == "" {
		return
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		zap.L().Warn("pipeline: create output dir failed", zap.Error(err))
		return
	}
	path := filepath.Join(p.cfg.OutputDir, s.ID+"_errors.csv")
	f, err := os.Create(path)
	if err != nil {
		zap.L().Warn("pipeline: create error report failed", zap.Error(err))
		return
	}
	defer f.Close()
	if err := export.Errors(f, s); err != nil {
		zap.L().Warn("pipeline: write error report failed", zap.Error(err))
	}
}

package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/audit"
	"github.com/licenceworks/hmo-audit/internal/pipeline"
	"github.com/licenceworks/hmo-audit/internal/quality"
	"github.com/licenceworks/hmo-audit/internal/resilience"
	"github.com/licenceworks/hmo-audit/internal/store"
	"github.com/licenceworks/hmo-audit/internal/validate"
	"github.com/licenceworks/hmo-audit/pkg/textract"
)

// auditEnv holds the initialized store, review manager, and pipeline shared
// by the process/review/export/serve commands.
type auditEnv struct {
	Store    store.Store
	Engine   *validate.Engine
	Assessor *quality.Assessor
	Audit    *audit.Manager
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *auditEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for the mode, opens the store, loads the
// validation policy, hydrates the review manager, and builds the pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*auditEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if expired, err := st.DeleteExpiredDocuments(ctx); err != nil {
		zap.L().Warn("expired cache sweep failed", zap.Error(err))
	} else if expired > 0 {
		zap.L().Debug("expired cache entries removed", zap.Int("count", expired))
	}

	policy := validate.DefaultPolicy()
	if cfg.Validation.PolicyPath != "" {
		policy, err = validate.LoadPolicy(cfg.Validation.PolicyPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("validation policy loaded", zap.String("path", cfg.Validation.PolicyPath))
	}
	engine := validate.NewEngine(policy)

	assessor := quality.NewAssessor(quality.Config{
		FlagThreshold:     cfg.Validation.FlagThreshold,
		CriticalThreshold: cfg.Validation.CriticalThreshold,
	})

	auditMgr := audit.NewManager(engine, st)
	if err := auditMgr.Hydrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "hydrate review records")
	}

	extractor, err := textract.NewExtractor(cfg.Textract)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	ocr := textract.NewFallbackExtractor(cfg.Textract)
	if ocr == nil {
		zap.L().Debug("no OCR provider configured, scanned documents will fail extraction")
	}

	p := pipeline.New(pipeline.Config{
		Concurrency:  cfg.Pipeline.Concurrency,
		CacheEnabled: cfg.Pipeline.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Pipeline.CacheTTLHours) * time.Hour,
		OutputDir:    cfg.Export.OutputDir,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
		Breaker: resilience.FromCircuitConfig(
			cfg.Retry.CircuitFailureThreshold,
			cfg.Retry.CircuitResetSecs,
		),
	}, st, extractor, ocr, engine, assessor, auditMgr)

	return &auditEnv{
		Store:    st,
		Engine:   engine,
		Assessor: assessor,
		Audit:    auditMgr,
		Pipeline: p,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "hmo-audit.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/resilience"
	"github.com/licenceworks/hmo-audit/pkg/textract"
)

// fingerprint hashes the document content. Cache keys follow the bytes, not
// the filename, so a renamed copy of a processed document still hits.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrap(err, "pipeline: hash document")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// extractDocument returns the document's extraction result, consulting the
// content-addressed caches first: the bounded in-memory LRU, then the store.
// Cache read and write failures degrade to a plain extraction; a corrupt
// cached payload is treated as a miss.
func (p *Pipeline) extractDocument(ctx context.Context, path string) (*textract.Result, error) {
	if !p.cfg.CacheEnabled {
		return p.extract(ctx, path)
	}

	fp, err := fingerprint(path)
	if err != nil {
		zap.L().Warn("pipeline: fingerprint failed, skipping cache", zap.Error(err))
		return p.extract(ctx, path)
	}

	if res, ok := p.mem.Get(fp); ok {
		zap.L().Debug("pipeline: memory cache hit", zap.String("fingerprint", fp))
		return res, nil
	}

	if p.store != nil {
		if payload, err := p.store.GetCachedDocument(ctx, fp); err != nil {
			zap.L().Warn("pipeline: cache read failed", zap.Error(err))
		} else if payload != nil {
			var res textract.Result
			if err := json.Unmarshal(payload, &res); err == nil {
				zap.L().Debug("pipeline: document cache hit", zap.String("fingerprint", fp))
				p.mem.Add(fp, &res)
				return &res, nil
			}
			zap.L().Warn("pipeline: corrupt cache entry, re-extracting", zap.String("fingerprint", fp))
		}
	}

	res, err := p.extract(ctx, path)
	if err != nil {
		return nil, err
	}
	p.mem.Add(fp, res)
	if p.store != nil {
		if payload, merr := json.Marshal(res); merr == nil {
			if err := p.store.SetCachedDocument(ctx, fp, payload, p.cfg.CacheTTL); err != nil {
				zap.L().Warn("pipeline: cache write failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

// extract runs the primary extractor with retries, falling back to OCR when
// the document has no machine-readable text layer.
func (p *Pipeline) extract(ctx context.Context, path string) (*textract.Result, error) {
	retry := p.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("textract", "extract")

	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*textract.Result, error) {
		return p.extractor.Extract(ctx, path)
	})
	if err == nil {
		return res, nil
	}
	if p.ocr == nil || !scannedDocument(err) {
		return nil, err
	}

	// The OCR provider is a remote service; a circuit breaker sheds calls to
	// it once it starts failing consistently.
	zap.L().Info("pipeline: no text layer, using OCR fallback", zap.String("document", path))
	return resilience.ExecuteVal(ctx, p.ocrBreaker, func(ctx context.Context) (*textract.Result, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*textract.Result, error) {
			return p.ocr.Extract(ctx, path)
		})
	})
}

func scannedDocument(err error) bool {
	return strings.Contains(err.Error(), "no extractable text")
}

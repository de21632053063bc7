// Package textract extracts raw text from HMO licence register documents.
// Plain-text formats are read directly; PDFs go through pdftotext, with a
// remote OCR provider available for scanned documents.
package textract

import (
	"context"

	"github.com/rotisserie/eris"
)

// Config selects the OCR provider used for scanned documents.
type Config struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralAPIKey string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// Result is the outcome of one document extraction. Metadata carries
// provider-specific facts about how the text was obtained, for diagnostics
// and session records.
type Result struct {
	Text     string            `json:"text"`
	Format   string            `json:"format"`
	Pages    int               `json:"pages,omitempty"`
	OCRUsed  bool              `json:"ocr_used"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Extractor extracts text content from a document on disk.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// NewExtractor creates the primary extractor based on config.
func NewExtractor(cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalExtractor(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralAPIKey == "" {
			return nil, eris.New("textract: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralAPIKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("textract: unknown provider %q", cfg.Provider)
	}
}

// NewFallbackExtractor returns the OCR extractor used when the primary one
// yields no usable text, or nil when no OCR provider is configured.
func NewFallbackExtractor(cfg Config) Extractor {
	if cfg.MistralAPIKey == "" {
		return nil
	}
	return NewMistralOCR(cfg.MistralAPIKey, cfg.MistralModel)
}

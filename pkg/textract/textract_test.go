package textract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/licenceworks/hmo-audit/internal/resilience"
)

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(Config{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &LocalExtractor{}, ext)
}

func TestNewExtractor_LocalDefault(t *testing.T) {
	ext, err := NewExtractor(Config{})
	require.NoError(t, err)
	assert.IsType(t, &LocalExtractor{}, ext)
}

func TestNewExtractor_MistralMissingKey(t *testing.T) {
	_, err := NewExtractor(Config{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(Config{Provider: "tesseract"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "tesseract"`)
}

func TestNewFallbackExtractor(t *testing.T) {
	assert.Nil(t, NewFallbackExtractor(Config{}))
	assert.NotNil(t, NewFallbackExtractor(Config{MistralAPIKey: "key"}))
}

func TestLocalExtractor_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "register.csv")
	require.NoError(t, os.WriteFile(path, []byte("council,reference\nLeeds,HMO123\n"), 0644))

	e := NewLocalExtractor("")
	res, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "csv", res.Format)
	assert.Contains(t, res.Text, "HMO123")
	assert.False(t, res.OCRUsed)
	assert.Equal(t, "local", res.Metadata["extractor"])
	assert.Equal(t, "register.csv", res.Metadata["source"])
}

func TestLocalExtractor_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "register.xlsx")
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Licences")
	require.NoError(t, err)
	header := sheet.AddRow()
	header.AddCell().SetString("council")
	header.AddCell().SetString("reference")
	row := sheet.AddRow()
	row.AddCell().SetString("Leeds City Council")
	row.AddCell().SetString("HMO456")
	require.NoError(t, wb.Save(path))

	e := NewLocalExtractor("")
	res, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", res.Format)
	assert.Contains(t, res.Text, "Leeds City Council\tHMO456")
	assert.Equal(t, "1", res.Metadata["sheets"])
}

func TestLocalExtractor_UnsupportedFormat(t *testing.T) {
	e := NewLocalExtractor("")
	_, err := e.Extract(context.Background(), "/tmp/register.docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestLocalExtractor_PDF_FakeBinary(t *testing.T) {
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdftotext")
	script := "#!/bin/sh\necho 'Licence HMO123 granted to Jane Smith'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	e := NewLocalExtractor(fakeBin)
	res, err := e.Extract(context.Background(), filepath.Join(tmpDir, "dummy.pdf"))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "HMO123")
	assert.Equal(t, "pdf", res.Format)
}

func TestLocalExtractor_PDF_EmptyOutputIsError(t *testing.T) {
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdftotext")
	script := "#!/bin/sh\nprintf '  \\n'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	e := NewLocalExtractor(fakeBin)
	_, err := e.Extract(context.Background(), filepath.Join(tmpDir, "scanned.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractable text")
}

func TestLocalExtractor_PDF_BinaryNotFound(t *testing.T) {
	e := NewLocalExtractor("/nonexistent/pdftotext")
	_, err := e.Extract(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		resp := mistralOCRResponse{
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "Licence HMO123"},
				{Index: 1, Markdown: "Holder: Jane Smith"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 test content"), 0644))

	m := &MistralOCR{apiKey: "test-key", model: "test-model", endpoint: srv.URL, client: &http.Client{}}
	res, err := m.Extract(context.Background(), pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "Licence HMO123\n\nHolder: Jane Smith", res.Text)
	assert.True(t, res.OCRUsed)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "mistral_ocr", res.Metadata["extractor"])
	assert.Equal(t, "test-model", res.Metadata["model"])
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 test"), 0644))

	m := &MistralOCR{apiKey: "bad-key", model: "test-model", endpoint: srv.URL, client: &http.Client{}}
	_, err := m.Extract(context.Background(), pdfPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
}

func TestMistralOCR_TransientStatusIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 test"), 0644))

	m := &MistralOCR{apiKey: "key", model: "test-model", endpoint: srv.URL, client: &http.Client{}}
	_, err := m.Extract(context.Background(), pdfPath)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	m := NewMistralOCR("key", "model")
	_, err := m.Extract(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")
}

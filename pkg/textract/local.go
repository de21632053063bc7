package textract

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// LocalExtractor reads text, CSV and XLSX files directly and shells out to
// the pdftotext CLI tool for PDFs.
type LocalExtractor struct {
	binPath string
}

// NewLocalExtractor creates a LocalExtractor. If binPath is empty,
// "pdftotext" is used.
func NewLocalExtractor(binPath string) *LocalExtractor {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &LocalExtractor{binPath: binPath}
}

// Extract dispatches on the file extension. A PDF that produces no
// extractable text is an error so the caller can route the document to OCR.
func (e *LocalExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".csv", ".text":
		return e.extractPlain(path, strings.TrimPrefix(ext, "."))
	case ".xlsx":
		return e.extractXLSX(path)
	case ".pdf":
		return e.extractPDF(ctx, path)
	default:
		return nil, eris.Errorf("textract: unsupported format %q for %s", ext, path)
	}
}

func (e *LocalExtractor) extractPlain(path, format string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "textract: read %s", path)
	}
	return &Result{
		Text:     string(data),
		Format:   format,
		Metadata: map[string]string{"extractor": "local", "source": filepath.Base(path)},
	}, nil
}

// extractXLSX flattens every sheet into tab-separated lines so the
// downstream entity recognizer sees one cell value per column.
func (e *LocalExtractor) extractXLSX(path string) (*Result, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "textract: open xlsx %s", path)
	}

	var sb strings.Builder
	for _, sheet := range wb.Sheets {
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return &Result{
		Text:   sb.String(),
		Format: "xlsx",
		Pages:  len(wb.Sheets),
		Metadata: map[string]string{
			"extractor": "local",
			"source":    filepath.Base(path),
			"sheets":    strconv.Itoa(len(wb.Sheets)),
		},
	}, nil
}

func (e *LocalExtractor) extractPDF(ctx context.Context, path string) (*Result, error) {
	cmd := exec.CommandContext(ctx, e.binPath, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "textract: pdftotext failed for %s: %s", path, stderr.String())
	}

	text := stdout.String()
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("textract: no extractable text in %s; document may be scanned", path)
	}
	return &Result{
		Text:     text,
		Format:   "pdf",
		Metadata: map[string]string{"extractor": "pdftotext", "source": filepath.Base(path)},
	}, nil
}

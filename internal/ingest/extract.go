package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/hyrag/internal/domain"
)

// Extractor turns a materialized document file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path, extension string) (string, error)
}

// TextExtractor handles plain-text document formats. Anything else is an
// unsupported type; binary formats (pdf, docx) need a dedicated extractor.
type TextExtractor struct{}

var textExtensions = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".csv":  {},
	".json": {},
	".log":  {},
	".html": {},
}

// Extract implements Extractor.
func (TextExtractor) Extract(_ context.Context, path, extension string) (string, error) {
	ext := strings.ToLower(extension)
	if _, ok := textExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFileType, extension)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", domain.ErrExtraction, path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrExtraction, path)
	}
	return string(data), nil
}

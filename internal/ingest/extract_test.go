package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/hyrag/internal/domain"
)

func writeScratch(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}
	return path
}

func TestTextExtractor_PlainText(t *testing.T) {
	path := writeScratch(t, "doc.txt", []byte("hello world"))

	text, err := TextExtractor{}.Extract(context.Background(), path, ".txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "hello world" {
		t.Errorf("got %q, want %q", text, "hello world")
	}
}

func TestTextExtractor_CaseInsensitiveExtension(t *testing.T) {
	path := writeScratch(t, "doc.md", []byte("# title"))

	if _, err := (TextExtractor{}).Extract(context.Background(), path, ".MD"); err != nil {
		t.Fatalf("uppercase extension must be accepted: %v", err)
	}
}

func TestTextExtractor_UnsupportedType(t *testing.T) {
	path := writeScratch(t, "doc.pdf", []byte("%PDF-1.4"))

	_, err := TextExtractor{}.Extract(context.Background(), path, ".pdf")
	if !errors.Is(err, domain.ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
}

func TestTextExtractor_InvalidUTF8(t *testing.T) {
	path := writeScratch(t, "doc.txt", []byte{0xff, 0xfe, 0xfd})

	_, err := TextExtractor{}.Extract(context.Background(), path, ".txt")
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestTextExtractor_MissingFile(t *testing.T) {
	_, err := TextExtractor{}.Extract(context.Background(), "/nonexistent/doc.txt", ".txt")
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

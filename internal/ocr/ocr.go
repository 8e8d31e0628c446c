// Package ocr extracts per-page text from uploaded documents.
package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/config"
	"github.com/sells-group/dealdesk/internal/model"
)

// Extractor extracts page text from a document on disk.
type Extractor interface {
	ExtractPages(ctx context.Context, path string) ([]model.PageText, error)
}

// NewExtractor creates an Extractor based on config. Plain-text uploads are
// read directly whichever provider is configured. With the local provider a
// Mistral key enables OCR of scanned PDFs that have no text layer.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	var pdf, scanned Extractor
	switch cfg.Provider {
	case "local", "":
		pdf = NewPdfToText(cfg.PdfToTextPath)
		if cfg.MistralKey != "" {
			scanned = NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		}
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		pdf = NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
	return &router{pdf: pdf, scanned: scanned}, nil
}

type router struct {
	pdf     Extractor
	scanned Extractor // nil disables the fallback
}

func (r *router) ExtractPages(ctx context.Context, path string) ([]model.PageText, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ocr: read %s", path)
		}
		return SplitPages(string(data)), nil
	}

	pages, err := r.pdf.ExtractPages(ctx, path)
	if errors.Is(err, ErrNoTextLayer) && r.scanned != nil {
		return r.scanned.ExtractPages(ctx, path)
	}
	return pages, err
}

// SplitPages splits text on form feeds into numbered pages. Trailing empty
// pages are dropped.
func SplitPages(text string) []model.PageText {
	raw := strings.Split(text, "\f")
	for len(raw) > 0 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}
	pages := make([]model.PageText, len(raw))
	for i, p := range raw {
		pages[i] = model.PageText{PageNumber: i + 1, Text: p}
	}
	return pages
}

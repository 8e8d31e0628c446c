package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/model"
)

// ErrNoTextLayer is returned when a PDF yields no text at all, which is
// what a scanned offering memorandum looks like to pdftotext.
var ErrNoTextLayer = eris.New("ocr: pdf has no text layer")

// PdfToText reads the embedded text layer with poppler's pdftotext.
type PdfToText struct {
	binPath string
}

// NewPdfToText defaults binPath to "pdftotext" on PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractPages keeps the column layout so rent roll tables survive as
// whitespace-aligned rows.
func (p *PdfToText) ExtractPages(ctx context.Context, pdfPath string) ([]model.PageText, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, strings.TrimSpace(stderr.String()))
	}

	pages := SplitPages(stdout.String())
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) != "" {
			return pages, nil
		}
	}
	return nil, eris.Wrap(ErrNoTextLayer, pdfPath)
}

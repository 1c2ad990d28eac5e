package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextLayer reads embedded text straight out of PDFs (exported service
// records, inspection reports) and hands everything else to next.
type TextLayer struct {
	next Recognizer
}

// NewTextLayer wraps next with a PDF text-layer shortcut
func NewTextLayer(next Recognizer) *TextLayer {
	return &TextLayer{next: next}
}

// Recognize returns the PDF text layer when there is one, otherwise defers to the wrapped recognizer
func (t *TextLayer) Recognize(ctx context.Context, img *Image) (string, error) {
	if strings.EqualFold(img.ContentType, "application/pdf") {
		text, err := pdfText(img.Data)
		if err != nil {
			slog.Debug("No usable PDF text layer", "name", img.Name, "error", err)
		} else if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return t.next.Recognize(ctx, img)
}

// Close closes the wrapped recognizer
func (t *TextLayer) Close() error {
	return t.next.Close()
}

func pdfText(data []byte) (text string, err error) {
	// the pdf parser panics on some malformed cross-reference tables
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parsing PDF: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return string(raw), nil
}

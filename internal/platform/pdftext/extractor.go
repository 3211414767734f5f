// Package pdftext extracts plain text from uploaded discharge summary PDFs.
//
// It uses ledongthuc/pdf (pure Go, no CGO), so text-based PDFs work out of
// the box while scanned image PDFs yield no text.
package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extract extracts the text of every readable page, joined by newlines.
// Unreadable or empty pages are skipped rather than failing the whole
// document.
func Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}

		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(pageText)
	}

	return text.String(), nil
}

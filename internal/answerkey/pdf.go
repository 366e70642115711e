package answerkey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wudi/pdfkit/extractor"
	"github.com/wudi/pdfkit/ir"
)

// pdfText extracts the embedded text layer from a PDF. Scanned PDFs
// without a text layer come back empty, which sends the caller down the
// vision path instead.
func pdfText(ctx context.Context, src []byte) (string, error) {
	pipe := ir.NewDefault()
	doc, err := pipe.Parse(ctx, bytes.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	dec := doc.Decoded()
	if dec == nil {
		return "", errors.New("pdf pipeline produced no decoded document")
	}

	ext, err := extractor.New(dec)
	if err != nil {
		return "", fmt.Errorf("init pdf extractor: %w", err)
	}

	pages, err := ext.ExtractText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var sb strings.Builder
	for _, page := range pages {
		sb.WriteString(page.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

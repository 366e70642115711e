// Package answerkey normalizes answer-key source documents of assorted
// formats into the canonical key used by the scoring engine.
package answerkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/util"
)

// ErrEmpty is returned when no valid rows remain after parsing and
// validation. Nothing downstream can be scored without a key, so callers
// should treat this as fatal for the exam run.
var ErrEmpty = errors.New("answer key: no valid rows parsed")

// Builder routes a source document to the right parser and produces a
// canonical AnswerKey. Tabular and text formats are parsed directly; PDFs
// try embedded text first, then fall back to vision extraction; images go
// straight to the extraction router.
type Builder struct {
	router          *extract.Router
	negativeDefault float64
	now             func() time.Time
}

// NewBuilder creates a Builder. router may be nil, which disables the
// OCR fallback paths (tabular and text sources still work).
func NewBuilder(router *extract.Router, negativeDefault float64) *Builder {
	return &Builder{
		router:          router,
		negativeDefault: negativeDefault,
		now:             time.Now,
	}
}

// Build parses src into an AnswerKey. Rows that fail validation are
// dropped with a collected warning; only zero surviving rows is an error.
// Parsing the same bytes twice yields the same answers map.
func (b *Builder) Build(ctx context.Context, src []byte, filename, mime string) (model.AnswerKey, []string, error) {
	mime = util.SniffMIME(mime, src)
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		rows     []extract.KeyRow
		negative = b.negativeDefault
		warnings []string
		err      error
	)

	switch {
	case ext == ".csv" || mime == "text/csv":
		rows, warnings, err = parseDelimited(src, ',')
	case ext == ".tsv" || mime == "text/tab-separated-values":
		rows, warnings, err = parseDelimited(src, '\t')
	case ext == ".txt" || strings.HasPrefix(mime, "text/"):
		rows, warnings = parseText(string(src))
	case ext == ".pdf" || mime == "application/pdf":
		rows, warnings, err = b.buildFromPDF(ctx, src, &negative)
	case strings.HasPrefix(mime, "image/"):
		rows, err = b.buildFromImage(ctx, src, mime, &negative)
	default:
		return model.AnswerKey{}, nil, fmt.Errorf("unsupported answer key format: ext=%q mime=%q", ext, mime)
	}
	if err != nil {
		return model.AnswerKey{}, warnings, err
	}

	key, warns := normalize(rows, negative, filename, b.now())
	warnings = append(warnings, warns...)
	if len(key.Answers) == 0 {
		return model.AnswerKey{}, warnings, ErrEmpty
	}

	slog.Info("answer key built",
		"source", filename,
		"questions", key.TotalQuestions,
		"negative_marking", key.NegativeMarking,
		"warnings", len(warnings),
	)
	return key, warnings, nil
}

func (b *Builder) buildFromPDF(ctx context.Context, src []byte, negative *float64) ([]extract.KeyRow, []string, error) {
	text, err := pdfText(ctx, src)
	if err == nil && text != "" {
		if rows, warnings := parseText(text); len(rows) > 0 {
			return rows, warnings, nil
		}
	}
	if err != nil {
		slog.Debug("pdf text extraction failed, falling back to vision", "error", err)
	}
	rows, oerr := b.buildFromImage(ctx, src, "application/pdf", negative)
	return rows, nil, oerr
}

func (b *Builder) buildFromImage(ctx context.Context, src []byte, mime string, negative *float64) ([]extract.KeyRow, error) {
	if b.router == nil {
		return nil, errors.New("no extraction router configured for OCR answer key parsing")
	}
	ex, err := b.router.Extract(ctx, src, mime, extract.IntentAnswerKey)
	if err != nil {
		return nil, err
	}
	if ex.NegativeMarking > 0 {
		*negative = ex.NegativeMarking
	}
	return ex.KeyRows, nil
}

// normalize validates rows and assembles the canonical key. Later rows
// win on duplicate question numbers, with a warning.
func normalize(rows []extract.KeyRow, negative float64, sourceFile string, at time.Time) (model.AnswerKey, []string) {
	var warnings []string
	answers := make(map[int]model.AnswerKeyEntry, len(rows))

	for _, r := range rows {
		opt := extract.NormalizeOption(r.Option)
		switch {
		case r.Question <= 0:
			warnings = append(warnings, fmt.Sprintf("dropped row with question number %d", r.Question))
			continue
		case opt == "" || opt == model.MultipleMark || strings.ContainsAny(opt, " \t"):
			warnings = append(warnings, fmt.Sprintf("q%d: unusable option %q", r.Question, r.Option))
			continue
		case r.Marks < 0:
			warnings = append(warnings, fmt.Sprintf("q%d: negative marks %v", r.Question, r.Marks))
			continue
		}
		if len(opt) > 1 {
			warnings = append(warnings, fmt.Sprintf("q%d: unusual option %q, keeping as-is", r.Question, opt))
		}
		if _, dup := answers[r.Question]; dup {
			warnings = append(warnings, fmt.Sprintf("q%d: duplicate row, keeping the last one", r.Question))
		}
		answers[r.Question] = model.AnswerKeyEntry{CorrectOption: opt, Marks: r.Marks}
	}

	if negative < 0 {
		negative = 0
	}
	sort.Strings(warnings)
	return model.AnswerKey{
		TotalQuestions:  len(answers),
		Answers:         answers,
		NegativeMarking: negative,
		Metadata: model.KeyMetadata{
			SourceFile:  sourceFile,
			ExtractedAt: at,
		},
	}, warnings
}

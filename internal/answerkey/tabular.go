package answerkey

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/gradescan/internal/extract"
)

// Canonical column names and their accepted header aliases. Lookup is by
// normalized (lower-cased, punctuation-stripped) comparison; the table is
// data, the matcher is separate and tested on its own.
var columnAliases = map[string][]string{
	"question": {"question", "q", "number", "qno", "q no", "question number", "sl", "sr", "sno", "s no"},
	"option":   {"correct", "option", "answer", "correct option", "ans", "key", "correct answer"},
	"marks":    {"marks", "mark", "score", "weight", "points"},
}

// detectColumns maps header cells to canonical column indices. Question
// and option default to the first two columns when nothing matches.
func detectColumns(headers []string) (qCol, optCol, marksCol int) {
	qCol, optCol, marksCol = -1, -1, -1
	for idx, h := range headers {
		norm := normalizeHeader(h)
		switch {
		case qCol < 0 && matchesAlias("question", norm):
			qCol = idx
		case optCol < 0 && matchesAlias("option", norm):
			optCol = idx
		case marksCol < 0 && matchesAlias("marks", norm):
			marksCol = idx
		}
	}
	if qCol < 0 && optCol < 0 {
		qCol, optCol = 0, 1
	} else if qCol >= 0 && optCol < 0 {
		optCol = qCol + 1
	} else if optCol >= 0 && qCol < 0 {
		qCol = max(0, optCol-1)
	}
	return qCol, optCol, marksCol
}

func matchesAlias(canonical, normalizedHeader string) bool {
	for _, alias := range columnAliases[canonical] {
		if strings.Contains(normalizedHeader, alias) {
			return true
		}
	}
	return false
}

func normalizeHeader(h string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '.' || r == '_' || r == '-':
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// parseDelimited parses CSV/TSV answer keys. The first row is treated as
// a header when any cell matches a known alias; otherwise it is data and
// default column positions apply.
func parseDelimited(src []byte, comma rune) ([]extract.KeyRow, []string, error) {
	src = bytes.TrimPrefix(src, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	r := csv.NewReader(bytes.NewReader(src))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse delimited key: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	hasHeader := false
	for _, cell := range records[0] {
		norm := normalizeHeader(cell)
		if matchesAlias("question", norm) || matchesAlias("option", norm) || matchesAlias("marks", norm) {
			hasHeader = true
			break
		}
	}

	var headers []string
	data := records
	if hasHeader {
		headers = records[0]
		data = records[1:]
	}
	qCol, optCol, marksCol := detectColumns(headers)

	var (
		rows     []extract.KeyRow
		warnings []string
	)
	for i, rec := range data {
		if isBlankRecord(rec) {
			continue
		}
		row, err := parseRecord(rec, qCol, optCol, marksCol)
		if err != nil {
			// Single-column keys sometimes carry "Q1: A" style cells.
			if q, opt, ok := extract.ParseInlineAnswer(strings.Join(rec, " ")); ok {
				rows = append(rows, extract.KeyRow{Question: q, Option: opt, Marks: 1})
				continue
			}
			warnings = append(warnings, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, warnings, nil
}

func parseRecord(rec []string, qCol, optCol, marksCol int) (extract.KeyRow, error) {
	if qCol >= len(rec) || optCol >= len(rec) {
		return extract.KeyRow{}, fmt.Errorf("short record (%d cells)", len(rec))
	}
	q, err := extract.ParseQuestionNumber(rec[qCol])
	if err != nil {
		return extract.KeyRow{}, err
	}
	if q <= 0 {
		return extract.KeyRow{}, fmt.Errorf("question number %d is not positive", q)
	}
	opt := strings.TrimSpace(rec[optCol])
	if opt == "" {
		return extract.KeyRow{}, fmt.Errorf("q%d: empty option", q)
	}

	marks := 1.0
	if marksCol >= 0 && marksCol < len(rec) && strings.TrimSpace(rec[marksCol]) != "" {
		m, err := strconv.ParseFloat(strings.TrimSpace(rec[marksCol]), 64)
		if err != nil {
			return extract.KeyRow{}, fmt.Errorf("q%d: bad marks %q", q, rec[marksCol])
		}
		marks = m
	}
	return extract.KeyRow{Question: q, Option: opt, Marks: marks}, nil
}

func isBlankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

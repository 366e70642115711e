package answerkey

import (
	"fmt"
	"strings"

	"github.com/pavelanni/gradescan/internal/extract"
)

// parseText scans free-form text line by line for "Q1: A" style entries.
// Lines that carry no recognizable question/option pair are skipped; a
// warning is recorded only for lines that look like an attempt (contain
// a digit) but could not be parsed.
func parseText(s string) ([]extract.KeyRow, []string) {
	var (
		rows     []extract.KeyRow
		warnings []string
	)
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if q, opt, ok := extract.ParseInlineAnswer(line); ok {
			rows = append(rows, extract.KeyRow{Question: q, Option: opt, Marks: 1})
			continue
		}
		if strings.ContainsAny(line, "0123456789") {
			warnings = append(warnings, fmt.Sprintf("line %d: unrecognized entry %q", i+1, truncate(line, 40)))
		}
	}
	return rows, warnings
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

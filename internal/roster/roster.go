// Package roster matches scored submissions against an external class
// roster and produces the cell writes needed to record marks. It is
// pure: the sheet client applies the writes, the reconciler only plans
// them.
package roster

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/gradescan/internal/model"
)

// entryPattern matches institutional entry numbers of the form
// "2021 CSB 1234" with optional separators, e.g. "2021CSB1234".
var entryPattern = regexp.MustCompile(`(\d{4})\s*[-_/ ]*\s*([A-Za-z]{2,4})\s*[-_/ ]*\s*(\d{2,5})`)

var entrySeparators = strings.NewReplacer(" ", "", "-", "", "_", "", "/", "", ".", "")

// NormalizeEntry canonicalizes an entry number for matching: pattern
// match wins, otherwise separators are stripped and the remainder kept
// if it is long enough to be an identifier. Unusable input returns "".
func NormalizeEntry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "unknown") {
		return ""
	}
	if m := entryPattern.FindStringSubmatch(s); m != nil {
		return m[1] + strings.ToUpper(m[2]) + m[3]
	}
	stripped := strings.ToUpper(entrySeparators.Replace(s))
	if len(stripped) < 6 {
		return ""
	}
	return stripped
}

// Reconcile matches outcomes against roster rows and plans the mark
// writes. marksColumn is the sheet column letter marks go into;
// nameThreshold is the similarity below which a matched row gets a name
// mismatch flag. Mismatches are advisory, the write still happens.
func Reconcile(outcomes []model.SubmissionOutcome, rows []model.RosterRow, marksColumn string, nameThreshold float64) model.ReconcileSummary {
	byEntry := make(map[string]model.RosterRow, len(rows))
	for _, row := range rows {
		key := NormalizeEntry(row.EntryNumber)
		if key == "" {
			continue
		}
		if _, dup := byEntry[key]; !dup {
			byEntry[key] = row
		}
	}

	var summary model.ReconcileSummary
	matched := make(map[string]bool, len(outcomes))

	for _, oc := range outcomes {
		if oc.Result == nil {
			continue
		}
		key := NormalizeEntry(oc.Result.EntryNumber)
		if key == "" {
			summary.NotFoundInRoster = append(summary.NotFoundInRoster, oc.FileName)
			continue
		}
		row, ok := byEntry[key]
		if !ok {
			summary.NotFoundInRoster = append(summary.NotFoundInRoster, key)
			continue
		}
		matched[key] = true

		if row.Name != "" && oc.Result.Name != "" {
			if sim := Similarity(row.Name, oc.Result.Name); sim < nameThreshold {
				summary.NameMismatches = append(summary.NameMismatches, model.NameMismatch{
					EntryNumber: key,
					RosterName:  row.Name,
					ResultName:  oc.Result.Name,
					Similarity:  sim,
					Row:         row.RowIndex,
				})
			}
		}

		summary.Writes = append(summary.Writes, model.CellWrite{
			Row:    row.RowIndex,
			Column: marksColumn,
			Value:  strconv.FormatFloat(oc.CombinedTotal(), 'f', -1, 64),
		})
		summary.Updated++
	}

	for key := range byEntry {
		if !matched[key] {
			summary.NotFoundInResults = append(summary.NotFoundInResults, key)
		}
	}

	sort.Strings(summary.NotFoundInRoster)
	sort.Strings(summary.NotFoundInResults)
	sort.Slice(summary.Writes, func(i, j int) bool { return summary.Writes[i].Row < summary.Writes[j].Row })
	sort.Slice(summary.NameMismatches, func(i, j int) bool {
		return summary.NameMismatches[i].EntryNumber < summary.NameMismatches[j].EntryNumber
	})
	return summary
}

package roster

import "strings"

// Columns holds zero-based column indices located in a roster header
// row. A missing column is -1.
type Columns struct {
	Entry int
	Name  int
	Marks int
}

var rosterAliases = map[string][]string{
	"entry": {"entry", "roll", "enrollment", "enrolment", "registration", "reg no", "student id", "id"},
	"name":  {"name", "student"},
	"marks": {"marks", "mark", "score", "total", "grade", "points"},
}

// DetectColumns finds the entry, name and marks columns in a roster
// header row by alias match. When no header matches, the first column is
// assumed to be the entry number and the second the name.
func DetectColumns(headers []string) Columns {
	cols := Columns{Entry: -1, Name: -1, Marks: -1}
	for idx, h := range headers {
		norm := normalizeName(h)
		switch {
		case cols.Entry < 0 && matchesRosterAlias("entry", norm):
			cols.Entry = idx
		case cols.Name < 0 && matchesRosterAlias("name", norm):
			cols.Name = idx
		case cols.Marks < 0 && matchesRosterAlias("marks", norm):
			cols.Marks = idx
		}
	}
	if cols.Entry < 0 {
		cols.Entry = 0
		if cols.Name < 0 && len(headers) > 1 {
			cols.Name = 1
		}
	}
	return cols
}

// Short aliases like "id" match only as whole tokens so that headers
// such as "Candidate Name" do not trip them.
func matchesRosterAlias(canonical, normalizedHeader string) bool {
	for _, alias := range rosterAliases[canonical] {
		if len(alias) <= 3 {
			for _, tok := range strings.Fields(normalizedHeader) {
				if tok == alias {
					return true
				}
			}
			continue
		}
		if strings.Contains(normalizedHeader, alias) {
			return true
		}
	}
	return false
}

package sheets

import "testing"

func TestParseSheetURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare id", "1AbC-dEf_123", "1AbC-dEf_123"},
		{"edit url", "https://docs.google.com/spreadsheets/d/1AbC-dEf_123/edit", "1AbC-dEf_123"},
		{"with gid", "https://docs.google.com/spreadsheets/d/1AbC-dEf_123/edit#gid=0", "1AbC-dEf_123"},
		{"share url", "https://docs.google.com/spreadsheets/d/1AbC-dEf_123/edit?usp=sharing", "1AbC-dEf_123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseSheetURL(tt.in); got != tt.want {
				t.Errorf("ParseSheetURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		idx  int
		want string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
	}
	for _, tt := range tests {
		if got := ColumnLetter(tt.idx); got != tt.want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", tt.idx, got, tt.want)
		}
	}
}

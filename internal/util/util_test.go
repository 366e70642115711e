package util

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "plain fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding prose", in: "Here you go: {\"a\":1}. Done.", want: `{"a":1}`},
		{name: "whitespace", in: "  \n{\"a\":1}\n  ", want: `{"a":1}`},
		{name: "no object", in: "sorry, I cannot read this image", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "unbalanced", in: "prefix } only", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSON(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSniffMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000000000")
	tests := []struct {
		name     string
		explicit string
		data     []byte
		want     string
	}{
		{name: "explicit wins", explicit: "image/webp", data: png, want: "image/webp"},
		{name: "octet-stream ignored", explicit: "application/octet-stream", data: png, want: "image/png"},
		{name: "pdf magic", data: []byte("%PDF-1.7 rest"), want: "application/pdf"},
		{name: "png detected", data: png, want: "image/png"},
		{name: "empty", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffMIME(tt.explicit, tt.data); got != tt.want {
				t.Errorf("SniffMIME(%q, ...) = %q, want %q", tt.explicit, got, tt.want)
			}
		})
	}
}

func TestMakeDataURL(t *testing.T) {
	got := MakeDataURL("image/png", []byte{1, 2, 3})
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("MakeDataURL prefix = %q", got)
	}
}

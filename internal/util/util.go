package util

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response. Providers often
// wrap the payload in markdown fences or surround it with prose; strip the
// fences and fall back to the outermost {...} span.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// SniffMIME picks a MIME type: explicit value wins, otherwise detect from
// the leading bytes. PDFs and the common image formats are all this
// pipeline ever sees.
func SniffMIME(explicit string, data []byte) string {
	if m := strings.TrimSpace(explicit); m != "" && m != "application/octet-stream" {
		return m
	}
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return "application/pdf"
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

// MakeDataURL encodes image bytes as a data URI for vision APIs that take
// image URLs.
func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Package tesseract implements a local, last-resort extraction provider
// on top of the Tesseract OCR engine. It has no notion of layout, so it
// OCRs the page to text and applies line-pattern parsing.
package tesseract

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/pavelanni/gradescan/internal/extract"
)

type Provider struct {
	languages []string
}

func New(languages ...string) *Provider {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Provider{languages: languages}
}

func (p *Provider) Name() string { return "tesseract" }

// Available always succeeds: the engine is local and needs no
// credentials. A missing native installation surfaces as an extract
// error instead, which the router treats the same way.
func (p *Provider) Available() error { return nil }

var entryNumberRe = regexp.MustCompile(`\b(\d{4}\s*[A-Za-z]{2,4}\s*\d{2,5})\b`)

func (p *Provider) Extract(ctx context.Context, image []byte, mime string, intent extract.Intent) (extract.Fields, error) {
	if mime == "application/pdf" {
		return extract.Fields{}, errors.New("tesseract: PDF input not supported, render to image first")
	}
	text, err := p.recognize(ctx, image)
	if err != nil {
		return extract.Fields{}, err
	}

	switch intent {
	case extract.IntentAnswerKey:
		return keyFromText(text), nil
	case extract.IntentObjectiveSheet:
		return sheetFromText(text), nil
	default:
		return extract.Fields{Text: text}, nil
	}
}

func (p *Provider) recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := gosseract.NewClient()
	defer c.Close()

	if err := c.SetLanguage(p.languages...); err != nil {
		return "", err
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", err
	}
	text, err := c.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func sheetFromText(text string) extract.Fields {
	f := extract.Fields{Answers: map[int]string{}, Text: text}
	for _, line := range strings.Split(text, "\n") {
		if f.EntryNumber == "" {
			if m := entryNumberRe.FindString(line); m != "" {
				f.EntryNumber = strings.ToUpper(strings.Join(strings.Fields(m), ""))
			}
		}
		if q, opt, ok := extract.ParseInlineAnswer(line); ok {
			f.Answers[q] = opt
		}
	}
	return f
}

func keyFromText(text string) extract.Fields {
	var f extract.Fields
	seen := map[int]bool{}
	for _, line := range strings.Split(text, "\n") {
		q, opt, ok := extract.ParseInlineAnswer(line)
		if !ok || seen[q] {
			continue
		}
		seen[q] = true
		f.KeyRows = append(f.KeyRows, extract.KeyRow{Question: q, Option: opt, Marks: 1})
	}
	return f
}

// Package sheets reads class rosters from Google Sheets and writes
// reconciled marks back. The reconciler decides what to write; this
// package only moves cells.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	gsheets "google.golang.org/api/sheets/v4"
	"google.golang.org/api/option"

	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/roster"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// ParseSheetURL extracts the spreadsheet ID from a Google Sheets URL, or
// returns the input unchanged when it is already a bare ID.
func ParseSheetURL(urlOrID string) string {
	if m := spreadsheetIDPattern.FindStringSubmatch(urlOrID); m != nil {
		return m[1]
	}
	return strings.TrimSpace(urlOrID)
}

// Roster is a parsed student list plus the location data needed to
// write marks back to the same sheet.
type Roster struct {
	SpreadsheetID string
	SheetName     string
	Columns       roster.Columns
	MarksColumn   string // column letter, empty when absent
	Rows          []model.RosterRow
}

// Client wraps the Sheets API.
type Client struct {
	svc *gsheets.Service
}

// New creates a Client authenticated by a service account JSON file.
func New(ctx context.Context, credentialsFile string) (*Client, error) {
	if credentialsFile == "" {
		return nil, errors.New("sheets: no credentials file configured")
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ReadRoster reads the first sheet of the spreadsheet and parses it into
// roster rows, auto-detecting the entry, name and marks columns from the
// header. Blank entry cells skip the row.
func (c *Client) ReadRoster(ctx context.Context, urlOrID string) (Roster, error) {
	id := ParseSheetURL(urlOrID)

	meta, err := c.svc.Spreadsheets.Get(id).Context(ctx).Do()
	if err != nil {
		return Roster{}, fmt.Errorf("get spreadsheet %s: %w", id, err)
	}
	if len(meta.Sheets) == 0 {
		return Roster{}, fmt.Errorf("spreadsheet %s has no sheets", id)
	}
	sheetName := meta.Sheets[0].Properties.Title

	resp, err := c.svc.Spreadsheets.Values.Get(id, fmt.Sprintf("'%s'", sheetName)).Context(ctx).Do()
	if err != nil {
		return Roster{}, fmt.Errorf("read sheet %q: %w", sheetName, err)
	}
	if len(resp.Values) < 2 {
		return Roster{}, fmt.Errorf("sheet %q has no data rows", sheetName)
	}

	headers := cellStrings(resp.Values[0])
	cols := roster.DetectColumns(headers)

	r := Roster{
		SpreadsheetID: id,
		SheetName:     sheetName,
		Columns:       cols,
	}
	if cols.Marks >= 0 {
		r.MarksColumn = ColumnLetter(cols.Marks)
	}

	for i, raw := range resp.Values[1:] {
		row := cellStrings(raw)
		entry := cell(row, cols.Entry)
		if entry == "" {
			continue
		}
		rr := model.RosterRow{
			RowIndex:    i + 2, // 1-indexed, after the header
			EntryNumber: entry,
		}
		if cols.Name >= 0 {
			rr.Name = cell(row, cols.Name)
		}
		if cols.Marks >= 0 {
			if v, err := strconv.ParseFloat(cell(row, cols.Marks), 64); err == nil {
				rr.Marks = &v
			}
		}
		r.Rows = append(r.Rows, rr)
	}

	slog.Info("roster read", "spreadsheet", id, "sheet", sheetName, "rows", len(r.Rows))
	return r, nil
}

// ApplyWrites sends the planned cell writes in one batch update. A
// roster without a marks column cannot take writes.
func (c *Client) ApplyWrites(ctx context.Context, r Roster, writes []model.CellWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if r.MarksColumn == "" {
		return errors.New("no marks column detected in the roster, add a header like Marks, Score or Total")
	}

	data := make([]*gsheets.ValueRange, 0, len(writes))
	for _, w := range writes {
		data = append(data, &gsheets.ValueRange{
			Range:  fmt.Sprintf("'%s'!%s%d", r.SheetName, w.Column, w.Row),
			Values: [][]any{{w.Value}},
		})
	}

	_, err := c.svc.Spreadsheets.Values.BatchUpdate(r.SpreadsheetID, &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch update %s: %w", r.SpreadsheetID, err)
	}

	slog.Info("marks written", "spreadsheet", r.SpreadsheetID, "cells", len(writes))
	return nil
}

// ColumnLetter converts a zero-based column index to its A1 letter
// ("A", "B", ... "AA").
func ColumnLetter(idx int) string {
	letters := ""
	for idx >= 0 {
		letters = string(rune('A'+idx%26)) + letters
		idx = idx/26 - 1
	}
	return letters
}

func cellStrings(raw []any) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

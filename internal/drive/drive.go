// Package drive fetches answer sheets and answer keys from Google Drive
// folders. Authentication is a service account JSON file or, for public
// folders, a plain API key.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/pavelanni/gradescan/internal/model"
)

const (
	mimeGoogleSheet = "application/vnd.google-apps.spreadsheet"
	mimeGoogleDoc   = "application/vnd.google-apps.document"
)

// answerKeyPatterns identify key files by name so one folder can hold
// the key next to the student sheets.
var answerKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)answer[_\s-]*key`),
	regexp.MustCompile(`(?i)answer[_\s-]*sheet[_\s-]*key`),
	regexp.MustCompile(`(?i)correct[_\s-]*answers`),
	regexp.MustCompile(`(?i)marking[_\s-]*scheme`),
	regexp.MustCompile(`(?i)solution[_\s-]*key`),
}

// Client wraps the Drive API for folder listing and file download.
type Client struct {
	svc *drive.Service
}

// New creates a Client. credentialsFile takes priority; apiKey is the
// public-folder fallback. At least one must be set.
func New(ctx context.Context, credentialsFile, apiKey string) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile), option.WithScopes(drive.DriveReadonlyScope))
	case apiKey != "":
		opts = append(opts, option.WithAPIKey(apiKey))
		slog.Info("drive client in public access mode")
	default:
		return nil, errors.New("drive: no credentials file and no API key configured")
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListFolder returns every non-trashed file in the folder, following
// pagination. mimePrefix, when non-empty, filters by MIME type prefix
// (e.g. "image/").
func (c *Client) ListFolder(ctx context.Context, folderID, mimePrefix string) ([]model.FileInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	if mimePrefix != "" {
		query += fmt.Sprintf(" and mimeType contains '%s'", mimePrefix)
	}

	var files []model.FileInfo
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Q(query).
			PageSize(100).
			Fields("nextPageToken, files(id, name, mimeType)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", folderID, err)
		}
		for _, f := range resp.Files {
			files = append(files, model.FileInfo{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return files, nil
}

// Download fetches the raw bytes of a regular Drive file. Google
// Workspace files need DownloadKey's export path instead.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	return data, nil
}

func (c *Client) export(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	resp, err := c.svc.Files.Export(fileID, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("export %s as %s: %w", fileID, mimeType, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// DownloadKey fetches an answer key file, exporting Google Sheets as CSV
// and Google Docs as PDF. The returned filename carries the effective
// extension so the key builder routes it to the right parser.
func (c *Client) DownloadKey(ctx context.Context, f model.FileInfo) (data []byte, filename, mimeType string, err error) {
	switch f.MimeType {
	case mimeGoogleSheet:
		data, err = c.export(ctx, f.ID, "text/csv")
		return data, f.Name + ".csv", "text/csv", err
	case mimeGoogleDoc:
		data, err = c.export(ctx, f.ID, "application/pdf")
		return data, f.Name + ".pdf", "application/pdf", err
	default:
		data, err = c.Download(ctx, f.ID)
		return data, f.Name, f.MimeType, err
	}
}

// SplitAnswerKey partitions a folder listing into answer key files and
// student sheet files by filename pattern.
func SplitAnswerKey(files []model.FileInfo) (keys, sheets []model.FileInfo) {
	for _, f := range files {
		if isAnswerKeyName(f.Name) {
			keys = append(keys, f)
		} else {
			sheets = append(sheets, f)
		}
	}
	return keys, sheets
}

func isAnswerKeyName(name string) bool {
	for _, p := range answerKeyPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// ParseFolderURL extracts the folder ID from a Drive folder URL, or
// returns the input unchanged when it is already a bare ID.
func ParseFolderURL(urlOrID string) string {
	if !strings.Contains(urlOrID, "drive.google.com") {
		return strings.TrimSpace(urlOrID)
	}
	_, after, found := strings.Cut(urlOrID, "/folders/")
	if !found {
		return strings.TrimSpace(urlOrID)
	}
	if id, _, cut := strings.Cut(after, "?"); cut {
		return id
	}
	return strings.TrimSuffix(after, "/")
}

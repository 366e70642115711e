// Package handler exposes the evaluation service as a JSON API.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradescan/internal/answerkey"
	"github.com/pavelanni/gradescan/internal/drive"
	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/grade"
	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/pipeline"
	"github.com/pavelanni/gradescan/internal/roster"
	"github.com/pavelanni/gradescan/internal/sheets"
	"github.com/pavelanni/gradescan/internal/store"
)

const maxUploadBytes = 64 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	keys    *answerkey.Builder
	router  *extract.Router
	grader  *grade.Grader
	rubrics []model.Rubric
	config  model.PipelineConfig

	gdrive        *drive.Client
	gsheets       *sheets.Client
	nameThreshold float64

	mu   sync.Mutex
	jobs map[string]*pipeline.Job
}

// New creates a new Handler.
func New(s *store.Store, keys *answerkey.Builder, router *extract.Router, grader *grade.Grader, rubrics []model.Rubric, cfg model.PipelineConfig) *Handler {
	return &Handler{
		store:   s,
		keys:    keys,
		router:  router,
		grader:  grader,
		rubrics: rubrics,
		config:  cfg,
		jobs:    make(map[string]*pipeline.Job),
	}
}

// EnableGoogle wires the Drive and Sheets clients so that evaluation can
// pull sheets from a Drive folder and export can write marks back to a
// roster spreadsheet. Either client may be nil; the matching routes then
// report the integration as unconfigured.
func (h *Handler) EnableGoogle(d *drive.Client, s *sheets.Client, nameThreshold float64) {
	h.gdrive = d
	h.gsheets = s
	h.nameThreshold = nameThreshold
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/status", h.handleStatus)
	r.Post("/api/answer-key", h.handleUploadKey)
	r.Get("/api/answer-key/{keyID}", h.handleGetKey)
	r.Post("/api/evaluate", h.handleEvaluate)
	r.Post("/api/export", h.handleExport)
	r.Get("/api/jobs/{jobID}", h.handleJobStatus)
	r.Get("/api/results/{jobID}", h.handleResults)
	r.Get("/api/results/entry/{entryNumber}", h.handleResultByEntry)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":        h.router.Status(),
		"max_concurrent":   h.config.MaxConcurrent,
		"negative_marking": h.config.NegativeMarking,
	})
}

func (h *Handler) handleUploadKey(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing form file \"file\""))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	key, warnings, err := h.keys.Build(r.Context(), data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	keyID := r.FormValue("key_id")
	if keyID == "" {
		keyID = newID("key")
	}
	if err := h.store.SaveKey(r.Context(), keyID, key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"key_id":   keyID,
		"key":      key,
		"warnings": warnings,
	})
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.store.GetKey(r.Context(), chi.URLParam(r, "keyID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}

	var (
		subs      []pipeline.Submission
		folderKey *model.AnswerKey
	)
	if folder := r.FormValue("drive_folder"); folder != "" {
		if h.gdrive == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("drive integration not configured"))
			return
		}
		var err error
		subs, folderKey, err = h.collectDriveSubmissions(r.Context(), folder)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	} else {
		var files []*multipart.FileHeader
		if r.MultipartForm != nil {
			files = r.MultipartForm.File["sheets"]
		}
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("no sheet files uploaded under \"sheets\" and no drive_folder given"))
			return
		}
		var err error
		subs, err = h.collectSubmissions(r.Context(), files)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if len(subs) == 0 {
		writeError(w, http.StatusConflict, errors.New("all sheets were already processed"))
		return
	}

	key, keyID, err := h.resolveKey(r.Context(), r.FormValue("key_id"), folderKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	jobID := newID("job")
	job := pipeline.NewJob(jobID, subs)
	h.mu.Lock()
	h.jobs[jobID] = job
	h.mu.Unlock()

	runner := pipeline.NewRunner(h.router, h.grader, key, h.rubrics, h.config.MaxConcurrent)
	go func() {
		ctx := context.Background()
		if err := runner.Run(ctx, job, subs); err != nil {
			slog.Error("batch aborted", "job", jobID, "error", err)
		}
		if err := h.store.SaveBatch(ctx, jobID, keyID, job.Snapshot()); err != nil {
			slog.Error("persist batch", "job", jobID, "error", err)
		}
		for _, sub := range subs {
			if err := h.store.MarkProcessed(ctx, sub.ID, sub.FileName, jobID); err != nil {
				slog.Error("mark processed", "job", jobID, "file", sub.FileName, "error", err)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"key_id":      keyID,
		"submissions": len(subs),
	})
}

// collectSubmissions reads the uploaded sheets, skipping files whose
// content was processed in an earlier job. The content hash doubles as
// the submission ID.
func (h *Handler) collectSubmissions(ctx context.Context, files []*multipart.FileHeader) ([]pipeline.Submission, error) {
	var subs []pipeline.Submission
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		seen, err := h.store.IsProcessed(ctx, hash)
		if err != nil {
			return nil, err
		}
		if seen {
			slog.Info("skipping already processed sheet", "file", fh.Filename)
			continue
		}

		subs = append(subs, pipeline.Submission{
			ID:       hash,
			FileName: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return subs, nil
}

// resolveKey picks the answer key for a batch. An explicit key_id wins,
// then a key found alongside the sheets in the Drive folder, then the
// most recently stored key.
func (h *Handler) resolveKey(ctx context.Context, keyID string, folderKey *model.AnswerKey) (model.AnswerKey, string, error) {
	if keyID != "" {
		key, err := h.store.GetKey(ctx, keyID)
		return key, keyID, err
	}
	if folderKey != nil {
		keyID = "drive-" + folderKey.Metadata.SourceFile
		if err := h.store.SaveKey(ctx, keyID, *folderKey); err != nil {
			return model.AnswerKey{}, "", err
		}
		return *folderKey, keyID, nil
	}
	keyID, err := h.store.LatestKeyID(ctx)
	if err != nil {
		return model.AnswerKey{}, "", errors.New("no key_id given and no stored answer key")
	}
	key, err := h.store.GetKey(ctx, keyID)
	return key, keyID, err
}

// collectDriveSubmissions lists a Drive folder, builds an answer key from
// a key file found there if any, and downloads the remaining sheets,
// skipping content processed in an earlier job.
func (h *Handler) collectDriveSubmissions(ctx context.Context, folder string) ([]pipeline.Submission, *model.AnswerKey, error) {
	files, err := h.gdrive.ListFolder(ctx, drive.ParseFolderURL(folder), "")
	if err != nil {
		return nil, nil, err
	}
	keyFiles, sheetFiles := drive.SplitAnswerKey(files)

	var key *model.AnswerKey
	if len(keyFiles) > 0 {
		data, name, mime, err := h.gdrive.DownloadKey(ctx, keyFiles[0])
		if err != nil {
			return nil, nil, fmt.Errorf("download answer key: %w", err)
		}
		built, warnings, err := h.keys.Build(ctx, data, name, mime)
		if err != nil {
			return nil, nil, fmt.Errorf("parse answer key %s: %w", name, err)
		}
		for _, warn := range warnings {
			slog.Warn("answer key", "warning", warn)
		}
		key = &built
	}

	var subs []pipeline.Submission
	for _, f := range sheetFiles {
		data, err := h.gdrive.Download(ctx, f.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("download %s: %w", f.Name, err)
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		seen, err := h.store.IsProcessed(ctx, hash)
		if err != nil {
			return nil, nil, err
		}
		if seen {
			slog.Info("skipping already processed sheet", "file", f.Name)
			continue
		}
		subs = append(subs, pipeline.Submission{
			ID:       hash,
			FileName: f.Name,
			MimeType: f.MimeType,
			Data:     data,
		})
	}
	return subs, key, nil
}

type exportRequest struct {
	JobID    string `json:"job_id"`
	SheetURL string `json:"sheet_url"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.gsheets == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sheets integration not configured"))
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.JobID == "" || req.SheetURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_id and sheet_url are required"))
		return
	}

	outcomes, err := h.store.ListOutcomes(r.Context(), req.JobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(outcomes) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no stored results for job %q", req.JobID))
		return
	}

	ros, err := h.gsheets.ReadRoster(r.Context(), req.SheetURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	summary := roster.Reconcile(outcomes, ros.Rows, ros.MarksColumn, h.nameThreshold)
	if err := h.gsheets.ApplyWrites(r.Context(), ros, summary.Writes); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	h.mu.Lock()
	job, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	outcomes, err := h.store.ListOutcomes(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(outcomes) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no stored results for job %q", jobID))
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (h *Handler) handleResultByEntry(w http.ResponseWriter, r *http.Request) {
	entry := chi.URLParam(r, "entryNumber")
	oc, err := h.store.GetOutcomeByEntry(r.Context(), entry)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, oc)
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%08x%08x", prefix, rand.Uint32(), rand.Uint32())
}

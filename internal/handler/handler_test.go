package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradescan/internal/answerkey"
	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/store"
)

// stubProvider extracts a fixed sheet for any image.
type stubProvider struct {
	fields extract.Fields
	err    error
}

func (p *stubProvider) Name() string     { return "stub" }
func (p *stubProvider) Available() error { return nil }
func (p *stubProvider) Extract(ctx context.Context, image []byte, mime string, intent extract.Intent) (extract.Fields, error) {
	if p.err != nil {
		return extract.Fields{}, p.err
	}
	return p.fields, nil
}

func newTestServer(t *testing.T, provider extract.Provider) *httptest.Server {
	t.Helper()

	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	router := extract.NewRouter(time.Second, provider)
	h := New(s, answerkey.NewBuilder(router, 0), router, nil, nil, model.PipelineConfig{MaxConcurrent: 2})

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte, fileField string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postMultipart(t *testing.T, url string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Providers []extract.ProviderStatus `json:"providers"`
	}
	decodeBody(t, resp, &body)
	if len(body.Providers) != 1 || body.Providers[0].Name != "stub" || !body.Providers[0].Available {
		t.Errorf("providers = %+v", body.Providers)
	}
}

func TestUploadAndGetKey(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	body, ct := multipartBody(t,
		map[string]string{"key_id": "exam1"},
		map[string][]byte{"key.csv": []byte("question,answer,marks\n1,A,2\n2,B,2\n")},
		"file")
	resp := postMultipart(t, srv.URL+"/api/answer-key", body, ct)
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, raw)
	}

	getResp, err := http.Get(srv.URL + "/api/answer-key/exam1")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	var key model.AnswerKey
	decodeBody(t, getResp, &key)
	if key.TotalQuestions != 2 || key.Answers[1].CorrectOption != "A" {
		t.Errorf("key = %+v", key)
	}
}

func TestGetKeyNotFound(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	resp, err := http.Get(srv.URL + "/api/answer-key/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadKeyRejectsUnparseable(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	body, ct := multipartBody(t, nil,
		map[string][]byte{"key.txt": []byte("no answers in here\n")}, "file")
	resp := postMultipart(t, srv.URL+"/api/answer-key", body, ct)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestEvaluateFlow(t *testing.T) {
	provider := &stubProvider{fields: extract.Fields{
		EntryNumber: "2021CSB1234",
		Answers:     map[int]string{1: "A", 2: "C"},
	}}
	srv := newTestServer(t, provider)

	keyBody, ct := multipartBody(t,
		map[string]string{"key_id": "exam1"},
		map[string][]byte{"key.csv": []byte("question,answer,marks\n1,A,2\n2,B,2\n")},
		"file")
	if resp := postMultipart(t, srv.URL+"/api/answer-key", keyBody, ct); resp.StatusCode != http.StatusCreated {
		t.Fatalf("key upload status = %d", resp.StatusCode)
	}

	evalBody, ct := multipartBody(t,
		map[string]string{"key_id": "exam1"},
		map[string][]byte{"sheet1.jpg": []byte("fake image bytes")},
		"sheets")
	resp := postMultipart(t, srv.URL+"/api/evaluate", evalBody, ct)
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("evaluate status = %d: %s", resp.StatusCode, raw)
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &accepted)
	if accepted.JobID == "" {
		t.Fatal("no job_id in response")
	}

	summary := pollJob(t, srv.URL+"/api/jobs/"+accepted.JobID)
	if summary.Done != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	oc := summary.Outcomes[0]
	if oc.Result == nil || oc.Result.TotalScore != 2 {
		t.Errorf("outcome = %+v, want total 2 (one right, one wrong)", oc)
	}
}

func pollJob(t *testing.T, url string) model.BatchSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		var summary model.BatchSummary
		decodeBody(t, resp, &summary)
		resp.Body.Close()
		if summary.Finished {
			return summary
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", summary)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestEvaluateWithoutKey(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	body, ct := multipartBody(t, nil,
		map[string][]byte{"sheet1.jpg": []byte("img")}, "sheets")
	resp := postMultipart(t, srv.URL+"/api/evaluate", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEvaluateSkipsProcessedFiles(t *testing.T) {
	provider := &stubProvider{fields: extract.Fields{
		EntryNumber: "2021CSB1234",
		Answers:     map[int]string{1: "A"},
	}}
	srv := newTestServer(t, provider)

	keyBody, ct := multipartBody(t,
		map[string]string{"key_id": "exam1"},
		map[string][]byte{"key.csv": []byte("1,A\n")}, "file")
	postMultipart(t, srv.URL+"/api/answer-key", keyBody, ct)

	sheet := []byte("same image bytes")
	evalBody, ct := multipartBody(t, map[string]string{"key_id": "exam1"},
		map[string][]byte{"sheet1.jpg": sheet}, "sheets")
	resp := postMultipart(t, srv.URL+"/api/evaluate", evalBody, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first evaluate status = %d", resp.StatusCode)
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &accepted)
	pollJob(t, srv.URL+"/api/jobs/"+accepted.JobID)

	// Hash bookkeeping is written after the job flips to finished, so
	// allow a little settling time before insisting on the conflict.
	deadline := time.Now().Add(5 * time.Second)
	for {
		retryBody, ct := multipartBody(t, map[string]string{"key_id": "exam1"},
			map[string][]byte{"sheet1.jpg": sheet}, "sheets")
		retry := postMultipart(t, srv.URL+"/api/evaluate", retryBody, ct)
		if retry.StatusCode == http.StatusConflict {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("duplicate evaluate status = %d, want 409", retry.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("unused")})

	resp, err := http.Get(srv.URL + "/api/jobs/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEvaluateDriveFolderUnconfigured(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("unused")})

	resp, err := http.PostForm(srv.URL+"/api/evaluate",
		url.Values{"drive_folder": {"https://drive.google.com/drive/folders/abc123"}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestExportUnconfigured(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("unused")})

	body := `{"job_id":"job-1","sheet_url":"https://docs.google.com/spreadsheets/d/abc123/edit"}`
	resp, err := http.Post(srv.URL+"/api/export", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestResolveKeyFromDriveFolder(t *testing.T) {
	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	router := extract.NewRouter(time.Second, &stubProvider{})
	h := New(s, answerkey.NewBuilder(router, 0), router, nil, nil, model.PipelineConfig{MaxConcurrent: 1})

	folderKey := model.AnswerKey{
		TotalQuestions: 1,
		Answers:        map[int]model.AnswerKeyEntry{1: {CorrectOption: "A", Marks: 2}},
		Metadata:       model.KeyMetadata{SourceFile: "answer_key.csv"},
	}
	key, keyID, err := h.resolveKey(context.Background(), "", &folderKey)
	if err != nil {
		t.Fatalf("resolveKey: %v", err)
	}
	if keyID != "drive-answer_key.csv" {
		t.Errorf("keyID = %q, want drive-answer_key.csv", keyID)
	}
	if key.TotalQuestions != 1 {
		t.Errorf("key = %+v", key)
	}

	stored, err := s.GetKey(context.Background(), keyID)
	if err != nil {
		t.Fatalf("GetKey(%q): %v", keyID, err)
	}
	if stored.Answers[1].CorrectOption != "A" {
		t.Errorf("stored key = %+v", stored)
	}
}

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/gradescan/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleKey() model.AnswerKey {
	return model.AnswerKey{
		TotalQuestions: 2,
		Answers: map[int]model.AnswerKeyEntry{
			1: {CorrectOption: "A", Marks: 2},
			2: {CorrectOption: "B", Marks: 1},
		},
		NegativeMarking: 0.5,
		Metadata:        model.KeyMetadata{SourceFile: "key.csv"},
	}
}

func TestSaveAndGetKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	got, err := s.GetKey(ctx, "exam1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.TotalQuestions != 2 || got.NegativeMarking != 0.5 {
		t.Errorf("key = %+v", got)
	}
	if got.Answers[1].CorrectOption != "A" || got.Answers[1].Marks != 2 {
		t.Errorf("q1 = %+v", got.Answers[1])
	}
}

func TestSaveKeyReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}
	updated := sampleKey()
	updated.NegativeMarking = 1
	if err := s.SaveKey(ctx, "exam1", updated); err != nil {
		t.Fatalf("second SaveKey: %v", err)
	}

	got, err := s.GetKey(ctx, "exam1")
	if err != nil {
		t.Fatal(err)
	}
	if got.NegativeMarking != 1 {
		t.Errorf("NegativeMarking = %v, want updated value 1", got.NegativeMarking)
	}
}

func TestGetKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetKey(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestKeyID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestKeyID(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store err = %v, want ErrNotFound", err)
	}

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}
	id, err := s.LatestKeyID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "exam1" {
		t.Errorf("LatestKeyID = %q, want exam1", id)
	}
}

func sampleOutcome(id, entry string, total float64) model.SubmissionOutcome {
	return model.SubmissionOutcome{
		ID:       id,
		FileName: id + ".jpg",
		Status:   model.SubmissionDone,
		Provider: "gemini",
		Result: &model.ScoreResult{
			EntryNumber: entry,
			TotalScore:  total,
			MaxScore:    10,
		},
	}
}

func TestSaveAndListOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}

	summary := model.BatchSummary{
		Outcomes: []model.SubmissionOutcome{
			sampleOutcome("s1", "2021CSB1234", 7),
			sampleOutcome("s2", "2021CSB5678", 4),
			{ID: "s3", FileName: "blurry.jpg", Status: model.SubmissionFailed, Reason: "extraction: exhausted"},
		},
	}
	if err := s.SaveBatch(ctx, "job1", "exam1", summary); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	outcomes, err := s.ListOutcomes(ctx, "job1")
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].Result == nil || outcomes[0].Result.TotalScore != 7 {
		t.Errorf("s1 = %+v", outcomes[0])
	}
	if outcomes[2].Status != model.SubmissionFailed || outcomes[2].Reason == "" {
		t.Errorf("s3 = %+v", outcomes[2])
	}
}

func TestGetOutcomeByEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOutcome(ctx, "job1", "exam1", sampleOutcome("s1", "2021CSB1234", 7)); err != nil {
		t.Fatal(err)
	}

	oc, err := s.GetOutcomeByEntry(ctx, "2021CSB1234")
	if err != nil {
		t.Fatal(err)
	}
	if oc.ID != "s1" {
		t.Errorf("outcome = %+v", oc)
	}

	if _, err := s.GetOutcomeByEntry(ctx, "2099XYZ0000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessedFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.IsProcessed(ctx, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("fresh hash reported as processed")
	}

	if err := s.MarkProcessed(ctx, "hash1", "sheet.jpg", "job1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	// Re-marking the same hash must not error.
	if err := s.MarkProcessed(ctx, "hash1", "sheet.jpg", "job2"); err != nil {
		t.Fatalf("second MarkProcessed: %v", err)
	}

	seen, err = s.IsProcessed(ctx, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("marked hash not reported as processed")
	}
}

func TestSaveOutcomeMovesToNewJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOutcome(ctx, "job1", "exam1", sampleOutcome("s1", "2021CSB1234", 7)); err != nil {
		t.Fatal(err)
	}

	// The same sheet re-evaluated in a later run: the row follows the new job.
	if err := s.SaveKey(ctx, "exam2", sampleKey()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOutcome(ctx, "job2", "exam2", sampleOutcome("s1", "2021CSB1234", 9)); err != nil {
		t.Fatal(err)
	}

	outcomes, err := s.ListOutcomes(ctx, "job2")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || outcomes[0].Result == nil || outcomes[0].Result.TotalScore != 9 {
		t.Fatalf("job2 outcomes = %+v, want one with total 9", outcomes)
	}

	stale, err := s.ListOutcomes(ctx, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("job1 still has %d outcomes, want 0", len(stale))
	}
}

func TestGetOutcomeByEntryNormalizesFormatting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveKey(ctx, "exam1", sampleKey()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOutcome(ctx, "job1", "exam1", sampleOutcome("s1", "2021-csb-1234", 7)); err != nil {
		t.Fatal(err)
	}

	for _, query := range []string{"2021CSB1234", "2021 csb 1234", "2021-CSB-1234"} {
		oc, err := s.GetOutcomeByEntry(ctx, query)
		if err != nil {
			t.Fatalf("GetOutcomeByEntry(%q): %v", query, err)
		}
		if oc.ID != "s1" {
			t.Errorf("GetOutcomeByEntry(%q) = %+v", query, oc)
		}
	}
}

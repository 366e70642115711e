// Package pipeline runs batches of answer sheets through extraction,
// scoring and subjective grading with bounded concurrency. Submissions
// are isolated: one bad sheet fails alone, the batch keeps going.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/grade"
	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/score"
	"github.com/pavelanni/gradescan/internal/util"
)

// Submission is one answer sheet queued for evaluation.
type Submission struct {
	ID       string
	FileName string
	MimeType string
	Data     []byte
}

// Job tracks the progress of one batch. Safe for concurrent use; the
// HTTP layer polls Snapshot while the runner mutates outcomes.
type Job struct {
	ID        string
	startedAt time.Time

	mu       sync.Mutex
	outcomes []model.SubmissionOutcome
	finished bool
}

// NewJob creates a job with every submission pending.
func NewJob(id string, subs []Submission) *Job {
	outcomes := make([]model.SubmissionOutcome, len(subs))
	for i, s := range subs {
		outcomes[i] = model.SubmissionOutcome{
			ID:       s.ID,
			FileName: s.FileName,
			Status:   model.SubmissionPending,
		}
	}
	return &Job{ID: id, startedAt: time.Now(), outcomes: outcomes}
}

func (j *Job) setProcessing(i int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[i].Status = model.SubmissionProcessing
}

func (j *Job) setDone(i int, provider string, result *model.ScoreResult, subjective []model.SubjectiveGrade) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[i].Status = model.SubmissionDone
	j.outcomes[i].Provider = provider
	j.outcomes[i].Result = result
	j.outcomes[i].Subjective = subjective
}

func (j *Job) setFailed(i int, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[i].Status = model.SubmissionFailed
	j.outcomes[i].Reason = reason
}

func (j *Job) markFinished() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = true
}

// Snapshot returns a copy of the batch state for status reporting.
func (j *Job) Snapshot() model.BatchSummary {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := model.BatchSummary{
		Total:     len(j.outcomes),
		Outcomes:  make([]model.SubmissionOutcome, len(j.outcomes)),
		StartedAt: j.startedAt,
		Finished:  j.finished,
	}
	copy(s.Outcomes, j.outcomes)
	for _, oc := range j.outcomes {
		switch oc.Status {
		case model.SubmissionDone:
			s.Done++
		case model.SubmissionFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// Runner evaluates batches against a fixed answer key and rubric set.
type Runner struct {
	router  *extract.Router
	grader  *grade.Grader
	key     model.AnswerKey
	rubrics []model.Rubric
	limit   int
}

// NewRunner creates a Runner. grader may be nil when the exam has no
// subjective section; limit caps concurrently processed submissions.
func NewRunner(router *extract.Router, grader *grade.Grader, key model.AnswerKey, rubrics []model.Rubric, limit int) *Runner {
	if limit <= 0 {
		limit = 4
	}
	return &Runner{router: router, grader: grader, key: key, rubrics: rubrics, limit: limit}
}

// Run processes every submission and fills in the job's outcomes. The
// returned error is non-nil only on context cancellation; per-submission
// failures are recorded on the job instead.
func (r *Runner) Run(ctx context.Context, job *Job, subs []Submission) error {
	defer job.markFinished()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for i, sub := range subs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			job.setProcessing(i)
			r.processOne(gctx, job, i, sub)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) processOne(ctx context.Context, job *Job, i int, sub Submission) {
	start := time.Now()
	mime := util.SniffMIME(sub.MimeType, sub.Data)

	ex, err := r.router.Extract(ctx, sub.Data, mime, extract.IntentObjectiveSheet)
	if err != nil {
		job.setFailed(i, fmt.Sprintf("extraction: %v", err))
		slog.Warn("submission failed", "job", job.ID, "file", sub.FileName, "error", err)
		return
	}

	sheet := model.StudentSheet{
		EntryNumber: ex.EntryNumber,
		Name:        ex.Name,
		Answers:     ex.Answers,
	}
	result := score.Score(r.key, sheet)

	var subjective []model.SubjectiveGrade
	if r.grader != nil && len(r.rubrics) > 0 {
		subjective, err = r.grader.GradeAll(ctx, ex.Answers, r.rubrics)
		if err != nil {
			job.setFailed(i, fmt.Sprintf("grading: %v", err))
			return
		}
	}

	job.setDone(i, ex.ProviderUsed, &result, subjective)
	slog.Info("submission evaluated",
		"job", job.ID,
		"file", sub.FileName,
		"entry", result.EntryNumber,
		"score", result.TotalScore,
		"provider", ex.ProviderUsed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

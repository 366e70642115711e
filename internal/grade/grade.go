// Package grade scores free-text answers against a rubric using an LLM,
// with failover across configured models. Grading never fails a
// submission: when every model is unusable the question is marked
// unscored and flagged for manual review.
package grade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/util"
)

// Model is a text completion backend. Available reports whether the
// model can be tried at all (credentials present); Complete runs one
// system+user exchange and returns the raw response text.
type Model interface {
	Name() string
	Available() error
	Complete(ctx context.Context, system, user string) (string, error)
}

// rawGrade is the JSON shape the grading prompt asks for.
type rawGrade struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Grader grades subjective answers, trying models in order.
type Grader struct {
	models  []Model
	timeout time.Duration
}

// NewGrader creates a Grader. Models are tried in the given order with
// timeout applied per attempt.
func NewGrader(timeout time.Duration, models ...Model) *Grader {
	return &Grader{models: models, timeout: timeout}
}

// Grade scores answerText against the rubric. The returned grade always
// has MaxMarks set; Score is clamped to [0, MaxMarks]. When no model
// produces a usable result the grade comes back with Unscored set and
// Score zero. Only parent context cancellation is returned as an error.
func (g *Grader) Grade(ctx context.Context, answerText string, r model.Rubric) (model.SubjectiveGrade, error) {
	grade := model.SubjectiveGrade{
		Question: r.Question,
		MaxMarks: r.MaxMarks,
	}

	if strings.TrimSpace(answerText) == "" {
		grade.Unscored = true
		grade.Feedback = "no answer text extracted for this question"
		return grade, nil
	}

	system := buildGradingPrompt(r)

	for _, m := range g.models {
		if err := ctx.Err(); err != nil {
			return grade, err
		}
		if err := m.Available(); err != nil {
			slog.Debug("grading model skipped", "model", m.Name(), "reason", err)
			continue
		}

		mctx, cancel := context.WithTimeout(ctx, g.timeout)
		raw, err := m.Complete(mctx, system, answerText)
		cancel()
		if err != nil {
			slog.Warn("grading model failed", "model", m.Name(), "question", r.Question, "error", err)
			continue
		}

		parsed, err := parseGrade(raw)
		if err != nil {
			slog.Warn("unparseable grading response", "model", m.Name(), "question", r.Question, "error", err)
			continue
		}

		grade.Score = clamp(parsed.Score, 0, r.MaxMarks)
		grade.Feedback = parsed.Feedback
		if grade.Score != parsed.Score {
			slog.Warn("clamped out-of-range score",
				"model", m.Name(), "question", r.Question,
				"raw_score", parsed.Score, "score", grade.Score)
		}
		return grade, nil
	}

	grade.Unscored = true
	grade.Feedback = "automatic grading unavailable, needs manual review"
	slog.Warn("all grading models exhausted", "question", r.Question)
	return grade, nil
}

// GradeAll grades one answer per rubric, keyed by question number.
// Missing answers are graded as empty text.
func (g *Grader) GradeAll(ctx context.Context, answers map[int]string, rubrics []model.Rubric) ([]model.SubjectiveGrade, error) {
	grades := make([]model.SubjectiveGrade, 0, len(rubrics))
	for _, r := range rubrics {
		sg, err := g.Grade(ctx, answers[r.Question], r)
		if err != nil {
			return grades, err
		}
		grades = append(grades, sg)
	}
	return grades, nil
}

func parseGrade(raw string) (rawGrade, error) {
	body, err := util.ExtractJSON(raw)
	if err != nil {
		return rawGrade{}, err
	}
	var rg rawGrade
	if err := json.Unmarshal([]byte(body), &rg); err != nil {
		return rawGrade{}, fmt.Errorf("parse grading response: %w", err)
	}
	return rg, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func buildGradingPrompt(r model.Rubric) string {
	var sb strings.Builder
	sb.WriteString("You are an exam grader. Grade the student's answer to the following question.\n\n")
	sb.WriteString(fmt.Sprintf("QUESTION %d", r.Question))
	if r.IdealAnswer != "" {
		sb.WriteString("\n\nIDEAL ANSWER (not shown to student):\n" + r.IdealAnswer)
	}
	if r.Guidance != "" {
		sb.WriteString("\n\nGRADING GUIDANCE:\n" + r.Guidance)
	}
	sb.WriteString(fmt.Sprintf("\n\nMAX MARKS: %g\n\n", r.MaxMarks))
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Grade for correctness and completeness against the ideal answer.\n")
	sb.WriteString("- Award partial credit for partially correct answers.\n")
	sb.WriteString("- Ignore spelling and handwriting artifacts from OCR.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <number 0 to max_marks>, "feedback": "<one or two sentences>"}`)
	sb.WriteString("\n")
	return sb.String()
}

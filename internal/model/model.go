package model

import (
	"time"
)

// MultipleMark is the sentinel an extraction provider returns when more
// than one option is marked for a question.
const MultipleMark = "MULTIPLE"

// Outcome classifies a single question in a score breakdown.
type Outcome string

const (
	OutcomeCorrect     Outcome = "correct"
	OutcomeIncorrect   Outcome = "incorrect"
	OutcomeUnattempted Outcome = "unattempted"
	OutcomeMultiple    Outcome = "multiple"
	OutcomeUnscored    Outcome = "unscored"
)

// AnswerKeyEntry holds the correct option and mark weight for one question.
type AnswerKeyEntry struct {
	CorrectOption string  `json:"correct_option"`
	Marks         float64 `json:"marks"`
}

// KeyMetadata records where an answer key came from.
type KeyMetadata struct {
	SourceFile  string    `json:"source_file"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// AnswerKey is the canonical key for one exam. It is built once per exam
// and shared read-only by all scoring calls.
type AnswerKey struct {
	TotalQuestions  int                    `json:"total_questions"`
	Answers         map[int]AnswerKeyEntry `json:"answers"`
	NegativeMarking float64                `json:"negative_marking"`
	Metadata        KeyMetadata            `json:"metadata"`
}

// MaxScore is the sum of all mark weights in the key.
func (k AnswerKey) MaxScore() float64 {
	var sum float64
	for _, e := range k.Answers {
		sum += e.Marks
	}
	return sum
}

// StudentSheet holds the answers extracted from one scanned sheet.
// Questions the student left blank are absent from Answers; that absence
// is the "unattempted" signal the scoring engine consumes.
type StudentSheet struct {
	EntryNumber string         `json:"entry_number"`
	Name        string         `json:"name,omitempty"`
	Answers     map[int]string `json:"answers"`
}

// QuestionResult is one line of a score breakdown.
type QuestionResult struct {
	Question int     `json:"question"`
	Marked   string  `json:"marked,omitempty"`
	Correct  string  `json:"correct"`
	Outcome  Outcome `json:"outcome"`
	Points   float64 `json:"points"`
}

// ScoreResult is the objective score for one student sheet. It is created
// by the scoring engine and never mutated afterward; corrections require
// re-scoring.
type ScoreResult struct {
	EntryNumber       string           `json:"entry_number"`
	Name              string           `json:"name,omitempty"`
	TotalScore        float64          `json:"total_score"`
	MaxScore          float64          `json:"max_score"`
	Correct           int              `json:"correct"`
	Incorrect         int              `json:"incorrect"`
	Unattempted       int              `json:"unattempted"`
	NegativeDeduction float64          `json:"negative_deduction"`
	Details           []QuestionResult `json:"details"`
}

// Rubric describes how to grade one subjective question.
type Rubric struct {
	Question    int     `json:"question"`
	IdealAnswer string  `json:"ideal_answer"`
	Guidance    string  `json:"guidance"`
	MaxMarks    float64 `json:"max_marks"`
}

// SubjectiveGrade is the LLM-assisted grade for one free-text answer.
// Unscored marks a soft failure: every configured model was tried and
// none produced a parseable grade. The submission still completes.
type SubjectiveGrade struct {
	Question int     `json:"question"`
	Score    float64 `json:"score"`
	MaxMarks float64 `json:"max_marks"`
	Feedback string  `json:"feedback"`
	Unscored bool    `json:"unscored,omitempty"`
}

// RosterRow is one row of an external roster, owned by the reconciler
// only for the duration of a reconciliation pass.
type RosterRow struct {
	RowIndex    int      `json:"row_index"`
	EntryNumber string   `json:"entry_number"`
	Name        string   `json:"name,omitempty"`
	Marks       *float64 `json:"marks,omitempty"`
}

// CellWrite is one pending write for the external sheet client to apply.
// The reconciler never mutates the roster source itself.
type CellWrite struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// NameMismatch flags a matched roster row whose name did not verify
// against the extracted name. Advisory only; the score write proceeds.
type NameMismatch struct {
	EntryNumber string  `json:"entry_number"`
	RosterName  string  `json:"roster_name"`
	ResultName  string  `json:"result_name"`
	Similarity  float64 `json:"similarity"`
	Row         int     `json:"row"`
}

// ReconcileSummary is the outcome of matching score results against a
// roster. Unmatched identifiers are data, not errors.
type ReconcileSummary struct {
	Updated           int            `json:"updated"`
	NotFoundInRoster  []string       `json:"not_found_in_roster"`
	NotFoundInResults []string       `json:"not_found_in_results"`
	NameMismatches    []NameMismatch `json:"name_mismatches"`
	Writes            []CellWrite    `json:"writes"`
}

// FileInfo describes a file in an external file source.
type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// SubmissionStatus tracks one submission through a batch job.
type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "pending"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionDone       SubmissionStatus = "done"
	SubmissionFailed     SubmissionStatus = "failed"
)

// SubmissionOutcome is the per-submission record a batch job owns.
type SubmissionOutcome struct {
	ID         string            `json:"id"`
	FileName   string            `json:"file_name"`
	Status     SubmissionStatus  `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Result     *ScoreResult      `json:"result,omitempty"`
	Subjective []SubjectiveGrade `json:"subjective,omitempty"`
}

// CombinedTotal is the objective total plus all subjective scores.
func (o SubmissionOutcome) CombinedTotal() float64 {
	var total float64
	if o.Result != nil {
		total = o.Result.TotalScore
	}
	for _, g := range o.Subjective {
		total += g.Score
	}
	return total
}

// BatchSummary reports a finished (or in-flight) batch run.
type BatchSummary struct {
	Total     int                 `json:"total"`
	Done      int                 `json:"done"`
	Failed    int                 `json:"failed"`
	Pending   int                 `json:"pending"`
	Outcomes  []SubmissionOutcome `json:"outcomes"`
	StartedAt time.Time           `json:"started_at"`
	Finished  bool                `json:"finished"`
}

// PipelineConfig holds runtime evaluation parameters set via CLI flags.
type PipelineConfig struct {
	ProviderOrder   []string      // extraction provider priority, first wins
	ProviderTimeout time.Duration // per-provider cap on one network call
	NegativeMarking float64       // default deduction when the key omits it
	NameThreshold   float64       // roster name similarity threshold
	MaxConcurrent   int           // concurrent submissions per batch
}

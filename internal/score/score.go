// Package score implements the deterministic scoring engine. It performs
// no I/O; given the same key and sheet it always produces the same result.
package score

import (
	"sort"
	"strings"

	"github.com/pavelanni/gradescan/internal/model"
)

// Score compares a student's extracted answers against the canonical key.
//
// Per question present in the key: absent from the sheet is unattempted
// (0 points); the multi-mark sentinel is 0 points and never penalized;
// a matching option earns the question's mark weight; anything else is
// incorrect and deducts the key's negative marking, if any. Questions on
// the sheet that the key does not know are ignored entirely. Negative
// totals are reported as-is, not clamped.
func Score(key model.AnswerKey, sheet model.StudentSheet) model.ScoreResult {
	res := model.ScoreResult{
		EntryNumber: strings.TrimSpace(sheet.EntryNumber),
		Name:        strings.TrimSpace(sheet.Name),
		MaxScore:    key.MaxScore(),
		Details:     make([]model.QuestionResult, 0, len(key.Answers)),
	}

	questions := make([]int, 0, len(key.Answers))
	for q := range key.Answers {
		questions = append(questions, q)
	}
	sort.Ints(questions)

	for _, q := range questions {
		entry := key.Answers[q]
		correct := strings.ToUpper(strings.TrimSpace(entry.CorrectOption))
		detail := model.QuestionResult{Question: q, Correct: correct}

		marked, attempted := sheet.Answers[q]
		marked = strings.ToUpper(strings.TrimSpace(marked))

		switch {
		case !attempted || marked == "":
			detail.Outcome = model.OutcomeUnattempted
			res.Unattempted++
		case marked == model.MultipleMark:
			detail.Marked = marked
			detail.Outcome = model.OutcomeMultiple
		case marked == correct:
			detail.Marked = marked
			detail.Outcome = model.OutcomeCorrect
			detail.Points = entry.Marks
			res.Correct++
		default:
			detail.Marked = marked
			detail.Outcome = model.OutcomeIncorrect
			if key.NegativeMarking > 0 {
				detail.Points = -key.NegativeMarking
				res.NegativeDeduction += key.NegativeMarking
			}
			res.Incorrect++
		}

		res.TotalScore += detail.Points
		res.Details = append(res.Details, detail)
	}

	return res
}

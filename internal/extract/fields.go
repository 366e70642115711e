package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/gradescan/internal/util"
)

// KeyRow is one parsed answer-key row.
type KeyRow struct {
	Question int     `json:"question"`
	Option   string  `json:"correct_option"`
	Marks    float64 `json:"marks"`
}

// Fields is the normalized result of one extraction. Which fields are set
// depends on the intent: objective sheets fill EntryNumber/Name/Answers,
// answer keys fill KeyRows, general extraction fills Text.
type Fields struct {
	EntryNumber     string         `json:"entry_number,omitempty"`
	Name            string         `json:"name,omitempty"`
	Answers         map[int]string `json:"answers,omitempty"`
	KeyRows         []KeyRow       `json:"key_rows,omitempty"`
	NegativeMarking float64        `json:"negative_marking,omitempty"`
	Text            string         `json:"text,omitempty"`
}

// validate is the minimal per-intent schema check applied uniformly to
// every provider's response.
func (f *Fields) validate(intent Intent) error {
	switch intent {
	case IntentObjectiveSheet:
		if len(f.Answers) == 0 {
			return fmt.Errorf("objective sheet: no answers extracted")
		}
	case IntentAnswerKey:
		if len(f.KeyRows) == 0 {
			return fmt.Errorf("answer key: no rows extracted")
		}
	default:
		if f.Text == "" && len(f.Answers) == 0 && f.EntryNumber == "" {
			return fmt.Errorf("general: empty extraction")
		}
	}
	return nil
}

// DecodeFields parses a provider's raw response text for the given intent
// and normalizes it. Providers return model output as-is; all leniency
// about shapes lives here so it applies uniformly.
func DecodeFields(raw string, intent Intent) (Fields, error) {
	switch intent {
	case IntentObjectiveSheet:
		return decodeObjective(raw)
	case IntentAnswerKey:
		return decodeAnswerKey(raw)
	default:
		return decodeGeneral(raw)
	}
}

// looseSheet tolerates the field-name drift seen across providers.
type looseSheet struct {
	EntryNumber string          `json:"entry_number"`
	RollNumber  string          `json:"roll_number"`
	Name        string          `json:"name"`
	StudentName string          `json:"student_name"`
	Answers     json.RawMessage `json:"answers"`
}

func decodeObjective(raw string) (Fields, error) {
	clean, err := util.ExtractJSON(raw)
	if err != nil {
		return Fields{}, err
	}
	var ls looseSheet
	if err := json.Unmarshal([]byte(clean), &ls); err != nil {
		return Fields{}, fmt.Errorf("decode objective sheet: %w", err)
	}

	f := Fields{
		EntryNumber: firstNonEmpty(ls.EntryNumber, ls.RollNumber),
		Name:        firstNonEmpty(ls.Name, ls.StudentName),
		Answers:     decodeAnswers(ls.Answers),
	}
	return f, nil
}

// decodeAnswers accepts either {"1": "A", ...} or
// [{"question_number": 1, "marked_option": "A"}, ...]. Entries that do
// not coerce to an integer question plus an option token are dropped;
// blank options stay omitted so absence keeps meaning "unattempted".
func decodeAnswers(raw json.RawMessage) map[int]string {
	answers := map[int]string{}
	if len(raw) == 0 {
		return answers
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for k, v := range asMap {
			q, ok := coerceInt(k)
			if !ok {
				continue
			}
			if opt := NormalizeOption(fmt.Sprint(v)); opt != "" {
				answers[q] = opt
			}
		}
		return answers
	}

	var asList []map[string]any
	if err := json.Unmarshal(raw, &asList); err == nil {
		for _, item := range asList {
			q, ok := coerceInt(item["question_number"])
			if !ok {
				continue
			}
			var rawOpt any
			for _, k := range []string{"marked_option", "option", "answer"} {
				if item[k] != nil {
					rawOpt = item[k]
					break
				}
			}
			if rawOpt == nil {
				continue
			}
			if opt := NormalizeOption(fmt.Sprint(rawOpt)); opt != "" {
				answers[q] = opt
			}
		}
	}
	return answers
}

type looseKey struct {
	Answers         map[string]json.RawMessage `json:"answers"`
	NegativeMarking float64                    `json:"negative_marking"`
}

func decodeAnswerKey(raw string) (Fields, error) {
	clean, err := util.ExtractJSON(raw)
	if err != nil {
		return Fields{}, err
	}
	var lk looseKey
	if err := json.Unmarshal([]byte(clean), &lk); err != nil {
		return Fields{}, fmt.Errorf("decode answer key: %w", err)
	}

	f := Fields{NegativeMarking: lk.NegativeMarking}
	for k, v := range lk.Answers {
		q, ok := coerceInt(k)
		if !ok || q <= 0 {
			continue
		}

		// Value is either {"correct_option": "A", "marks": 1} or a bare "A".
		var entry struct {
			CorrectOption string   `json:"correct_option"`
			Marks         *float64 `json:"marks"`
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			entry.CorrectOption = s
		}
		opt := NormalizeOption(entry.CorrectOption)
		if opt == "" {
			continue
		}
		// Default marks only when the model omitted them. An explicit 0 is
		// kept, like in the tabular key parsers.
		marks := 1.0
		if entry.Marks != nil {
			marks = *entry.Marks
		}
		f.KeyRows = append(f.KeyRows, KeyRow{Question: q, Option: opt, Marks: marks})
	}
	return f, nil
}

func decodeGeneral(raw string) (Fields, error) {
	clean, err := util.ExtractJSON(raw)
	if err != nil {
		// Not JSON at all: keep the raw text, some callers only want text.
		return Fields{Text: strings.TrimSpace(raw)}, nil
	}
	var ls looseSheet
	if err := json.Unmarshal([]byte(clean), &ls); err != nil {
		return Fields{Text: strings.TrimSpace(raw)}, nil
	}
	f := Fields{
		EntryNumber: firstNonEmpty(ls.EntryNumber, ls.RollNumber),
		Name:        firstNonEmpty(ls.Name, ls.StudentName),
		Answers:     decodeAnswers(ls.Answers),
		Text:        strings.TrimSpace(raw),
	}
	return f, nil
}

// NormalizeOption cleans a marked-option token: trims, uppercases, strips
// an "OPTION" prefix. The multi-mark sentinel passes through untouched.
func NormalizeOption(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "NULL" || s == "NONE" {
		return ""
	}
	if s == "MULTIPLE" {
		return s
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "OPTION"))
	return s
}

func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" && !strings.EqualFold(v, "unknown") && !strings.EqualFold(v, "null") {
			return v
		}
	}
	return ""
}

var (
	inlinePatterns = []*regexp.Regexp{
		// "Q1: A", "Question 3 - C", "1. B", "1) D"
		regexp.MustCompile(`(?i)^(?:question|q)?\.?\s*(\d+)\s*[.:)\-\x{2013}\x{2014}\t]+\s*([A-Za-z])\b`),
		// bare "1  A"
		regexp.MustCompile(`(?i)^(\d+)\s+([A-Za-z])\s*$`),
	}
	questionPrefix = regexp.MustCompile(`(?i)^(question|q|no|s\.?no\.?)\s*[.:\-)\s]*`)
	anyInteger     = regexp.MustCompile(`\d+`)
)

// ParseInlineAnswer parses a line like "Q1: A", "1. B" or "1	A" into a
// question number and option. Used by the text answer-key path and by the
// local OCR provider.
func ParseInlineAnswer(line string) (int, string, bool) {
	line = strings.TrimSpace(line)
	for _, re := range inlinePatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			q, err := strconv.Atoi(m[1])
			if err != nil || q <= 0 {
				continue
			}
			return q, strings.ToUpper(m[2]), true
		}
	}
	return 0, "", false
}

// ParseQuestionNumber extracts an integer question number from cell text
// like "Q1", "1.", "Question 1" or plain "1".
func ParseQuestionNumber(text string) (int, error) {
	cleaned := questionPrefix.ReplaceAllString(strings.TrimSpace(text), "")
	cleaned = strings.TrimRight(strings.TrimSpace(cleaned), ".):")
	if n, err := strconv.Atoi(cleaned); err == nil {
		return n, nil
	}
	if m := anyInteger.FindString(text); m != "" {
		return strconv.Atoi(m)
	}
	return 0, fmt.Errorf("no question number in %q", text)
}

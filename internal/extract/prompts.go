package extract

// Prompt returns the extraction instruction for an intent. All providers
// share the same prompt so their responses validate against the same
// schema.
func Prompt(intent Intent) string {
	switch intent {
	case IntentObjectiveSheet:
		return objectiveSheetPrompt
	case IntentAnswerKey:
		return answerKeyPrompt
	default:
		return generalPrompt
	}
}

const objectiveSheetPrompt = `You are analyzing an OBJECTIVE answer sheet (MCQ/OMR style).

Extract ONLY the following fields and return as valid JSON (no markdown):

{
  "entry_number": "the student's entry/roll number",
  "name": "the student's name",
  "answers": {"1": "A", "2": "C", "3": "B"}
}

Rules:
- "entry_number": look for roll number, entry number, enrollment number, registration number or student ID.
- "name": the student's name as written on the sheet.
- "answers": a mapping from question number to the marked option (single uppercase letter).
- If a question appears unanswered or blank, DO NOT include it in answers.
- If multiple options are marked for a question, set the value to "MULTIPLE".
- Question numbers must be integers represented as strings.
- If entry_number or name is not found, set it to null.

Return ONLY valid JSON, no explanation, no markdown.`

const answerKeyPrompt = `You are analyzing an ANSWER KEY document for an objective/MCQ examination.

Extract ALL question numbers with their correct options and marks. Return ONLY a valid JSON object (no markdown):

{
  "answers": {
    "1": {"correct_option": "A", "marks": 1},
    "2": {"correct_option": "C", "marks": 1}
  },
  "negative_marking": 0
}

Rules:
- Question numbers must be positive integers (as strings in the JSON keys).
- Options must be single uppercase letters.
- If the document shows no marks per question, use 1.
- If the document states a negative marking value, set "negative_marking" to it, otherwise 0.

Return ONLY valid JSON, no explanation, no markdown.`

const generalPrompt = `Analyze this answer sheet image.
Extract the following fields and return ONLY a valid JSON object. Do not format as markdown.

{
  "student_name": "the name of the student if written",
  "roll_number": "the roll number or ID",
  "answers": {"1": "A"}
}

If a field is not found, set it to null or an empty object.
Ensure the JSON is valid and properly formatted.`

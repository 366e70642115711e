package answerkey

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/gradescan/internal/model"
)

func buildKey(t *testing.T, src, filename string) (model.AnswerKey, []string) {
	t.Helper()
	key, warnings, err := NewBuilder(nil, 0).Build(context.Background(), []byte(src), filename, "")
	if err != nil {
		t.Fatalf("Build(%s): %v", filename, err)
	}
	return key, warnings
}

func TestBuildCSVWithHeader(t *testing.T) {
	src := "Question,Correct Option,Marks\n1,A,2\n2,B,1\n3,C,0.5\n"
	key, warnings := buildKey(t, src, "key.csv")

	if key.TotalQuestions != 3 {
		t.Fatalf("TotalQuestions = %d, want 3", key.TotalQuestions)
	}
	want := map[int]model.AnswerKeyEntry{
		1: {CorrectOption: "A", Marks: 2},
		2: {CorrectOption: "B", Marks: 1},
		3: {CorrectOption: "C", Marks: 0.5},
	}
	if !reflect.DeepEqual(key.Answers, want) {
		t.Errorf("Answers = %v, want %v", key.Answers, want)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if got := key.MaxScore(); got != 3.5 {
		t.Errorf("MaxScore() = %v, want 3.5", got)
	}
}

func TestBuildCSVHeaderAliases(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"q_no and ans", "Q.No,Ans\n1,A\n2,B\n"},
		{"sl and key", "Sl. No,Key\n1,A\n2,B\n"},
		{"number and answer", "Number,Answer\n1,a\n2,b\n"},
		{"no header", "1,A\n2,B\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := buildKey(t, tc.src, "key.csv")
			if key.TotalQuestions != 2 {
				t.Fatalf("TotalQuestions = %d, want 2", key.TotalQuestions)
			}
			for q, opt := range map[int]string{1: "A", 2: "B"} {
				if got := key.Answers[q].CorrectOption; got != opt {
					t.Errorf("q%d option = %q, want %q", q, got, opt)
				}
				if got := key.Answers[q].Marks; got != 1 {
					t.Errorf("q%d marks = %v, want default 1", q, got)
				}
			}
		})
	}
}

func TestBuildTSV(t *testing.T) {
	src := "question\toption\tmarks\n1\tD\t4\n2\tA\t4\n"
	key, _ := buildKey(t, src, "key.tsv")
	if key.Answers[1].CorrectOption != "D" || key.Answers[1].Marks != 4 {
		t.Errorf("q1 = %+v, want D/4", key.Answers[1])
	}
}

func TestBuildPlainText(t *testing.T) {
	src := "Answer Key\nQ1: A\n2. B\n3) c\n4\tD\n"
	key, _ := buildKey(t, src, "key.txt")
	want := map[int]string{1: "A", 2: "B", 3: "C", 4: "D"}
	for q, opt := range want {
		if got := key.Answers[q].CorrectOption; got != opt {
			t.Errorf("q%d = %q, want %q", q, got, opt)
		}
	}
}

func TestBuildDropsInvalidRowsWithWarnings(t *testing.T) {
	src := "question,answer,marks\n1,A,1\n2,,1\n0,B,1\n3,C,-2\n4,MULTIPLE,1\n5,D,1\n"
	key, warnings := buildKey(t, src, "key.csv")

	if key.TotalQuestions != 2 {
		t.Fatalf("TotalQuestions = %d, want 2 (warnings: %v)", key.TotalQuestions, warnings)
	}
	for _, q := range []int{2, 3, 4} {
		if _, ok := key.Answers[q]; ok {
			t.Errorf("q%d should have been dropped", q)
		}
	}
	if len(warnings) == 0 {
		t.Error("expected warnings for dropped rows")
	}
}

func TestBuildDuplicateQuestionKeepsLast(t *testing.T) {
	src := "question,answer\n1,A\n1,B\n"
	key, warnings := buildKey(t, src, "key.csv")
	if got := key.Answers[1].CorrectOption; got != "B" {
		t.Errorf("q1 = %q, want last row B", got)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "duplicate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate warning, got %v", warnings)
	}
}

func TestBuildEmptyKey(t *testing.T) {
	_, _, err := NewBuilder(nil, 0).Build(context.Background(), []byte("nothing parsable here\n"), "key.txt", "")
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestBuildUnsupportedFormat(t *testing.T) {
	_, _, err := NewBuilder(nil, 0).Build(context.Background(), []byte{0x00, 0x01}, "key.bin", "application/octet-stream")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestBuildDeterministic(t *testing.T) {
	src := "question,answer\n1,B\n2,,\n3,C\n0,A\n"
	k1, w1 := buildKey(t, src, "key.csv")
	k2, w2 := buildKey(t, src, "key.csv")
	if !reflect.DeepEqual(k1.Answers, k2.Answers) {
		t.Error("answers differ across runs")
	}
	if !reflect.DeepEqual(w1, w2) {
		t.Errorf("warnings differ across runs: %v vs %v", w1, w2)
	}
}

func TestBuildNegativeMarkingDefault(t *testing.T) {
	key, _, err := NewBuilder(nil, 0.25).Build(context.Background(), []byte("1,A\n"), "key.csv", "")
	if err != nil {
		t.Fatal(err)
	}
	if key.NegativeMarking != 0.25 {
		t.Errorf("NegativeMarking = %v, want 0.25", key.NegativeMarking)
	}
}

func TestDetectColumns(t *testing.T) {
	cases := []struct {
		name    string
		headers []string
		q, opt  int
		marks   int
	}{
		{"standard", []string{"Question", "Option", "Marks"}, 0, 1, 2},
		{"reordered", []string{"Marks", "Correct Answer", "Q.No"}, 2, 1, 0},
		{"no marks", []string{"Q", "Ans"}, 0, 1, -1},
		{"nothing matches", []string{"foo", "bar"}, 0, 1, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, opt, marks := detectColumns(tc.headers)
			if q != tc.q || opt != tc.opt || marks != tc.marks {
				t.Errorf("detectColumns(%v) = (%d,%d,%d), want (%d,%d,%d)",
					tc.headers, q, opt, marks, tc.q, tc.opt, tc.marks)
			}
		})
	}
}

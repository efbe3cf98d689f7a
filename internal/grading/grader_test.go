package grading

import (
	"errors"
	"strings"
	"testing"

	"github.com/forgepath/forgepath/internal/llm"
)

func newGraderWith(mock *llm.MockProvider) *Grader {
	router := llm.NewRouter()
	router.Register("mock", mock)
	return NewGrader(router)
}

func TestGrade_Pass(t *testing.T) {
	mock := llm.NewMockProvider(`{"pass": true, "feedback": "Solid explanation.", "confidence": 0.92}`)
	g := newGraderWith(mock)

	dec, err := g.Grade(t.Context(), "Explain a pipe.", []string{"stdout to stdin"}, "It connects stdout to stdin.")
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !dec.Pass {
		t.Error("Pass = false, want true")
	}
	if dec.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", dec.Confidence)
	}

	// The prompt must carry question, concepts and answer.
	sent := mock.LastRequest.Messages[1].Content
	for _, want := range []string{"Explain a pipe.", "stdout to stdin", "It connects stdout to stdin."} {
		if !strings.Contains(sent, want) {
			t.Errorf("grading prompt missing %q", want)
		}
	}
}

func TestGrade_ToleratesMarkdownFences(t *testing.T) {
	mock := llm.NewMockProvider("```json\n{\"pass\": false, \"feedback\": \"Missing the key idea.\", \"confidence\": 0.8}\n```")
	g := newGraderWith(mock)

	dec, err := g.Grade(t.Context(), "q", nil, "a")
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if dec.Pass {
		t.Error("Pass = true, want false")
	}
	if dec.Feedback != "Missing the key idea." {
		t.Errorf("Feedback = %q", dec.Feedback)
	}
}

func TestGrade_ProviderDownIsUnavailable(t *testing.T) {
	mock := &llm.MockProvider{Err: errors.New("connection refused")}
	g := newGraderWith(mock)

	_, err := g.Grade(t.Context(), "q", nil, "a")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestGrade_GarbageVerdictIsUnavailable(t *testing.T) {
	mock := llm.NewMockProvider("I think the answer is pretty good overall!")
	g := newGraderWith(mock)

	_, err := g.Grade(t.Context(), "q", nil, "a")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable for unparsable verdict", err)
	}
}

func TestParseDecision_ConfidenceRange(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"pass": true, "feedback": "ok", "confidence": 0.5}`, false},
		{"too high", `{"pass": true, "confidence": 1.5}`, true},
		{"negative", `{"pass": true, "confidence": -0.1}`, true},
		{"boundary low", `{"pass": false, "confidence": 0}`, false},
		{"boundary high", `{"pass": true, "confidence": 1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDecision(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDecision() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

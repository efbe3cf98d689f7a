package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgepath/forgepath/internal/llm"
)

const graderSystemPrompt = `You grade short free-text answers from learners working through a self-study curriculum.

You receive the question, the concepts a correct answer must demonstrate, and the learner's answer. Judge understanding, not wording: accept paraphrases, reject answers that miss or contradict the expected concepts.

Respond with STRICT JSON only, no markdown fences, in this exact shape:
{"pass": <bool>, "feedback": "<one or two sentences for the learner>", "confidence": <0.0-1.0>}

Feedback rules:
- On a fail, point at what is missing without giving the answer away.
- On a pass, one encouraging sentence is enough.
- Never mention the expected-concepts list; the learner cannot see it.`

// Grader asks an LLM for a pass/fail verdict on a free-text answer.
type Grader struct {
	router *llm.Router
}

// NewGrader creates a grader on top of the provider router.
func NewGrader(router *llm.Router) *Grader {
	return &Grader{router: router}
}

// Grade evaluates answer against the question prompt and its expected
// concepts. Provider failures and malformed verdicts surface ErrUnavailable:
// they are infrastructure conditions, distinct from "the learner was wrong",
// and must not be recorded as failing attempts.
func (g *Grader) Grade(ctx context.Context, prompt string, concepts []string, answer string) (Decision, error) {
	var user strings.Builder
	user.WriteString("QUESTION:\n")
	user.WriteString(prompt)
	user.WriteString("\n\nEXPECTED CONCEPTS:\n")
	for _, c := range concepts {
		user.WriteString("- ")
		user.WriteString(c)
		user.WriteString("\n")
	}
	user.WriteString("\nLEARNER ANSWER:\n")
	user.WriteString(answer)

	resp, err := g.router.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: graderSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	dec, err := parseDecision(resp.Content)
	if err != nil {
		slog.Warn("grader returned unparsable verdict", "model", resp.Model, "error", err)
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	slog.Debug("answer graded",
		"model", resp.Model,
		"pass", dec.Pass,
		"confidence", dec.Confidence,
		"tokens", resp.TotalTokens(),
	)
	return dec, nil
}

// parseDecision extracts the JSON verdict, tolerating markdown fences that
// some models wrap around JSON despite instructions.
func parseDecision(content string) (Decision, error) {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "{"); idx > 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "}"); idx >= 0 {
		content = content[:idx+1]
	}

	var dec Decision
	if err := json.Unmarshal([]byte(content), &dec); err != nil {
		return Decision{}, fmt.Errorf("parsing verdict: %w", err)
	}
	if dec.Confidence < 0 || dec.Confidence > 1 {
		return Decision{}, fmt.Errorf("confidence %v out of range", dec.Confidence)
	}
	return dec, nil
}

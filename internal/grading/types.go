// Package grading combines an opaque LLM grading decision with a learner's
// attempt history and the lockout policy to decide pass/fail and retry
// eligibility.
package grading

import "time"

// Decision is the opaque verdict returned by the grading collaborator.
type Decision struct {
	Pass       bool    `json:"pass"`
	Feedback   string  `json:"feedback"`
	Confidence float64 `json:"confidence"`
}

// Attempt is one historical grading attempt for a (user, question) pair.
// The history is an append-only log; a recorded pass is never revoked.
type Attempt struct {
	At         time.Time `json:"at"`
	Pass       bool      `json:"pass"`
	Feedback   string    `json:"feedback,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Outcome is the aggregated result of applying a decision to a history.
type Outcome struct {
	// Passed reports the decision that was accepted as a new attempt.
	Passed bool `json:"passed"`
	// AlreadyPassed is true when a prior passing attempt exists; the
	// progress view cannot regress regardless of Passed.
	AlreadyPassed bool `json:"already_passed"`
	// AttemptsUsed is the current run of consecutive failures, this
	// attempt included.
	AttemptsUsed int `json:"attempts_used"`
	// LockoutUntil is set when this attempt started a lockout.
	LockoutUntil *time.Time `json:"lockout_until,omitempty"`
	Feedback     string     `json:"feedback"`
	Confidence   float64    `json:"confidence"`
}

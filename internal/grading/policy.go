package grading

import "time"

// Policy is the lockout policy: MaxFailures consecutive failures within
// Window start a lockout lasting Window. A pass resets the run. The policy is
// pure; "now" is injected by the caller so outcomes are deterministic.
type Policy struct {
	MaxFailures int
	Window      time.Duration
}

// trailingFailures returns the run of consecutive failures at the end of the
// history. The run stops at the most recent pass.
func trailingFailures(history []Attempt) []Attempt {
	i := len(history)
	for i > 0 && !history[i-1].Pass {
		i--
	}
	return history[i:]
}

// LockedUntil reports whether the history puts the learner inside an active
// lockout window at now. The deadline is the time of the Nth consecutive
// failure plus the window length, provided the last N failures all fell
// within one window of each other.
func (p Policy) LockedUntil(history []Attempt, now time.Time) (time.Time, bool) {
	run := trailingFailures(history)
	if p.MaxFailures <= 0 || len(run) < p.MaxFailures {
		return time.Time{}, false
	}

	lastN := run[len(run)-p.MaxFailures:]
	first, last := lastN[0].At, lastN[len(lastN)-1].At
	if last.Sub(first) > p.Window {
		return time.Time{}, false
	}

	until := last.Add(p.Window)
	if !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Apply aggregates one grading decision against the attempt history. It
// returns a LockoutError while a lockout is active (the decision is
// discarded; callers should not have graded at all). Otherwise the decision
// is accepted as a new attempt and the outcome reports the failure run and,
// when this failure is the Nth, the lockout deadline that now begins.
//
// A previously recorded pass is never revoked: AlreadyPassed survives any
// later failing decision, and the progress evaluator only asks whether any
// passing attempt exists.
func (p Policy) Apply(history []Attempt, dec Decision, now time.Time) (Outcome, error) {
	if until, locked := p.LockedUntil(history, now); locked {
		return Outcome{}, &LockoutError{Until: until}
	}

	out := Outcome{
		Passed:        dec.Pass,
		AlreadyPassed: anyPass(history),
		Feedback:      dec.Feedback,
		Confidence:    dec.Confidence,
	}

	if dec.Pass {
		out.AttemptsUsed = 0
		return out, nil
	}

	prior := trailingFailures(history)
	run := make([]Attempt, 0, len(prior)+1)
	run = append(run, prior...)
	run = append(run, Attempt{At: now, Pass: false})
	out.AttemptsUsed = len(run)

	if until, locked := p.LockedUntil(run, now); locked {
		out.LockoutUntil = &until
	}
	return out, nil
}

func anyPass(history []Attempt) bool {
	for _, a := range history {
		if a.Pass {
			return true
		}
	}
	return false
}

// Package store persists a learner's completion facts: step completions,
// question attempts, hands-on submissions, badge awards and certificates.
package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/progress"
)

// ErrAlreadyIssued is returned when issuing a certificate type the user
// already holds.
var ErrAlreadyIssued = errors.New("certificate already issued")

// Submission is a hands-on proof-of-work submission. At most one row is
// authoritative per (user, requirement); an unvalidated submission may be
// overwritten by a retry, a validated one stays.
type Submission struct {
	RequirementID string     `json:"requirement_id"`
	Value         string     `json:"value"`
	Validated     bool       `json:"validated"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
}

// BadgeAward records when a badge was first earned.
type BadgeAward struct {
	BadgeID   string    `json:"badge_id"`
	AwardedAt time.Time `json:"awarded_at"`
}

// Certificate is an issued completion certificate. Immutable after issuance.
type Certificate struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Type     string    `json:"type"`
	IssuedAt time.Time `json:"issued_at"`
}

// Store persists per-user completion facts. Snapshot must read all facts in
// one consistent view; everything else is a point write.
type Store interface {
	CompleteStep(ctx context.Context, userID, topicID string, order int, at time.Time) error
	UncompleteStep(ctx context.Context, userID, topicID string, order int) error

	RecordAttempt(ctx context.Context, userID, questionID string, attempt grading.Attempt) error
	Attempts(ctx context.Context, userID, questionID string) ([]grading.Attempt, error)

	SaveSubmission(ctx context.Context, userID string, sub Submission) error
	Submission(ctx context.Context, userID, requirementID string) (Submission, bool, error)

	AwardBadge(ctx context.Context, userID, badgeID string, at time.Time) error
	Badges(ctx context.Context, userID string) ([]BadgeAward, error)

	IssueCertificate(ctx context.Context, cert Certificate) error
	Certificate(ctx context.Context, userID, certType string) (Certificate, bool, error)

	// Snapshot reads the user's completion facts as one consistent snapshot,
	// suitable for handing to the progress evaluator.
	Snapshot(ctx context.Context, userID string) (progress.CompletionSnapshot, error)

	// ActivityDays returns the distinct UTC days on which the user completed
	// anything, for streak computation.
	ActivityDays(ctx context.Context, userID string) ([]time.Time, error)
}

// snapshotVersion derives a stable identifier for a completion snapshot from
// its contents, used as part of the memoization key.
func snapshotVersion(comp progress.CompletionSnapshot) string {
	var keys []string
	for topicID, orders := range comp.Steps {
		for order := range orders {
			keys = append(keys, fmt.Sprintf("s/%s/%d", topicID, order))
		}
	}
	for qid := range comp.PassedQuestions {
		keys = append(keys, "q/"+qid)
	}
	for rid := range comp.ValidatedRequirements {
		keys = append(keys, "r/"+rid)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

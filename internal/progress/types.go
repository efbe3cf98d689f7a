// Package progress computes per-topic and per-phase completion, percentages
// and lock state from static curriculum snapshots and a learner's persisted
// completion facts.
//
// All evaluation is pure: inputs are immutable snapshots, outputs are new
// values, and nothing here touches the clock, the network or the database.
// Callers must read the completion facts in a single consistent database
// snapshot before evaluating, otherwise percentages can be computed from a
// torn read.
package progress

// TopicStatus describes a learner's standing in one topic.
type TopicStatus string

const (
	TopicNotStarted TopicStatus = "not_started"
	TopicInProgress TopicStatus = "in_progress"
	TopicCompleted  TopicStatus = "completed"
)

// PhaseStatus describes a learner's standing in one phase.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// TopicSnapshot is the static definition of one topic as seen by the evaluator.
type TopicSnapshot struct {
	ID          string
	StepOrders  []int
	QuestionIDs []string
}

// PhaseSnapshot is the static definition of one phase as seen by the evaluator.
// Topics are ordered by their ordinal within the phase.
type PhaseSnapshot struct {
	Ordinal        int
	Slug           string
	Topics         []TopicSnapshot
	RequirementIDs []string
}

// CompletionSnapshot holds one user's completion facts, read as a single
// consistent snapshot. Pairs absent from the sets are simply not completed;
// ids unknown to the curriculum are ignored.
type CompletionSnapshot struct {
	// Steps maps topic id to the set of completed step orders.
	Steps map[string]map[int]bool
	// PassedQuestions holds question ids with at least one passing attempt.
	PassedQuestions map[string]bool
	// ValidatedRequirements holds requirement ids with a validated submission.
	ValidatedRequirements map[string]bool
	// Version identifies this snapshot for memoization keys.
	Version string
}

// StepDone reports whether the given step of a topic is completed.
func (c CompletionSnapshot) StepDone(topicID string, order int) bool {
	return c.Steps[topicID][order]
}

// TopicProgress is the evaluated standing of one topic.
type TopicProgress struct {
	TopicID         string      `json:"topic_id"`
	StepsCompleted  int         `json:"steps_completed"`
	StepsTotal      int         `json:"steps_total"`
	QuestionsPassed int         `json:"questions_passed"`
	QuestionsTotal  int         `json:"questions_total"`
	Percentage      float64     `json:"percentage"`
	Status          TopicStatus `json:"status"`
	Unlocked        bool        `json:"unlocked"`
}

// PhaseProgress is the evaluated standing of one phase.
type PhaseProgress struct {
	Ordinal               int             `json:"ordinal"`
	Slug                  string          `json:"slug"`
	Topics                []TopicProgress `json:"topics"`
	Percentage            float64         `json:"percentage"`
	Status                PhaseStatus     `json:"status"`
	Unlocked              bool            `json:"unlocked"`
	RequirementsValidated int             `json:"requirements_validated"`
	RequirementsTotal     int             `json:"requirements_total"`
}

// Completed reports whether the phase is fully completed, hands-on included.
func (p PhaseProgress) Completed() bool {
	return p.Status == PhaseCompleted
}

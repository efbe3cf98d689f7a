package progress

import (
	"math"
	"sort"
)

// EvaluateTopic computes completion counts, percentage and status for a single
// topic. Unlocked is left false; lock state depends on neighboring topics and
// is filled in by EvaluateAll.
func EvaluateTopic(topic TopicSnapshot, comp CompletionSnapshot) TopicProgress {
	tp := TopicProgress{
		TopicID:        topic.ID,
		StepsTotal:     len(topic.StepOrders),
		QuestionsTotal: len(topic.QuestionIDs),
	}

	for _, order := range topic.StepOrders {
		if comp.StepDone(topic.ID, order) {
			tp.StepsCompleted++
		}
	}
	for _, qid := range topic.QuestionIDs {
		if comp.PassedQuestions[qid] {
			tp.QuestionsPassed++
		}
	}

	total := tp.StepsTotal + tp.QuestionsTotal
	done := tp.StepsCompleted + tp.QuestionsPassed

	switch {
	case total == 0:
		// A topic with nothing to do is vacuously completed.
		tp.Percentage = 0
		tp.Status = TopicCompleted
	case done == total:
		tp.Percentage = 100
		tp.Status = TopicCompleted
	case done == 0:
		tp.Percentage = 0
		tp.Status = TopicNotStarted
	default:
		tp.Percentage = round1(100 * float64(done) / float64(total))
		tp.Status = TopicInProgress
	}

	return tp
}

// EvaluatePhase computes the standing of one phase in isolation. Hands-on
// requirements gate the completed status but do not contribute to the numeric
// percentage. Unlock state is not computed here; use EvaluateAll for that.
func EvaluatePhase(phase PhaseSnapshot, comp CompletionSnapshot) PhaseProgress {
	pp := PhaseProgress{
		Ordinal:           phase.Ordinal,
		Slug:              phase.Slug,
		Topics:            make([]TopicProgress, 0, len(phase.Topics)),
		RequirementsTotal: len(phase.RequirementIDs),
	}

	allTopicsDone := true
	anyProgress := false
	var pctSum float64

	for _, topic := range phase.Topics {
		tp := EvaluateTopic(topic, comp)
		pp.Topics = append(pp.Topics, tp)
		pctSum += tp.Percentage
		if tp.Status != TopicCompleted {
			allTopicsDone = false
		}
		if tp.Status != TopicNotStarted {
			anyProgress = true
		}
	}

	for _, rid := range phase.RequirementIDs {
		if comp.ValidatedRequirements[rid] {
			pp.RequirementsValidated++
		}
	}
	if pp.RequirementsValidated > 0 {
		anyProgress = true
	}

	if len(pp.Topics) > 0 {
		pp.Percentage = round1(pctSum / float64(len(pp.Topics)))
	}

	switch {
	case allTopicsDone && pp.RequirementsValidated == pp.RequirementsTotal:
		pp.Status = PhaseCompleted
	case anyProgress:
		pp.Status = PhaseInProgress
	default:
		pp.Status = PhaseNotStarted
	}

	return pp
}

// EvaluateAll evaluates every phase and computes the unlock chain: phase 0 is
// always unlocked, phase k unlocks only once phase k-1 is completed (hands-on
// included); within an unlocked phase the first topic is unlocked and each
// further topic unlocks once its predecessor is completed. Unlock state is
// never persisted; it is derived here on every read.
func EvaluateAll(phases []PhaseSnapshot, comp CompletionSnapshot) []PhaseProgress {
	ordered := make([]PhaseSnapshot, len(phases))
	copy(ordered, phases)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	results := make([]PhaseProgress, 0, len(ordered))
	prevCompleted := true // phase 0 has no predecessor
	for _, phase := range ordered {
		pp := EvaluatePhase(phase, comp)
		pp.Unlocked = prevCompleted

		if pp.Unlocked {
			prevTopicDone := true // first topic has no intra-phase predecessor
			for i := range pp.Topics {
				pp.Topics[i].Unlocked = prevTopicDone
				prevTopicDone = pp.Topics[i].Status == TopicCompleted
			}
		}

		// The chain is strict: a later phase being completed does not
		// unlock anything while an earlier one is still open.
		prevCompleted = prevCompleted && pp.Completed()
		results = append(results, pp)
	}

	return results
}

// EvaluatePhaseSlug evaluates all phases and returns the one with the given
// slug. Returns ErrContentNotFound when the slug is not in the curriculum.
func EvaluatePhaseSlug(phases []PhaseSnapshot, slug string, comp CompletionSnapshot) (PhaseProgress, error) {
	for _, pp := range EvaluateAll(phases, comp) {
		if pp.Slug == slug {
			return pp, nil
		}
	}
	return PhaseProgress{}, notFound("phase", slug)
}

// FindTopic locates a topic definition across phases.
// Returns ErrContentNotFound when the id is not in the curriculum.
func FindTopic(phases []PhaseSnapshot, topicID string) (TopicSnapshot, error) {
	for _, phase := range phases {
		for _, topic := range phase.Topics {
			if topic.ID == topicID {
				return topic, nil
			}
		}
	}
	return TopicSnapshot{}, notFound("topic", topicID)
}

// Overall returns the whole-curriculum completion ratio as completed phases
// over total phases, with a percentage averaged across phase percentages.
func Overall(results []PhaseProgress) (completed, total int, percentage float64) {
	total = len(results)
	var sum float64
	for _, pp := range results {
		if pp.Completed() {
			completed++
		}
		sum += pp.Percentage
	}
	if total > 0 {
		percentage = round1(sum / float64(total))
	}
	return completed, total, percentage
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

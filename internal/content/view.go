package content

// Learner-facing curriculum view. Question expected concepts are grading
// input only and must never appear here.

// PhaseView is the serialized form of a phase for the curriculum endpoint.
type PhaseView struct {
	Ordinal      int               `json:"ordinal"`
	Name         string            `json:"name"`
	Slug         string            `json:"slug"`
	Topics       []TopicView       `json:"topics"`
	Requirements []RequirementView `json:"requirements"`
}

// TopicView is the serialized form of a topic.
type TopicView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Steps     []StepView     `json:"steps"`
	Questions []QuestionView `json:"questions"`
}

// StepView is the serialized form of a learning step.
type StepView struct {
	Order int    `json:"order"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
	Code  string `json:"code,omitempty"`
}

// QuestionView carries only what the learner needs to answer.
type QuestionView struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// RequirementView is the serialized form of a hands-on requirement. Params
// stay server-side: they hold validation secrets such as token hashes.
type RequirementView struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Kind RequirementKind `json:"kind"`
}

// View returns the learner-safe form of the whole curriculum.
func (s *Store) View() []PhaseView {
	out := make([]PhaseView, 0, len(s.phases))
	for _, phase := range s.phases {
		pv := PhaseView{
			Ordinal:      phase.Ordinal,
			Name:         phase.Name,
			Slug:         phase.Slug,
			Topics:       make([]TopicView, 0, len(phase.Topics)),
			Requirements: make([]RequirementView, 0, len(phase.Requirements)),
		}
		for _, topic := range phase.Topics {
			tv := TopicView{ID: topic.ID, Name: topic.Name}
			for _, step := range topic.Steps {
				tv.Steps = append(tv.Steps, StepView(step))
			}
			for _, q := range topic.Questions {
				tv.Questions = append(tv.Questions, QuestionView{ID: q.ID, Prompt: q.Prompt})
			}
			pv.Topics = append(pv.Topics, tv)
		}
		for _, req := range phase.Requirements {
			pv.Requirements = append(pv.Requirements, RequirementView{ID: req.ID, Name: req.Name, Kind: req.Kind})
		}
		out = append(out, pv)
	}
	return out
}

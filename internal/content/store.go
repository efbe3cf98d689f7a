// Package content loads the static curriculum (phases, topics, steps,
// questions, hands-on requirements) from YAML files at process start. The
// resulting Store is immutable and safe to share by reference across all
// concurrent evaluations.
package content

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forgepath/forgepath/internal/progress"
)

// Store holds the loaded curriculum.
type Store struct {
	phases       []Phase // ordered by ordinal
	topics       map[string]Topic
	topicPhase   map[string]string // topic id -> phase slug
	questions    map[string]Question
	requirements map[string]HandsOnRequirement
	reqPhase     map[string]string // requirement id -> phase slug
	version      string
}

// Load reads every *.phase.yaml under rootDir, validates it against the phase
// schema and the structural invariants, and returns an immutable Store.
func Load(rootDir string) (*Store, error) {
	s := &Store{
		topics:       make(map[string]Topic),
		topicPhase:   make(map[string]string),
		questions:    make(map[string]Question),
		requirements: make(map[string]HandsOnRequirement),
		reqPhase:     make(map[string]string),
	}

	var files []string
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".phase.yaml") || strings.HasSuffix(path, ".phase.yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", rootDir, err)
	}
	sort.Strings(files)

	hash := sha256.New()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		hash.Write(data)

		phase, err := decodePhase(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := s.index(phase); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	sort.Slice(s.phases, func(i, j int) bool { return s.phases[i].Ordinal < s.phases[j].Ordinal })
	if err := checkOrdinals(s.phases); err != nil {
		return nil, err
	}

	s.version = fmt.Sprintf("%x", hash.Sum(nil))[:16]
	slog.Info("curriculum loaded",
		"phases", len(s.phases),
		"topics", len(s.topics),
		"questions", len(s.questions),
		"version", s.version,
	)
	return s, nil
}

func decodePhase(data []byte) (Phase, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Phase{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := validatePhaseDoc(normalizeYAML(doc)); err != nil {
		return Phase{}, err
	}

	var phase Phase
	if err := yaml.Unmarshal(data, &phase); err != nil {
		return Phase{}, fmt.Errorf("decoding phase: %w", err)
	}
	return phase, nil
}

func (s *Store) index(phase Phase) error {
	for _, p := range s.phases {
		if p.Slug == phase.Slug {
			return fmt.Errorf("duplicate phase slug %q", phase.Slug)
		}
	}

	for _, topic := range phase.Topics {
		if _, exists := s.topics[topic.ID]; exists {
			return fmt.Errorf("duplicate topic id %q", topic.ID)
		}
		if err := checkSteps(topic); err != nil {
			return err
		}
		s.topics[topic.ID] = topic
		s.topicPhase[topic.ID] = phase.Slug

		for _, q := range topic.Questions {
			if _, exists := s.questions[q.ID]; exists {
				return fmt.Errorf("duplicate question id %q", q.ID)
			}
			s.questions[q.ID] = q
		}
	}

	for _, req := range phase.Requirements {
		if _, exists := s.requirements[req.ID]; exists {
			return fmt.Errorf("duplicate requirement id %q", req.ID)
		}
		if !KnownKind(req.Kind) {
			return fmt.Errorf("requirement %q has unknown kind %q", req.ID, req.Kind)
		}
		s.requirements[req.ID] = req
		s.reqPhase[req.ID] = phase.Slug
	}

	s.phases = append(s.phases, phase)
	return nil
}

func checkOrdinals(phases []Phase) error {
	for i, p := range phases {
		if p.Ordinal != i {
			return fmt.Errorf("phase ordinals must be contiguous from 0: got %d at position %d", p.Ordinal, i)
		}
	}
	return nil
}

func checkSteps(topic Topic) error {
	for i, step := range topic.Steps {
		if step.Order != i+1 {
			return fmt.Errorf("topic %q: step orders must be contiguous from 1, got %d at position %d", topic.ID, step.Order, i)
		}
	}
	return nil
}

// Version is a short content hash identifying this curriculum load, used for
// memoization keys.
func (s *Store) Version() string { return s.version }

// Phases returns all phases ordered by ordinal.
func (s *Store) Phases() []Phase { return s.phases }

// Phase returns a phase by slug.
func (s *Store) Phase(slug string) (Phase, bool) {
	for _, p := range s.phases {
		if p.Slug == slug {
			return p, true
		}
	}
	return Phase{}, false
}

// Topic returns a topic by id.
func (s *Store) Topic(id string) (Topic, bool) {
	t, ok := s.topics[id]
	return t, ok
}

// Question returns a question by id.
func (s *Store) Question(id string) (Question, bool) {
	q, ok := s.questions[id]
	return q, ok
}

// Requirement returns a hands-on requirement by id, plus its phase slug.
func (s *Store) Requirement(id string) (HandsOnRequirement, string, bool) {
	r, ok := s.requirements[id]
	return r, s.reqPhase[id], ok
}

// Snapshots converts the curriculum into the evaluator's input form.
func (s *Store) Snapshots() []progress.PhaseSnapshot {
	out := make([]progress.PhaseSnapshot, 0, len(s.phases))
	for _, phase := range s.phases {
		ps := progress.PhaseSnapshot{
			Ordinal: phase.Ordinal,
			Slug:    phase.Slug,
		}
		for _, topic := range phase.Topics {
			ts := progress.TopicSnapshot{ID: topic.ID}
			for _, step := range topic.Steps {
				ts.StepOrders = append(ts.StepOrders, step.Order)
			}
			for _, q := range topic.Questions {
				ts.QuestionIDs = append(ts.QuestionIDs, q.ID)
			}
			ps.Topics = append(ps.Topics, ts)
		}
		for _, req := range phase.Requirements {
			ps.RequirementIDs = append(ps.RequirementIDs, req.ID)
		}
		out = append(out, ps)
	}
	return out
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/progress"
)

// MemoryStore is an in-memory Store implementation for tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	steps        map[string]map[string]map[int]time.Time // user -> topic -> order -> completed at
	attempts     map[string][]grading.Attempt            // user/question -> log
	submissions  map[string]map[string]Submission        // user -> requirement -> submission
	badges       map[string]map[string]time.Time         // user -> badge -> awarded at
	certificates map[string]map[string]Certificate       // user -> type -> certificate
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:        make(map[string]map[string]map[int]time.Time),
		attempts:     make(map[string][]grading.Attempt),
		submissions:  make(map[string]map[string]Submission),
		badges:       make(map[string]map[string]time.Time),
		certificates: make(map[string]map[string]Certificate),
	}
}

func attemptKey(userID, questionID string) string {
	return userID + "/" + questionID
}

func (s *MemoryStore) CompleteStep(_ context.Context, userID, topicID string, order int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.steps[userID] == nil {
		s.steps[userID] = make(map[string]map[int]time.Time)
	}
	if s.steps[userID][topicID] == nil {
		s.steps[userID][topicID] = make(map[int]time.Time)
	}
	if _, done := s.steps[userID][topicID][order]; !done {
		s.steps[userID][topicID][order] = at
	}
	return nil
}

func (s *MemoryStore) UncompleteStep(_ context.Context, userID, topicID string, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if topics := s.steps[userID]; topics != nil {
		delete(topics[topicID], order)
	}
	return nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, userID, questionID string, attempt grading.Attempt) error {
	if attempt.At.IsZero() {
		return fmt.Errorf("attempt timestamp is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := attemptKey(userID, questionID)
	s.attempts[key] = append(s.attempts[key], attempt)
	return nil
}

func (s *MemoryStore) Attempts(_ context.Context, userID, questionID string) ([]grading.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.attempts[attemptKey(userID, questionID)]
	return append([]grading.Attempt{}, log...), nil
}

func (s *MemoryStore) SaveSubmission(_ context.Context, userID string, sub Submission) error {
	if sub.RequirementID == "" {
		return fmt.Errorf("requirement_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submissions[userID] == nil {
		s.submissions[userID] = make(map[string]Submission)
	}
	// A validated submission is authoritative; never downgrade it.
	if existing, ok := s.submissions[userID][sub.RequirementID]; ok && existing.Validated && !sub.Validated {
		return nil
	}
	s.submissions[userID][sub.RequirementID] = sub
	return nil
}

func (s *MemoryStore) Submission(_ context.Context, userID, requirementID string) (Submission, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[userID][requirementID]
	return sub, ok, nil
}

func (s *MemoryStore) AwardBadge(_ context.Context, userID, badgeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.badges[userID] == nil {
		s.badges[userID] = make(map[string]time.Time)
	}
	if _, ok := s.badges[userID][badgeID]; !ok {
		s.badges[userID][badgeID] = at
	}
	return nil
}

func (s *MemoryStore) Badges(_ context.Context, userID string) ([]BadgeAward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BadgeAward, 0, len(s.badges[userID]))
	for id, at := range s.badges[userID] {
		out = append(out, BadgeAward{BadgeID: id, AwardedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

func (s *MemoryStore) IssueCertificate(_ context.Context, cert Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.certificates[cert.UserID] == nil {
		s.certificates[cert.UserID] = make(map[string]Certificate)
	}
	if _, ok := s.certificates[cert.UserID][cert.Type]; ok {
		return ErrAlreadyIssued
	}
	s.certificates[cert.UserID][cert.Type] = cert
	return nil
}

func (s *MemoryStore) Certificate(_ context.Context, userID, certType string) (Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.certificates[userID][certType]
	return cert, ok, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, userID string) (progress.CompletionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comp := progress.CompletionSnapshot{
		Steps:                 make(map[string]map[int]bool),
		PassedQuestions:       make(map[string]bool),
		ValidatedRequirements: make(map[string]bool),
	}

	for topicID, orders := range s.steps[userID] {
		for order := range orders {
			if comp.Steps[topicID] == nil {
				comp.Steps[topicID] = make(map[int]bool)
			}
			comp.Steps[topicID][order] = true
		}
	}
	for key, log := range s.attempts {
		uid, qid, ok := splitAttemptKey(key)
		if !ok || uid != userID {
			continue
		}
		for _, a := range log {
			if a.Pass {
				comp.PassedQuestions[qid] = true
				break
			}
		}
	}
	for rid, sub := range s.submissions[userID] {
		if sub.Validated {
			comp.ValidatedRequirements[rid] = true
		}
	}

	comp.Version = snapshotVersion(comp)
	return comp, nil
}

func (s *MemoryStore) ActivityDays(_ context.Context, userID string) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[time.Time]bool)
	add := func(at time.Time) {
		if !at.IsZero() {
			y, m, d := at.UTC().Date()
			days[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = true
		}
	}

	for _, orders := range s.steps[userID] {
		for _, at := range orders {
			add(at)
		}
	}
	for key, log := range s.attempts {
		if uid, _, ok := splitAttemptKey(key); ok && uid == userID {
			for _, a := range log {
				add(a.At)
			}
		}
	}
	for _, sub := range s.submissions[userID] {
		add(sub.SubmittedAt)
	}

	out := make([]time.Time, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func splitAttemptKey(key string) (userID, questionID string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

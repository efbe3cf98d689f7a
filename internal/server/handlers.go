package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/forgepath/forgepath/internal/auth"
	"github.com/forgepath/forgepath/internal/award"
	"github.com/forgepath/forgepath/internal/content"
	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/handson"
	"github.com/forgepath/forgepath/internal/progress"
	"github.com/forgepath/forgepath/internal/store"
)

// evaluate reads the user's completion facts and runs the (memoized)
// evaluator over the whole curriculum.
func (s *Server) evaluate(ctx context.Context, userID string) ([]progress.PhaseProgress, error) {
	comp, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading completion snapshot: %w", err)
	}
	return s.memo.EvaluateAll(ctx, userID, s.content.Version(), s.content.Snapshots(), comp), nil
}

// unlockAll marks every phase and topic unlocked in the serialized view.
// Admins bypass the unlock chain at the API boundary only; nothing about the
// bypass is ever persisted.
func unlockAll(results []progress.PhaseProgress) []progress.PhaseProgress {
	for i := range results {
		results[i].Unlocked = true
		for j := range results[i].Topics {
			results[i].Topics[j].Unlocked = true
		}
	}
	return results
}

func topicState(results []progress.PhaseProgress, topicID string) (progress.TopicProgress, bool) {
	for _, pp := range results {
		for _, tp := range pp.Topics {
			if tp.TopicID == topicID {
				return tp, true
			}
		}
	}
	return progress.TopicProgress{}, false
}

func (s *Server) handleCurriculum(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.content.Version(),
		"phases":  s.content.View(),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	results, err := s.evaluate(r.Context(), id.UserID)
	if err != nil {
		slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
		return
	}
	if id.Admin {
		results = unlockAll(results)
	}

	completed, total, pct := progress.Overall(results)
	writeJSON(w, http.StatusOK, map[string]any{
		"phases": results,
		"overall": map[string]any{
			"phases_completed": completed,
			"phases_total":     total,
			"percentage":       pct,
		},
	})
}

func (s *Server) handlePhaseProgress(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	slug := r.PathValue("phase")

	if _, ok := s.content.Phase(slug); !ok {
		writeError(w, http.StatusNotFound, "unknown phase")
		return
	}

	results, err := s.evaluate(r.Context(), id.UserID)
	if err != nil {
		slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
		return
	}
	if id.Admin {
		results = unlockAll(results)
	}

	for _, pp := range results {
		if pp.Slug == slug {
			writeJSON(w, http.StatusOK, pp)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown phase")
}

// stepRef resolves and authorizes a step write. A locked topic rejects
// non-admin writes.
func (s *Server) stepRef(r *http.Request, id auth.Identity) (topicID string, order int, status int, errMsg string) {
	topicID = r.PathValue("topic")
	order, err := strconv.Atoi(r.PathValue("order"))
	if err != nil {
		return "", 0, http.StatusBadRequest, "step order must be an integer"
	}

	topic, ok := s.content.Topic(topicID)
	if !ok {
		return "", 0, http.StatusNotFound, "unknown topic"
	}
	if order < 1 || order > len(topic.Steps) {
		return "", 0, http.StatusNotFound, "unknown step"
	}

	if !id.Admin {
		results, err := s.evaluate(r.Context(), id.UserID)
		if err != nil {
			slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
			return "", 0, http.StatusInternalServerError, "failed to evaluate progress"
		}
		if tp, ok := topicState(results, topicID); ok && !tp.Unlocked {
			return "", 0, http.StatusForbidden, "topic is locked"
		}
	}
	return topicID, order, 0, ""
}

func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	topicID, order, status, msg := s.stepRef(r, id)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	if err := s.store.CompleteStep(r.Context(), id.UserID, topicID, order, s.now()); err != nil {
		slog.Error("step completion failed", "user_id", id.UserID, "topic_id", topicID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record step")
		return
	}
	s.memo.Invalidate(r.Context(), id.UserID)
	s.bus.Publish(Event{
		UserID: id.UserID,
		Kind:   EventStepCompleted,
		Ref:    fmt.Sprintf("%s/%d", topicID, order),
		At:     s.now(),
	})

	s.respondTopic(w, r, id, topicID)
}

func (s *Server) handleUncompleteStep(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	topicID, order, status, msg := s.stepRef(r, id)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	if err := s.store.UncompleteStep(r.Context(), id.UserID, topicID, order); err != nil {
		slog.Error("step removal failed", "user_id", id.UserID, "topic_id", topicID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove step")
		return
	}
	s.memo.Invalidate(r.Context(), id.UserID)
	s.bus.Publish(Event{
		UserID: id.UserID,
		Kind:   EventStepUncompleted,
		Ref:    fmt.Sprintf("%s/%d", topicID, order),
		At:     s.now(),
	})

	s.respondTopic(w, r, id, topicID)
}

// respondTopic returns the freshly re-evaluated standing of one topic.
func (s *Server) respondTopic(w http.ResponseWriter, r *http.Request, id auth.Identity, topicID string) {
	results, err := s.evaluate(r.Context(), id.UserID)
	if err != nil {
		slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
		return
	}
	if id.Admin {
		results = unlockAll(results)
	}
	if tp, ok := topicState(results, topicID); ok {
		writeJSON(w, http.StatusOK, tp)
		return
	}
	writeError(w, http.StatusNotFound, "unknown topic")
}

// questionTopic finds the topic a question belongs to.
func (s *Server) questionTopic(questionID string) (content.Topic, bool) {
	for _, phase := range s.content.Phases() {
		for _, topic := range phase.Topics {
			for _, q := range topic.Questions {
				if q.ID == questionID {
					return topic, true
				}
			}
		}
	}
	return content.Topic{}, false
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	questionID := r.PathValue("question")

	question, ok := s.content.Question(questionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown question")
		return
	}

	if !id.Admin {
		topic, _ := s.questionTopic(questionID)
		results, err := s.evaluate(r.Context(), id.UserID)
		if err != nil {
			slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
			return
		}
		if tp, ok := topicState(results, topic.ID); ok && !tp.Unlocked {
			writeError(w, http.StatusForbidden, "topic is locked")
			return
		}
	}

	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Answer) == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}

	history, err := s.store.Attempts(r.Context(), id.UserID, questionID)
	if err != nil {
		slog.Error("reading attempt history failed", "user_id", id.UserID, "question_id", questionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read attempt history")
		return
	}

	now := s.now()

	// Check the lockout before spending a grading call.
	if until, locked := s.policy.LockedUntil(history, now); locked {
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":         "question is locked after repeated failures",
			"lockout_until": until,
		})
		return
	}

	dec, err := s.grader.Grade(r.Context(), question.Prompt, question.Concepts, body.Answer)
	if err != nil {
		if errors.Is(err, grading.ErrUnavailable) {
			// No attempt is recorded: infrastructure trouble is not the
			// learner's failure.
			writeError(w, http.StatusServiceUnavailable, "grading is temporarily unavailable, try again")
			return
		}
		slog.Error("grading failed", "question_id", questionID, "error", err)
		writeError(w, http.StatusInternalServerError, "grading failed")
		return
	}

	outcome, err := s.policy.Apply(history, dec, now)
	if err != nil {
		var lockErr *grading.LockoutError
		if errors.As(err, &lockErr) {
			writeJSON(w, http.StatusLocked, map[string]any{
				"error":         "question is locked after repeated failures",
				"lockout_until": lockErr.Until,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to apply grading policy")
		return
	}

	attempt := grading.Attempt{At: now, Pass: dec.Pass, Feedback: dec.Feedback, Confidence: dec.Confidence}
	if err := s.store.RecordAttempt(r.Context(), id.UserID, questionID, attempt); err != nil {
		slog.Error("recording attempt failed", "user_id", id.UserID, "question_id", questionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record attempt")
		return
	}

	if dec.Pass {
		s.memo.Invalidate(r.Context(), id.UserID)
		s.bus.Publish(Event{UserID: id.UserID, Kind: EventQuestionPassed, Ref: questionID, At: now})
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	phaseSlug := r.PathValue("phase")
	requirementID := r.PathValue("requirement")

	req, owner, ok := s.content.Requirement(requirementID)
	if !ok || owner != phaseSlug {
		writeError(w, http.StatusNotFound, "unknown requirement")
		return
	}

	if !id.Admin {
		results, err := s.evaluate(r.Context(), id.UserID)
		if err != nil {
			slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
			return
		}
		for _, pp := range results {
			if pp.Slug == phaseSlug && !pp.Unlocked {
				writeError(w, http.StatusForbidden, "phase is locked")
				return
			}
		}
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Value) == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	res, err := s.validator.Validate(r.Context(), req, body.Value)
	if err != nil {
		if errors.Is(err, handson.ErrTransient) {
			writeError(w, http.StatusServiceUnavailable, "validation is temporarily unavailable, try again")
			return
		}
		slog.Error("submission validation failed", "requirement_id", requirementID, "error", err)
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	now := s.now()
	sub := store.Submission{
		RequirementID: requirementID,
		Value:         strings.TrimSpace(body.Value),
		Validated:     res.Valid,
		SubmittedAt:   now,
	}
	if res.Valid {
		sub.ValidatedAt = &now
	}
	if err := s.store.SaveSubmission(r.Context(), id.UserID, sub); err != nil {
		slog.Error("saving submission failed", "user_id", id.UserID, "requirement_id", requirementID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save submission")
		return
	}

	if res.Valid {
		s.memo.Invalidate(r.Context(), id.UserID)
		s.bus.Publish(Event{UserID: id.UserID, Kind: EventRequirementValidated, Ref: requirementID, At: now})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"validated": res.Valid,
		"detail":    res.Detail,
	})
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	ctx := r.Context()

	results, err := s.evaluate(ctx, id.UserID)
	if err != nil {
		slog.Error("progress evaluation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
		return
	}

	days, err := s.store.ActivityDays(ctx, id.UserID)
	if err != nil {
		slog.Error("reading activity days failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read activity")
		return
	}
	streak := award.CurrentStreak(days, s.now())

	// Persist newly earned badges so the award timestamp is the first time
	// the badge was seen, then serve the persisted set.
	for _, badgeID := range award.Badges(results, streak) {
		if err := s.store.AwardBadge(ctx, id.UserID, badgeID, s.now()); err != nil {
			slog.Error("awarding badge failed", "user_id", id.UserID, "badge_id", badgeID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to award badges")
			return
		}
	}

	awards, err := s.store.Badges(ctx, id.UserID)
	if err != nil {
		slog.Error("reading badges failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read badges")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"badges":         awards,
		"current_streak": streak,
	})
}

// eligibility derives the certificate eligibility record for the caller.
func (s *Server) eligibility(ctx context.Context, userID, certType string) (award.Eligibility, error) {
	results, err := s.evaluate(ctx, userID)
	if err != nil {
		return award.Eligibility{}, err
	}
	_, issued, err := s.store.Certificate(ctx, userID, certType)
	if err != nil {
		return award.Eligibility{}, fmt.Errorf("reading certificate: %w", err)
	}
	return award.CertificateEligibility(certType, results, issued)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	certType := r.PathValue("type")

	elig, err := s.eligibility(r.Context(), id.UserID, certType)
	if err != nil {
		if certType != award.CertFullCompletion {
			writeError(w, http.StatusNotFound, "unknown certificate type")
			return
		}
		slog.Error("eligibility derivation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to derive eligibility")
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	certType := r.PathValue("type")

	elig, err := s.eligibility(r.Context(), id.UserID, certType)
	if err != nil {
		if certType != award.CertFullCompletion {
			writeError(w, http.StatusNotFound, "unknown certificate type")
			return
		}
		slog.Error("eligibility derivation failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to derive eligibility")
		return
	}
	if !elig.Eligible {
		writeError(w, http.StatusConflict, "not eligible for this certificate")
		return
	}

	now := s.now()
	certRecord := store.Certificate{
		ID:       uuid.NewString(),
		UserID:   id.UserID,
		Type:     certType,
		IssuedAt: now,
	}
	if err := s.store.IssueCertificate(r.Context(), certRecord); err != nil {
		if errors.Is(err, store.ErrAlreadyIssued) {
			writeError(w, http.StatusConflict, "certificate already issued")
			return
		}
		slog.Error("issuing certificate failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue certificate")
		return
	}

	s.bus.Publish(Event{UserID: id.UserID, Kind: EventCertificateIssued, Ref: certType, At: now})
	writeJSON(w, http.StatusCreated, certRecord)
}

func (s *Server) handleCertificateImage(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	certType := r.PathValue("type")

	if s.renderer == nil {
		writeError(w, http.StatusNotFound, "certificate rendering is not configured")
		return
	}

	certRecord, ok, err := s.store.Certificate(r.Context(), id.UserID, certType)
	if err != nil {
		slog.Error("reading certificate failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read certificate")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "certificate not issued")
		return
	}

	png, err := s.renderer.Render(id.Name, certRecord.ID, certRecord.IssuedAt)
	if err != nil {
		slog.Error("rendering certificate failed", "certificate_id", certRecord.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render certificate")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

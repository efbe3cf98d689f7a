package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/progress"
)

const dbTimeout = 5 * time.Second

// PostgresStore is the PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, userID, topicID string, order int, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_completions (user_id, topic_id, step_order, completed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, topic_id, step_order) DO NOTHING`,
		userID, topicID, order, at,
	)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

func (s *PostgresStore) UncompleteStep(ctx context.Context, userID, topicID string, order int) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`DELETE FROM step_completions
		 WHERE user_id = $1 AND topic_id = $2 AND step_order = $3`,
		userID, topicID, order,
	)
	if err != nil {
		return fmt.Errorf("uncomplete step: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, userID, questionID string, attempt grading.Attempt) error {
	if attempt.At.IsZero() {
		return fmt.Errorf("attempt timestamp is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO question_attempts (user_id, question_id, passed, feedback, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, questionID, attempt.Pass, attempt.Feedback, attempt.Confidence, attempt.At,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Attempts(ctx context.Context, userID, questionID string) ([]grading.Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT passed, feedback, confidence, created_at
		 FROM question_attempts
		 WHERE user_id = $1 AND question_id = $2
		 ORDER BY created_at ASC`,
		userID, questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []grading.Attempt
	for rows.Next() {
		var a grading.Attempt
		if err := rows.Scan(&a.Pass, &a.Feedback, &a.Confidence, &a.At); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveSubmission(ctx context.Context, userID string, sub Submission) error {
	if sub.RequirementID == "" {
		return fmt.Errorf("requirement_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	// A validated row is authoritative: the upsert never downgrades it.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO handson_submissions (user_id, requirement_id, value, validated, submitted_at, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, requirement_id) DO UPDATE
		 SET value = EXCLUDED.value,
		     validated = EXCLUDED.validated,
		     submitted_at = EXCLUDED.submitted_at,
		     validated_at = EXCLUDED.validated_at
		 WHERE NOT (handson_submissions.validated AND NOT EXCLUDED.validated)`,
		userID, sub.RequirementID, sub.Value, sub.Validated, sub.SubmittedAt, sub.ValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) Submission(ctx context.Context, userID, requirementID string) (Submission, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var sub Submission
	err := s.pool.QueryRow(ctx,
		`SELECT requirement_id, value, validated, submitted_at, validated_at
		 FROM handson_submissions
		 WHERE user_id = $1 AND requirement_id = $2`,
		userID, requirementID,
	).Scan(&sub.RequirementID, &sub.Value, &sub.Validated, &sub.SubmittedAt, &sub.ValidatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, false, nil
		}
		return Submission{}, false, fmt.Errorf("get submission: %w", err)
	}
	return sub, true, nil
}

func (s *PostgresStore) AwardBadge(ctx context.Context, userID, badgeID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO badge_awards (user_id, badge_id, awarded_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		userID, badgeID, at,
	)
	if err != nil {
		return fmt.Errorf("award badge: %w", err)
	}
	return nil
}

func (s *PostgresStore) Badges(ctx context.Context, userID string) ([]BadgeAward, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT badge_id, awarded_at
		 FROM badge_awards
		 WHERE user_id = $1
		 ORDER BY badge_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query badges: %w", err)
	}
	defer rows.Close()

	var out []BadgeAward
	for rows.Next() {
		var b BadgeAward
		if err := rows.Scan(&b.BadgeID, &b.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) IssueCertificate(ctx context.Context, cert Certificate) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (id, user_id, cert_type, issued_at)
		 VALUES ($1::uuid, $2, $3, $4)
		 ON CONFLICT (user_id, cert_type) DO NOTHING`,
		cert.ID, cert.UserID, cert.Type, cert.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyIssued
	}
	return nil
}

func (s *PostgresStore) Certificate(ctx context.Context, userID, certType string) (Certificate, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var cert Certificate
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, user_id, cert_type, issued_at
		 FROM certificates
		 WHERE user_id = $1 AND cert_type = $2`,
		userID, certType,
	).Scan(&cert.ID, &cert.UserID, &cert.Type, &cert.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Certificate{}, false, nil
		}
		return Certificate{}, false, fmt.Errorf("get certificate: %w", err)
	}
	return cert, true, nil
}

// Snapshot reads all completion facts inside one repeatable-read transaction
// so the evaluator never sees a torn view.
func (s *PostgresStore) Snapshot(ctx context.Context, userID string) (progress.CompletionSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	comp := progress.CompletionSnapshot{
		Steps:                 make(map[string]map[int]bool),
		PassedQuestions:       make(map[string]bool),
		ValidatedRequirements: make(map[string]bool),
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return comp, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT topic_id, step_order FROM step_completions WHERE user_id = $1`, userID)
	if err != nil {
		return comp, fmt.Errorf("query step completions: %w", err)
	}
	for rows.Next() {
		var topicID string
		var order int
		if err := rows.Scan(&topicID, &order); err != nil {
			rows.Close()
			return comp, fmt.Errorf("scan step completion: %w", err)
		}
		if comp.Steps[topicID] == nil {
			comp.Steps[topicID] = make(map[int]bool)
		}
		comp.Steps[topicID][order] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return comp, fmt.Errorf("iterate step completions: %w", err)
	}

	rows, err = tx.Query(ctx,
		`SELECT DISTINCT question_id FROM question_attempts WHERE user_id = $1 AND passed`, userID)
	if err != nil {
		return comp, fmt.Errorf("query passed questions: %w", err)
	}
	for rows.Next() {
		var qid string
		if err := rows.Scan(&qid); err != nil {
			rows.Close()
			return comp, fmt.Errorf("scan passed question: %w", err)
		}
		comp.PassedQuestions[qid] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return comp, fmt.Errorf("iterate passed questions: %w", err)
	}

	rows, err = tx.Query(ctx,
		`SELECT requirement_id FROM handson_submissions WHERE user_id = $1 AND validated`, userID)
	if err != nil {
		return comp, fmt.Errorf("query validated submissions: %w", err)
	}
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return comp, fmt.Errorf("scan validated submission: %w", err)
		}
		comp.ValidatedRequirements[rid] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return comp, fmt.Errorf("iterate validated submissions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return comp, fmt.Errorf("commit snapshot tx: %w", err)
	}

	comp.Version = snapshotVersion(comp)
	return comp, nil
}

func (s *PostgresStore) ActivityDays(ctx context.Context, userID string) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT day FROM (
		     SELECT date_trunc('day', completed_at AT TIME ZONE 'UTC') AS day
		       FROM step_completions WHERE user_id = $1
		     UNION
		     SELECT date_trunc('day', created_at AT TIME ZONE 'UTC')
		       FROM question_attempts WHERE user_id = $1
		     UNION
		     SELECT date_trunc('day', submitted_at AT TIME ZONE 'UTC')
		       FROM handson_submissions WHERE user_id = $1
		 ) t
		 ORDER BY day ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity days: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan activity day: %w", err)
		}
		out = append(out, time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity days: %w", err)
	}
	return out, nil
}

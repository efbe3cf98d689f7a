package store

import (
	"context"
	"errors"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/platform/database"
)

// startPostgres spins up a throwaway database, runs migrations and returns a
// connected store. Skipped with -short or when Docker is unavailable.
func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("forgepath_test"),
		tcpostgres.WithUsername("forgepath"),
		tcpostgres.WithPassword("forgepath"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	if err := database.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := database.New(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	s, err := NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	return s
}

func TestPostgresStore_SnapshotRoundTrip(t *testing.T) {
	s := startPostgres(t)
	ctx := t.Context()
	at := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

	if err := s.CompleteStep(ctx, "alice", "linux-pipes", 1, at); err != nil {
		t.Fatalf("CompleteStep() error = %v", err)
	}
	if err := s.CompleteStep(ctx, "alice", "linux-pipes", 1, at.Add(time.Hour)); err != nil {
		t.Fatalf("CompleteStep() repeat error = %v", err)
	}
	if err := s.RecordAttempt(ctx, "alice", "q-pipes-1", grading.Attempt{At: at, Pass: false, Feedback: "no"}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if err := s.RecordAttempt(ctx, "alice", "q-pipes-1", grading.Attempt{At: at.Add(time.Minute), Pass: true, Confidence: 0.9}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	vt := at.Add(2 * time.Minute)
	if err := s.SaveSubmission(ctx, "alice", Submission{
		RequirementID: "fork-coreutils",
		Value:         "https://github.com/alice/coreutils",
		Validated:     true,
		SubmittedAt:   at,
		ValidatedAt:   &vt,
	}); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	comp, err := s.Snapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !comp.StepDone("linux-pipes", 1) {
		t.Error("step completion missing from snapshot")
	}
	if !comp.PassedQuestions["q-pipes-1"] {
		t.Error("passed question missing from snapshot")
	}
	if !comp.ValidatedRequirements["fork-coreutils"] {
		t.Error("validated requirement missing from snapshot")
	}
	if comp.Version == "" {
		t.Error("snapshot version is empty")
	}

	attempts, err := s.Attempts(ctx, "alice", "q-pipes-1")
	if err != nil {
		t.Fatalf("Attempts() error = %v", err)
	}
	if len(attempts) != 2 || attempts[0].Pass || !attempts[1].Pass {
		t.Errorf("attempt log = %+v, want fail then pass", attempts)
	}

	other, err := s.Snapshot(ctx, "bob")
	if err != nil {
		t.Fatalf("Snapshot(bob) error = %v", err)
	}
	if len(other.Steps) != 0 || len(other.PassedQuestions) != 0 {
		t.Errorf("bob sees alice's facts: %+v", other)
	}
}

func TestPostgresStore_ValidatedSubmissionSurvivesRetry(t *testing.T) {
	s := startPostgres(t)
	ctx := t.Context()
	at := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	vt := at.Add(time.Minute)

	if err := s.SaveSubmission(ctx, "alice", Submission{
		RequirementID: "deploy-blog",
		Value:         "https://blog.example.net",
		Validated:     true,
		SubmittedAt:   at,
		ValidatedAt:   &vt,
	}); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}
	if err := s.SaveSubmission(ctx, "alice", Submission{
		RequirementID: "deploy-blog",
		Value:         "https://other.example.net",
		Validated:     false,
		SubmittedAt:   at.Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveSubmission() retry error = %v", err)
	}

	sub, ok, err := s.Submission(ctx, "alice", "deploy-blog")
	if err != nil || !ok {
		t.Fatalf("Submission() = %v, %v, %v", sub, ok, err)
	}
	if !sub.Validated || sub.Value != "https://blog.example.net" {
		t.Errorf("validated submission was downgraded: %+v", sub)
	}
}

func TestPostgresStore_BadgesAndCertificates(t *testing.T) {
	s := startPostgres(t)
	ctx := t.Context()
	at := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

	for _, id := range []string{"streak-7", "phase-0", "phase-0"} {
		if err := s.AwardBadge(ctx, "alice", id, at); err != nil {
			t.Fatalf("AwardBadge(%s) error = %v", id, err)
		}
	}
	badges, err := s.Badges(ctx, "alice")
	if err != nil {
		t.Fatalf("Badges() error = %v", err)
	}
	if len(badges) != 2 || badges[0].BadgeID != "phase-0" {
		t.Errorf("Badges() = %+v, want [phase-0 streak-7]", badges)
	}

	cert := Certificate{
		ID:       "0b6f8f9e-3a56-4e6e-9f18-0f2d8f6f1c11",
		UserID:   "alice",
		Type:     "completion",
		IssuedAt: at,
	}
	if err := s.IssueCertificate(ctx, cert); err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	if err := s.IssueCertificate(ctx, cert); !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("second IssueCertificate() error = %v, want ErrAlreadyIssued", err)
	}

	got, ok, err := s.Certificate(ctx, "alice", "completion")
	if err != nil || !ok {
		t.Fatalf("Certificate() = %v, %v, %v", got, ok, err)
	}
	if got.ID != cert.ID || !got.IssuedAt.Equal(at) {
		t.Errorf("Certificate() = %+v, want %+v", got, cert)
	}
}

func TestPostgresStore_ActivityDays(t *testing.T) {
	s := startPostgres(t)
	ctx := t.Context()

	day1 := time.Date(2026, 4, 10, 23, 30, 0, 0, time.UTC)
	if err := s.CompleteStep(ctx, "alice", "linux-pipes", 1, day1); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAttempt(ctx, "alice", "q-pipes-1", grading.Attempt{At: day1.Add(10 * time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSubmission(ctx, "alice", Submission{
		RequirementID: "fork-coreutils",
		Value:         "x",
		SubmittedAt:   day1.AddDate(0, 0, 2),
	}); err != nil {
		t.Fatal(err)
	}

	days, err := s.ActivityDays(ctx, "alice")
	if err != nil {
		t.Fatalf("ActivityDays() error = %v", err)
	}
	want := []time.Time{
		time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
	}
	if len(days) != len(want) {
		t.Fatalf("ActivityDays() = %v, want %v", days, want)
	}
	for i := range want {
		if !days[i].Equal(want[i]) {
			t.Errorf("days[%d] = %v, want %v", i, days[i], want[i])
		}
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgepath/forgepath/internal/auth"
	"github.com/forgepath/forgepath/internal/content"
	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/handson"
	"github.com/forgepath/forgepath/internal/llm"
	"github.com/forgepath/forgepath/internal/progress"
	"github.com/forgepath/forgepath/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	handler http.Handler
	mock    *llm.MockProvider
	store   *store.MemoryStore
	clock   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctfHash, err := bcrypt.GenerateFromPassword([]byte("flag{intro}"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	writeYAML(t, filepath.Join(dir, "00-foundations.phase.yaml"), fmt.Sprintf(`
phase: 0
name: Foundations
slug: foundations
topics:
  - id: linux-basics
    name: Linux Basics
    steps:
      - order: 1
        text: "Install a Linux VM"
      - order: 2
        text: "Practice shell navigation"
    questions:
      - id: q-shell
        prompt: "Explain what a pipe does in a shell."
        concepts:
          - "stdout of one process to stdin of another"
requirements:
  - id: ctf-intro
    name: Intro CTF
    kind: ctf_token
    params:
      token_hash: %q
`, string(ctfHash)))
	writeYAML(t, filepath.Join(dir, "01-networking.phase.yaml"), `
phase: 1
name: Networking
slug: networking
topics:
  - id: tcp-ip
    name: TCP/IP
    steps:
      - order: 1
        text: "Capture a handshake"
`)

	contentStore, err := content.Load(dir)
	if err != nil {
		t.Fatalf("loading test curriculum: %v", err)
	}

	mock := llm.NewMockProvider(`{"pass": true, "feedback": "Good.", "confidence": 0.9}`)
	router := llm.NewRouter()
	router.Register("mock", mock)

	env := &testEnv{
		mock:  mock,
		store: store.NewMemoryStore(),
		clock: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}

	srv := New(Options{
		Content:    contentStore,
		Store:      env.store,
		Memo:       progress.NewMemo(nil, 0),
		Grader:     grading.NewGrader(router),
		Policy:     grading.Policy{MaxFailures: 3, Window: 15 * time.Minute},
		Validator:  handson.NewValidator(github.NewClient(nil), nil),
		Auth:       auth.NewVerifier(testJWTSecret, ""),
		CertIssuer: "ForgePath",
		Now:        func() time.Time { return env.clock },
	})
	env.handler = srv.Routes()
	return env
}

func writeYAML(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   userID,
		"name":  "Test Learner",
		"admin": admin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

// completeFoundations drives alice through everything phase 0 requires.
func (e *testEnv) completeFoundations(t *testing.T, bearer string) {
	t.Helper()
	for _, order := range []int{1, 2} {
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/topics/linux-basics/steps/%d", order), bearer, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("completing step %d: status %d: %s", order, rec.Code, rec.Body.String())
		}
	}
	rec := e.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "It connects stdout to stdin."})
	if rec.Code != http.StatusOK {
		t.Fatalf("passing question: status %d: %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/api/v1/phases/foundations/requirements/ctf-intro", bearer, map[string]string{"value": "flag{intro}"})
	if rec.Code != http.StatusOK {
		t.Fatalf("validating requirement: status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/progress", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a token", rec.Code)
	}
}

func TestCurriculum(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/curriculum", token(t, "alice", false), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "linux-basics") {
		t.Error("curriculum missing topics")
	}
	if strings.Contains(body, "stdout of one process") {
		t.Error("curriculum leaks grading concepts")
	}
	if strings.Contains(body, "token_hash") {
		t.Error("curriculum leaks requirement params")
	}
}

func TestProgress_InitialState(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/progress", token(t, "alice", false), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Phases []progress.PhaseProgress `json:"phases"`
	}](t, rec)

	if len(resp.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(resp.Phases))
	}
	if !resp.Phases[0].Unlocked {
		t.Error("phase 0 should start unlocked")
	}
	if resp.Phases[1].Unlocked {
		t.Error("phase 1 should start locked")
	}
	if resp.Phases[0].Status != progress.PhaseNotStarted {
		t.Errorf("phase 0 status = %q", resp.Phases[0].Status)
	}
}

func TestCompleteStep(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodPost, "/api/v1/topics/linux-basics/steps/1", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	tp := decode[progress.TopicProgress](t, rec)
	if tp.StepsCompleted != 1 || tp.Status != progress.TopicInProgress {
		t.Errorf("topic = %+v, want one step done, in_progress", tp)
	}

	// Unmarking goes back.
	rec = env.do(t, http.MethodDelete, "/api/v1/topics/linux-basics/steps/1", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d: %s", rec.Code, rec.Body.String())
	}
	tp = decode[progress.TopicProgress](t, rec)
	if tp.StepsCompleted != 0 || tp.Status != progress.TopicNotStarted {
		t.Errorf("after unmark topic = %+v", tp)
	}
}

func TestCompleteStep_Validation(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/topics/linux-basics/steps/abc", http.StatusBadRequest},
		{"/api/v1/topics/nope/steps/1", http.StatusNotFound},
		{"/api/v1/topics/linux-basics/steps/9", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPost, tt.path, bearer, nil)
		if rec.Code != tt.want {
			t.Errorf("POST %s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestCompleteStep_LockedTopic(t *testing.T) {
	env := newTestEnv(t)

	// tcp-ip sits in locked phase 1.
	rec := env.do(t, http.MethodPost, "/api/v1/topics/tcp-ip/steps/1", token(t, "alice", false), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a locked topic", rec.Code)
	}

	// Admins bypass the unlock chain.
	rec = env.do(t, http.MethodPost, "/api/v1/topics/tcp-ip/steps/1", token(t, "admin", true), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestAttempt_PassUpdatesProgress(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "stdout to stdin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[grading.Outcome](t, rec)
	if !out.Passed || out.AlreadyPassed {
		t.Errorf("outcome = %+v", out)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/progress", bearer, nil)
	resp := decode[struct {
		Phases []progress.PhaseProgress `json:"phases"`
	}](t, rec)
	if got := resp.Phases[0].Topics[0].QuestionsPassed; got != 1 {
		t.Errorf("QuestionsPassed = %d, want 1", got)
	}
}

func TestAttempt_Validation(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodPost, "/api/v1/questions/nope/attempts", bearer, map[string]string{"answer": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown question: status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank answer: status = %d, want 400", rec.Code)
	}
}

func TestAttempt_LockoutFlow(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)
	env.mock.Response = `{"pass": false, "feedback": "Not quite.", "confidence": 0.8}`

	var out grading.Outcome
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "wrong"})
		if rec.Code != http.StatusOK {
			t.Fatalf("failure %d: status = %d: %s", i+1, rec.Code, rec.Body.String())
		}
		out = decode[grading.Outcome](t, rec)
		env.clock = env.clock.Add(time.Minute)
	}
	if out.LockoutUntil == nil {
		t.Fatal("third failure did not start a lockout")
	}

	// Inside the window every attempt is rejected without grading.
	rec := env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "wrong"})
	if rec.Code != http.StatusLocked {
		t.Fatalf("status = %d, want 423 while locked: %s", rec.Code, rec.Body.String())
	}
	locked := decode[struct {
		LockoutUntil time.Time `json:"lockout_until"`
	}](t, rec)
	if !locked.LockoutUntil.Equal(*out.LockoutUntil) {
		t.Errorf("lockout_until = %v, want %v", locked.LockoutUntil, *out.LockoutUntil)
	}

	// After the window expires the learner may pass.
	env.clock = out.LockoutUntil.Add(time.Minute)
	env.mock.Response = `{"pass": true, "feedback": "Correct.", "confidence": 0.95}`
	rec = env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "right"})
	if rec.Code != http.StatusOK {
		t.Fatalf("post-lockout status = %d: %s", rec.Code, rec.Body.String())
	}
	if out := decode[grading.Outcome](t, rec); !out.Passed {
		t.Error("Passed = false after lockout expiry")
	}
}

func TestAttempt_GraderDownRecordsNothing(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)
	env.mock.Err = fmt.Errorf("connection refused")

	rec := env.do(t, http.MethodPost, "/api/v1/questions/q-shell/attempts", bearer, map[string]string{"answer": "x"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}

	attempts, err := env.store.Attempts(t.Context(), "alice", "q-shell")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 0 {
		t.Errorf("attempts recorded during outage: %+v", attempts)
	}
}

func TestSubmission_CTFToken(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodPost, "/api/v1/phases/foundations/requirements/ctf-intro", bearer, map[string]string{"value": "flag{wrong}"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Validated bool `json:"validated"`
	}](t, rec)
	if resp.Validated {
		t.Error("wrong token validated")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/phases/foundations/requirements/ctf-intro", bearer, map[string]string{"value": "flag{intro}"})
	resp = decode[struct {
		Validated bool `json:"validated"`
	}](t, rec)
	if !resp.Validated {
		t.Error("right token rejected")
	}

	// Requirement must belong to the phase in the URL.
	rec = env.do(t, http.MethodPost, "/api/v1/phases/networking/requirements/ctf-intro", bearer, map[string]string{"value": "flag{intro}"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("mismatched phase: status = %d, want 404", rec.Code)
	}
}

func TestUnlockChain(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	env.completeFoundations(t, bearer)

	rec := env.do(t, http.MethodGet, "/api/v1/progress", bearer, nil)
	resp := decode[struct {
		Phases []progress.PhaseProgress `json:"phases"`
	}](t, rec)
	if resp.Phases[0].Status != progress.PhaseCompleted {
		t.Errorf("phase 0 status = %q, want completed", resp.Phases[0].Status)
	}
	if !resp.Phases[1].Unlocked {
		t.Error("phase 1 still locked after completing phase 0")
	}

	// Now the previously locked topic accepts writes.
	rec = env.do(t, http.MethodPost, "/api/v1/topics/tcp-ip/steps/1", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("unlocked topic write: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminSeesEverythingUnlocked(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/progress", token(t, "admin", true), nil)
	resp := decode[struct {
		Phases []progress.PhaseProgress `json:"phases"`
	}](t, rec)
	for _, pp := range resp.Phases {
		if !pp.Unlocked {
			t.Errorf("phase %q locked for admin", pp.Slug)
		}
	}
}

func TestPhaseProgress(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodGet, "/api/v1/progress/foundations", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	pp := decode[progress.PhaseProgress](t, rec)
	if pp.Slug != "foundations" {
		t.Errorf("Slug = %q", pp.Slug)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/progress/nope", bearer, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown phase: status = %d, want 404", rec.Code)
	}
}

func TestBadges(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	env.completeFoundations(t, bearer)

	rec := env.do(t, http.MethodGet, "/api/v1/badges", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Badges []store.BadgeAward `json:"badges"`
		Streak int                `json:"current_streak"`
	}](t, rec)

	found := false
	for _, b := range resp.Badges {
		if b.BadgeID == "phase-0" {
			found = true
		}
	}
	if !found {
		t.Errorf("badges = %+v, want phase-0", resp.Badges)
	}
	if resp.Streak < 1 {
		t.Errorf("current_streak = %d, want at least 1 after activity today", resp.Streak)
	}
}

func TestCertificateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodGet, "/api/v1/certificates/completion", bearer, nil)
	elig := decode[struct {
		Eligible bool `json:"eligible"`
	}](t, rec)
	if elig.Eligible {
		t.Error("eligible with nothing completed")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/certificates/completion", bearer, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("premature issue: status = %d, want 409", rec.Code)
	}

	// Finish the whole curriculum.
	env.completeFoundations(t, bearer)
	if rec := env.do(t, http.MethodPost, "/api/v1/topics/tcp-ip/steps/1", bearer, nil); rec.Code != http.StatusOK {
		t.Fatalf("completing tcp-ip: %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/certificates/completion", bearer, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue: status = %d: %s", rec.Code, rec.Body.String())
	}
	issued := decode[store.Certificate](t, rec)
	if issued.ID == "" || issued.Type != "completion" {
		t.Errorf("certificate = %+v", issued)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/certificates/completion", bearer, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("re-issue: status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/certificates/participation", bearer, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown type: status = %d, want 404", rec.Code)
	}

	// No renderer configured: image endpoint is a plain 404.
	rec = env.do(t, http.MethodGet, "/api/v1/certificates/completion/image", bearer, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("image without renderer: status = %d, want 404", rec.Code)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "alice", false)

	rec := env.do(t, http.MethodGet, "/api/v1/progress/export", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty workbook")
	}

	// Only admins may export someone else.
	rec = env.do(t, http.MethodGet, "/api/v1/progress/export?user=bob", bearer, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-user export: status = %d, want 403", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/progress/export?user=bob", token(t, "admin", true), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin cross-user export: status = %d", rec.Code)
	}
}

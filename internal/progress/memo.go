package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgepath/forgepath/internal/platform/cache"
)

const defaultMemoTTL = 5 * time.Minute

// Memo is an optional Redis-backed memoization layer around EvaluateAll,
// keyed by (user, content version, completion snapshot version). The pure
// evaluator stays cache-free; callers that write completion facts must call
// Invalidate for the affected user.
type Memo struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemo creates a memo layer. A nil cache yields a pass-through memo.
func NewMemo(c *cache.Cache, ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = defaultMemoTTL
	}
	return &Memo{cache: c, ttl: ttl}
}

// EvaluateAll returns the cached evaluation when present, computing and
// storing it otherwise. Cache failures degrade to a direct computation.
func (m *Memo) EvaluateAll(ctx context.Context, userID, contentVersion string, phases []PhaseSnapshot, comp CompletionSnapshot) []PhaseProgress {
	if m == nil || m.cache == nil {
		return EvaluateAll(phases, comp)
	}

	key := m.key(userID, contentVersion, comp.Version)

	var cached []PhaseProgress
	err := m.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("progress memo read failed", "key", key, "error", err)
	}

	results := EvaluateAll(phases, comp)
	if err := m.cache.SetJSON(ctx, key, results, m.ttl); err != nil {
		slog.Warn("progress memo write failed", "key", key, "error", err)
	}
	return results
}

// Invalidate drops every cached evaluation for the user. Called after any
// write to the user's completion facts.
func (m *Memo) Invalidate(ctx context.Context, userID string) {
	if m == nil || m.cache == nil {
		return
	}
	if err := m.cache.DeletePrefix(ctx, m.prefix(userID)); err != nil {
		slog.Warn("progress memo invalidation failed", "user_id", userID, "error", err)
	}
}

func (m *Memo) prefix(userID string) string {
	return fmt.Sprintf("progress:%s:", userID)
}

func (m *Memo) key(userID, contentVersion, snapshotVersion string) string {
	return fmt.Sprintf("%s%s:%s", m.prefix(userID), contentVersion, snapshotVersion)
}

package award

import (
	"testing"
	"time"

	"github.com/forgepath/forgepath/internal/progress"
)

func phase(ordinal int, status progress.PhaseStatus) progress.PhaseProgress {
	return progress.PhaseProgress{Ordinal: ordinal, Slug: "p", Status: status}
}

func TestBadges(t *testing.T) {
	tests := []struct {
		name   string
		phases []progress.PhaseProgress
		streak int
		want   []string
	}{
		{
			name:   "nothing earned",
			phases: []progress.PhaseProgress{phase(0, progress.PhaseInProgress)},
			streak: 3,
			want:   nil,
		},
		{
			name: "phase badges keyed by ordinal",
			phases: []progress.PhaseProgress{
				phase(0, progress.PhaseCompleted),
				phase(1, progress.PhaseInProgress),
				phase(2, progress.PhaseCompleted),
			},
			want: []string{"phase-0", "phase-2"},
		},
		{
			name:   "streak thresholds accumulate",
			streak: 30,
			want:   []string{"streak-7", "streak-30"},
		},
		{
			name:   "streak independent of phase progress",
			phases: []progress.PhaseProgress{phase(0, progress.PhaseNotStarted)},
			streak: 100,
			want:   []string{"streak-7", "streak-30", "streak-100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Badges(tt.phases, tt.streak)
			if len(got) != len(tt.want) {
				t.Fatalf("Badges() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Badges()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCurrentStreak(t *testing.T) {
	day := func(offset int) time.Time {
		return time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}
	now := day(0)

	tests := []struct {
		name string
		days []time.Time
		want int
	}{
		{"no activity", nil, 0},
		{"only today", []time.Time{day(0)}, 1},
		{"three days ending today", []time.Time{day(-2), day(-1), day(0)}, 3},
		{"streak alive without activity today", []time.Time{day(-3), day(-2), day(-1)}, 3},
		{"broken two days ago", []time.Time{day(-4), day(-3), day(-2)}, 0},
		{"gap restarts the count", []time.Time{day(-5), day(-4), day(-1), day(0)}, 2},
		{"duplicate timestamps within a day", []time.Time{day(0), day(0).Add(3 * time.Hour), day(-1)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentStreak(tt.days, now); got != tt.want {
				t.Errorf("CurrentStreak() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCurrentStreak_UTCBoundary(t *testing.T) {
	// 23:30 UTC yesterday and 00:30 UTC today are consecutive days.
	y1 := time.Date(2026, 5, 19, 23, 30, 0, 0, time.UTC)
	t1 := time.Date(2026, 5, 20, 0, 30, 0, 0, time.UTC)
	now := time.Date(2026, 5, 20, 18, 0, 0, 0, time.UTC)

	if got := CurrentStreak([]time.Time{y1, t1}, now); got != 2 {
		t.Errorf("CurrentStreak() = %d, want 2", got)
	}
}

func TestCertificateEligibility(t *testing.T) {
	all := []progress.PhaseProgress{
		phase(0, progress.PhaseCompleted),
		phase(1, progress.PhaseCompleted),
	}
	partial := []progress.PhaseProgress{
		phase(0, progress.PhaseCompleted),
		phase(1, progress.PhaseInProgress),
		phase(2, progress.PhaseNotStarted),
	}

	t.Run("all phases completed", func(t *testing.T) {
		e, err := CertificateEligibility(CertFullCompletion, all, false)
		if err != nil {
			t.Fatalf("CertificateEligibility() error = %v", err)
		}
		if !e.Eligible || e.PhasesCompleted != 2 || e.Percentage != 100 {
			t.Errorf("eligibility = %+v", e)
		}
	})

	t.Run("partial completion", func(t *testing.T) {
		e, err := CertificateEligibility(CertFullCompletion, partial, false)
		if err != nil {
			t.Fatalf("CertificateEligibility() error = %v", err)
		}
		if e.Eligible {
			t.Error("Eligible = true with incomplete phases")
		}
		if e.Percentage != 33.3 {
			t.Errorf("Percentage = %v, want 33.3", e.Percentage)
		}
	})

	t.Run("already issued flag passes through", func(t *testing.T) {
		e, err := CertificateEligibility(CertFullCompletion, all, true)
		if err != nil {
			t.Fatal(err)
		}
		if !e.AlreadyIssued {
			t.Error("AlreadyIssued = false")
		}
		// Still eligible: issuance state does not change the derivation.
		if !e.Eligible {
			t.Error("Eligible = false for a holder of the certificate")
		}
	})

	t.Run("no phases means not eligible", func(t *testing.T) {
		e, err := CertificateEligibility(CertFullCompletion, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if e.Eligible {
			t.Error("Eligible = true for an empty curriculum")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := CertificateEligibility("participation", all, false); err == nil {
			t.Error("CertificateEligibility() with unknown type succeeded, want error")
		}
	})
}

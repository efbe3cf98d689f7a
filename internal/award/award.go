// Package award derives badge awards and certificate eligibility from
// evaluated progress. Everything here is re-derived per request; a regression
// in the underlying completion data is reflected immediately.
package award

import (
	"fmt"
	"math"
	"time"

	"github.com/forgepath/forgepath/internal/progress"
)

// CertFullCompletion is the certificate type issued for completing every phase.
const CertFullCompletion = "completion"

// streakThresholds are the consecutive-day counts that earn a streak badge.
var streakThresholds = []int{7, 30, 100}

// Eligibility describes whether a user can be issued a certificate type.
type Eligibility struct {
	Type            string  `json:"type"`
	PhasesCompleted int     `json:"phases_completed"`
	PhasesTotal     int     `json:"phases_total"`
	Percentage      float64 `json:"percentage"`
	Eligible        bool    `json:"eligible"`
	AlreadyIssued   bool    `json:"already_issued"`
}

// Badges returns the badge ids earned for the given evaluated phases and
// current streak. One badge per completed phase, keyed by ordinal, plus a
// badge per reached streak threshold.
func Badges(phases []progress.PhaseProgress, streak int) []string {
	var out []string
	for _, p := range phases {
		if p.Completed() {
			out = append(out, fmt.Sprintf("phase-%d", p.Ordinal))
		}
	}
	for _, threshold := range streakThresholds {
		if streak >= threshold {
			out = append(out, fmt.Sprintf("streak-%d", threshold))
		}
	}
	return out
}

// CurrentStreak counts consecutive active days ending today or yesterday in
// UTC. Activity earlier today extends the streak but is not required to keep
// yesterday's streak alive.
func CurrentStreak(days []time.Time, now time.Time) int {
	if len(days) == 0 {
		return 0
	}

	active := make(map[time.Time]bool, len(days))
	for _, d := range days {
		y, m, dd := d.UTC().Date()
		active[time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)] = true
	}

	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	start := today
	if !active[start] {
		start = today.AddDate(0, 0, -1)
		if !active[start] {
			return 0
		}
	}

	streak := 0
	for day := start; active[day]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

// CertificateEligibility derives the eligibility record for certType from the
// evaluated phases. issued reports whether the user already holds one.
func CertificateEligibility(certType string, phases []progress.PhaseProgress, issued bool) (Eligibility, error) {
	if certType != CertFullCompletion {
		return Eligibility{}, fmt.Errorf("unknown certificate type %q", certType)
	}

	completed := 0
	for _, p := range phases {
		if p.Completed() {
			completed++
		}
	}

	pct := 0.0
	if len(phases) > 0 {
		pct = math.Round(100*float64(completed)/float64(len(phases))*10) / 10
	}

	return Eligibility{
		Type:            certType,
		PhasesCompleted: completed,
		PhasesTotal:     len(phases),
		Percentage:      pct,
		Eligible:        len(phases) > 0 && completed == len(phases),
		AlreadyIssued:   issued,
	}, nil
}

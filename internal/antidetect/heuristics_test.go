package antidetect

import (
	"testing"
	"time"

	"github.com/solbotswarm/orchestrator/internal/randomization"
	"github.com/stretchr/testify/require"
)

func TestAdjustedIntervalStretchesOutsideActiveHours(t *testing.T) {
	profile := Catalog[ProfileStealth]
	h := NewHeuristics(randomization.NewSeeded(1), profile, 5, 3)

	inWindow := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	outWindow := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)

	inInterval := h.AdjustedInterval(1000, inWindow)
	outInterval := h.AdjustedInterval(1000, outWindow)

	require.Greater(t, outInterval, inInterval)
}

func TestErrorStreakTriggersCooldown(t *testing.T) {
	profile := Catalog[ProfileRetail]
	h := NewHeuristics(randomization.NewSeeded(2), profile, 5, 3)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.False(t, h.InCooldown(now))

	h.RecordOutcome(false, now)
	h.RecordOutcome(false, now)
	h.RecordOutcome(false, now)

	require.True(t, h.InCooldown(now))
}

func TestErrorStreakResetsOnSuccessWindow(t *testing.T) {
	profile := Catalog[ProfileRetail]
	h := NewHeuristics(randomization.NewSeeded(3), profile, 3, 3)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	h.RecordOutcome(false, now)
	h.RecordOutcome(true, now)
	h.RecordOutcome(true, now)
	h.RecordOutcome(true, now)

	require.False(t, h.InCooldown(now))
}

func TestActiveHoursWraparound(t *testing.T) {
	window := ActiveHours{StartHour: 22, EndHour: 6}
	require.True(t, window.Contains(23))
	require.True(t, window.Contains(2))
	require.False(t, window.Contains(12))
}

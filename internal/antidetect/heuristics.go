package antidetect

import (
	"time"

	"github.com/solbotswarm/orchestrator/internal/randomization"
)

// Heuristics wraps a randomization.Engine with the three anti-detection
// rules from spec §4.2: activity multiplier, error-streak back-off, and a
// memo generator. One Heuristics is owned per bot.
type Heuristics struct {
	engine  *randomization.Engine
	profile BehaviorProfile

	// error-streak state
	maxStreak     int
	failThreshold int
	recent        []bool // true = success, bounded to maxStreak entries
	cooldownUntil time.Time
}

// NewHeuristics builds a Heuristics tracker. maxStreak is K (how many recent
// outcomes are examined) and failThreshold is F (failures within K that
// trigger a cooldown), per spec §4.2.
func NewHeuristics(engine *randomization.Engine, profile BehaviorProfile, maxStreak, failThreshold int) *Heuristics {
	return &Heuristics{
		engine:        engine,
		profile:       profile,
		maxStreak:     maxStreak,
		failThreshold: failThreshold,
	}
}

// AdjustedInterval applies the profile's hour-of-day activity multiplier to
// a base interval draw, then stretches it further if now falls outside the
// profile's active-hours window or an error-streak cooldown is active.
func (h *Heuristics) AdjustedInterval(base int64, now time.Time) int64 {
	hour := now.Hour()
	mult := h.profile.ActivityMultiplier[hour]
	if mult <= 0 {
		mult = 0.01
	}
	interval := float64(base) / mult

	if !h.profile.ActiveHours.Contains(hour) {
		interval *= 4 // cold period outside active hours: much longer waits
	}

	if now.Before(h.cooldownUntil) {
		remaining := h.cooldownUntil.Sub(now)
		extra := float64(remaining.Milliseconds())
		if extra > interval {
			interval = extra
		}
	}

	return int64(interval)
}

// AdjustedSize multiplies a base size draw by the profile's activity
// multiplier for the current hour: the swarm trades bigger during its
// normal active window and smaller outside it.
func (h *Heuristics) AdjustedSize(base int64, now time.Time) int64 {
	hour := now.Hour()
	mult := h.profile.ActivityMultiplier[hour]
	return int64(float64(base) * mult)
}

// RecordOutcome appends a trade outcome to the rolling window and arms a
// cooldown when recent failures reach the configured threshold.
func (h *Heuristics) RecordOutcome(success bool, now time.Time) {
	h.recent = append(h.recent, success)
	if len(h.recent) > h.maxStreak {
		h.recent = h.recent[len(h.recent)-h.maxStreak:]
	}

	failures := 0
	for _, ok := range h.recent {
		if !ok {
			failures++
		}
	}
	if failures >= h.failThreshold {
		meanCooldown := 30 * float64(time.Second)
		u := h.engine.NextInterval(1, 1000, randomization.TimingExponential)
		cooldown := time.Duration(meanCooldown) * time.Duration(u) / 500
		h.cooldownUntil = now.Add(cooldown)
	}
}

// InCooldown reports whether the bot is currently suspended due to an error
// streak.
func (h *Heuristics) InCooldown(now time.Time) bool {
	return now.Before(h.cooldownUntil)
}

var memoWords = []string{
	"gm", "wagmi", "lfg", "ape", "moon", "dip buy", "dca", "scalp",
	"accumulate", "take profit", "just vibing", "testing", "",
	"", "", "", // bias toward no memo most of the time
}

// Memo optionally emits a short human-shaped string for a swap payload. The
// field is opaque to the core — callers attach it and forget it.
func (h *Heuristics) Memo() string {
	idx := h.engine.WeightedChoice(equalWeights(len(memoWords)))
	if idx < 0 {
		return ""
	}
	return memoWords[idx]
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

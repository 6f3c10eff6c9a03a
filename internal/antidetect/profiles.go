// Package antidetect wraps Randomization Engine draws with the heuristics
// that make a bot swarm statistically resemble organic activity: per-profile
// hour-of-day activity curves, active-hours cold periods, error-streak
// back-off, and a memo generator.
package antidetect

import (
	"github.com/solbotswarm/orchestrator/internal/randomization"
)

// ProfileName identifies a catalog entry.
type ProfileName string

const (
	ProfileRetail       ProfileName = "retail"
	ProfileWhale        ProfileName = "whale"
	ProfileMarketMaker  ProfileName = "market-maker"
	ProfileStealth      ProfileName = "stealth"
	ProfileAggressive   ProfileName = "aggressive"
	ProfileConservative ProfileName = "conservative"
)

// ActiveHours is an hour-of-day window, in the bot's configured timezone,
// during which a bot trades at normal cadence. Hours outside the window
// still draw intervals, but heavily stretched (see Heuristics.AdjustedInterval).
type ActiveHours struct {
	StartHour int // 0-23 inclusive
	EndHour   int // 0-23 inclusive; StartHour > EndHour wraps past midnight
}

// Contains reports whether hour (0-23) falls inside the window.
func (a ActiveHours) Contains(hour int) bool {
	if a.StartHour <= a.EndHour {
		return hour >= a.StartHour && hour <= a.EndHour
	}
	// wraps past midnight, e.g. 22-6
	return hour >= a.StartHour || hour <= a.EndHour
}

// BehaviorProfile bundles the distributions and timing shape of a named
// trader archetype.
type BehaviorProfile struct {
	Name                ProfileName
	TimingDistribution  randomization.TimingDistribution
	SizeDistribution    randomization.SizeDistribution
	ActiveHours         ActiveHours
	// ActivityMultiplier holds 24 normalized floats, one per hour of day.
	// Interval draws are divided by the current hour's multiplier; size
	// draws are multiplied by it.
	ActivityMultiplier [24]float64
}

// Catalog is the static set of named profiles. Selected per bot at creation,
// optionally via a weighted distribution (Bot Coordinator swarm creation).
var Catalog = map[ProfileName]BehaviorProfile{
	ProfileRetail: {
		Name:               ProfileRetail,
		TimingDistribution: randomization.TimingPoisson,
		SizeDistribution:   randomization.SizeSkewedLow,
		ActiveHours:        ActiveHours{StartHour: 8, EndHour: 23},
		ActivityMultiplier: dayCurve(0.3, 1.0, 8, 20),
	},
	ProfileWhale: {
		Name:               ProfileWhale,
		TimingDistribution: randomization.TimingExponential,
		SizeDistribution:   randomization.SizeSkewedHigh,
		ActiveHours:        ActiveHours{StartHour: 0, EndHour: 23},
		ActivityMultiplier: dayCurve(0.6, 1.0, 0, 23),
	},
	ProfileMarketMaker: {
		Name:               ProfileMarketMaker,
		TimingDistribution: randomization.TimingUniform,
		SizeDistribution:   randomization.SizeNormal,
		ActiveHours:        ActiveHours{StartHour: 0, EndHour: 23},
		ActivityMultiplier: dayCurve(0.9, 1.0, 0, 23),
	},
	ProfileStealth: {
		Name:               ProfileStealth,
		TimingDistribution: randomization.TimingNormal,
		SizeDistribution:   randomization.SizeSkewedLow,
		ActiveHours:        ActiveHours{StartHour: 10, EndHour: 22},
		ActivityMultiplier: dayCurve(0.1, 0.6, 10, 22),
	},
	ProfileAggressive: {
		Name:               ProfileAggressive,
		TimingDistribution: randomization.TimingPoisson,
		SizeDistribution:   randomization.SizeSkewedHigh,
		ActiveHours:        ActiveHours{StartHour: 0, EndHour: 23},
		ActivityMultiplier: dayCurve(0.8, 1.0, 0, 23),
	},
	ProfileConservative: {
		Name:               ProfileConservative,
		TimingDistribution: randomization.TimingNormal,
		SizeDistribution:   randomization.SizeUniform,
		ActiveHours:        ActiveHours{StartHour: 9, EndHour: 18},
		ActivityMultiplier: dayCurve(0.2, 0.8, 9, 18),
	},
}

// dayCurve builds a 24-slot multiplier curve: `low` outside [activeStart,
// activeEnd], `high` inside it.
func dayCurve(low, high float64, activeStart, activeEnd int) [24]float64 {
	var curve [24]float64
	window := ActiveHours{StartHour: activeStart, EndHour: activeEnd}
	for h := 0; h < 24; h++ {
		if window.Contains(h) {
			curve[h] = high
		} else {
			curve[h] = low
		}
	}
	return curve
}

// Package randomization provides seedable probability sources for trade
// timing and size draws. Every Engine owns a private *rand.Rand the way the
// teacher's simulation generators do (internal/hft/simulation_components.go),
// so draws are reproducible when seeded and never share global rand state
// across bots.
package randomization

import (
	"math"
	"math/rand"
	"time"
)

// TimingDistribution names an inter-arrival distribution for next_interval.
type TimingDistribution string

const (
	TimingUniform     TimingDistribution = "uniform"
	TimingPoisson     TimingDistribution = "poisson"
	TimingNormal      TimingDistribution = "normal"
	TimingExponential TimingDistribution = "exponential"
)

// SizeDistribution names a distribution for next_size.
type SizeDistribution string

const (
	SizeUniform    SizeDistribution = "uniform"
	SizeSkewedLow  SizeDistribution = "skewed-low"
	SizeSkewedHigh SizeDistribution = "skewed-high"
	SizeNormal     SizeDistribution = "normal"
)

// Engine draws from the distributions above. A zero-value Engine is not
// usable; construct with New or NewSeeded.
type Engine struct {
	rng *rand.Rand
}

// New returns an Engine backed by system entropy. Draws are not reproducible
// across runs.
func New() *Engine {
	return &Engine{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeeded returns an Engine whose draw sequence is fully determined by
// seed: two Engines constructed with the same seed and driven with the same
// call sequence produce identical draws.
func NewSeeded(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

func clampInt(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NextInterval draws an integer number of milliseconds in [minMS, maxMS]
// according to distribution. All branches are O(1): no retry-on-reject loop
// can stall a caller, and the result is always clamped into range.
func (e *Engine) NextInterval(minMS, maxMS int64, dist TimingDistribution) int64 {
	if maxMS <= minMS {
		return minMS
	}
	mid := float64(minMS+maxMS) / 2
	span := float64(maxMS - minMS)

	var v float64
	switch dist {
	case TimingPoisson:
		mean := mid - float64(minMS)
		if mean <= 0 {
			mean = 1
		}
		lambda := 1.0 / mean
		u := e.rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		interArrival := -math.Log(1-u) / lambda
		v = float64(minMS) + interArrival
	case TimingNormal:
		sigma := span / 6
		v = mid + e.rng.NormFloat64()*sigma
	case TimingExponential:
		mean := mid
		if mean <= 0 {
			mean = 1
		}
		lambda := 1.0 / mean
		u := e.rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		v = -math.Log(1-u) / lambda
	case TimingUniform:
		fallthrough
	default:
		v = float64(minMS) + e.rng.Float64()*span
	}

	return clampInt(int64(math.Round(v)), minMS, maxMS)
}

// NextSize draws an integer quantity in [min, max] according to
// distribution. skewed-low places the mode near the 25th percentile of the
// range; skewed-high mirrors it toward the 75th percentile.
func (e *Engine) NextSize(min, max int64, dist SizeDistribution) int64 {
	if max <= min {
		return min
	}
	span := float64(max - min)
	mid := float64(min) + span/2

	var v float64
	switch dist {
	case SizeSkewedLow:
		v = float64(min) + e.lognormalFraction(0.25)*span
	case SizeSkewedHigh:
		v = float64(min) + e.lognormalFraction(0.75)*span
	case SizeNormal:
		sigma := span / 6
		v = mid + e.rng.NormFloat64()*sigma
	case SizeUniform:
		fallthrough
	default:
		v = float64(min) + e.rng.Float64()*span
	}

	return clampInt(int64(math.Round(v)), min, max)
}

// lognormalFraction draws a value in roughly [0,1] from a lognormal
// distribution whose mode sits near modeFraction of the unit interval, then
// clamps into [0,1].
func (e *Engine) lognormalFraction(modeFraction float64) float64 {
	sigma := 0.5
	mu := math.Log(modeFraction) + sigma*sigma
	draw := math.Exp(mu + e.rng.NormFloat64()*sigma)
	if draw < 0 {
		draw = 0
	}
	if draw > 1 {
		draw = 1
	}
	return draw
}

// Jitter scales value by a uniform factor in [1-percent, 1+percent].
func (e *Engine) Jitter(value float64, percent float64) float64 {
	if percent <= 0 {
		return value
	}
	factor := 1 - percent + e.rng.Float64()*(2*percent)
	return value * factor
}

// JitterDuration applies Jitter to a time.Duration.
func (e *Engine) JitterDuration(d time.Duration, percent float64) time.Duration {
	return time.Duration(e.Jitter(float64(d), percent))
}

// Coin returns true with probability p (clamped to [0,1]).
func (e *Engine) Coin(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return e.rng.Float64() < p
}

// WeightedChoice picks an index into weights proportional to its weight.
// Weights must be non-negative and sum > 0; returns -1 if weights is empty
// or all-zero.
func (e *Engine) WeightedChoice(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}
	r := e.rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}

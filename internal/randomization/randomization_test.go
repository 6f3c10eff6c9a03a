package randomization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIntervalReproducibleWhenSeeded(t *testing.T) {
	dists := []TimingDistribution{TimingUniform, TimingPoisson, TimingNormal, TimingExponential}

	for _, dist := range dists {
		e1 := NewSeeded(42)
		e2 := NewSeeded(42)

		var seq1, seq2 []int64
		for i := 0; i < 1000; i++ {
			seq1 = append(seq1, e1.NextInterval(100, 500, dist))
			seq2 = append(seq2, e2.NextInterval(100, 500, dist))
		}

		require.Equal(t, seq1, seq2, "distribution %s should be reproducible", dist)
		for _, v := range seq1 {
			require.GreaterOrEqual(t, v, int64(100))
			require.LessOrEqual(t, v, int64(500))
		}
	}
}

func TestNextIntervalClampedForAllDistributions(t *testing.T) {
	e := New()
	dists := []TimingDistribution{TimingUniform, TimingPoisson, TimingNormal, TimingExponential}
	for _, dist := range dists {
		for i := 0; i < 200; i++ {
			v := e.NextInterval(50, 60, dist)
			require.GreaterOrEqual(t, v, int64(50))
			require.LessOrEqual(t, v, int64(60))
		}
	}
}

func TestNextSizeClamped(t *testing.T) {
	e := New()
	dists := []SizeDistribution{SizeUniform, SizeSkewedLow, SizeSkewedHigh, SizeNormal}
	for _, dist := range dists {
		for i := 0; i < 200; i++ {
			v := e.NextSize(10, 20, dist)
			require.GreaterOrEqual(t, v, int64(10))
			require.LessOrEqual(t, v, int64(20))
		}
	}
}

func TestNextIntervalDegenerateRange(t *testing.T) {
	e := New()
	require.Equal(t, int64(100), e.NextInterval(100, 100, TimingUniform))
}

func TestJitterBounds(t *testing.T) {
	e := New()
	for i := 0; i < 200; i++ {
		v := e.Jitter(1000, 0.1)
		require.GreaterOrEqual(t, v, 900.0)
		require.LessOrEqual(t, v, 1100.0)
	}
}

func TestCoinDeterministicEdges(t *testing.T) {
	e := New()
	require.False(t, e.Coin(0))
	require.True(t, e.Coin(1))
}

func TestWeightedChoiceDistribution(t *testing.T) {
	e := NewSeeded(7)
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		idx := e.WeightedChoice([]float64{0.7, 0.2, 0.1})
		require.GreaterOrEqual(t, idx, 0)
		counts[idx]++
	}
	// retail-heavy weighting should dominate draws
	require.Greater(t, counts[0], counts[1])
	require.Greater(t, counts[1], counts[2])
}

func TestWeightedChoiceAllZero(t *testing.T) {
	e := New()
	require.Equal(t, -1, e.WeightedChoice([]float64{0, 0, 0}))
}

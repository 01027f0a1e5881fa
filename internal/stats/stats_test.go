package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapCI(t *testing.T) {
	t.Run("empty sample", func(t *testing.T) {
		iv := BootstrapCI(nil, 100, 0.05, 1)
		assert.False(t, iv.OK)
		assert.Zero(t, iv.N)
	})

	t.Run("single value reports the mean without an interval", func(t *testing.T) {
		iv := BootstrapCI([]float64{0.7}, 100, 0.05, 1)
		assert.False(t, iv.OK)
		assert.Equal(t, 1, iv.N)
		assert.InDelta(t, 0.7, iv.Mean, 1e-9)
	})

	t.Run("constant sample yields a zero-width interval", func(t *testing.T) {
		iv := BootstrapCI([]float64{0.5, 0.5, 0.5, 0.5}, 500, 0.05, 1)
		require.True(t, iv.OK)
		assert.InDelta(t, 0.5, iv.Mean, 1e-9)
		assert.InDelta(t, 0.5, iv.Low, 1e-9)
		assert.InDelta(t, 0.5, iv.High, 1e-9)
	})

	t.Run("interval brackets the mean", func(t *testing.T) {
		values := []float64{0.1, 0.3, 0.2, 0.8, 0.5, 0.4, 0.6, 0.2}
		iv := BootstrapCI(values, 2000, 0.05, 42)
		require.True(t, iv.OK)
		assert.LessOrEqual(t, iv.Low, iv.Mean)
		assert.GreaterOrEqual(t, iv.High, iv.Mean)
		assert.Less(t, iv.Low, iv.High)
	})

	t.Run("seeded resampling is reproducible", func(t *testing.T) {
		values := []float64{0.1, 0.9, 0.4, 0.6, 0.3}
		a := BootstrapCI(values, 1000, 0.05, 7)
		b := BootstrapCI(values, 1000, 0.05, 7)
		assert.Equal(t, a, b)

		c := BootstrapCI(values, 1000, 0.05, 8)
		assert.NotEqual(t, a.Low, c.Low, "different seed, different resamples")
	})
}

func TestPairedPermutationTest(t *testing.T) {
	t.Run("length mismatch is an error", func(t *testing.T) {
		_, err := PairedPermutationTest([]float64{1}, []float64{1, 2}, 100, 1)
		require.Error(t, err)
	})

	t.Run("too few pairs reports not OK", func(t *testing.T) {
		c, err := PairedPermutationTest([]float64{1}, []float64{2}, 100, 1)
		require.NoError(t, err)
		assert.False(t, c.OK)
		assert.Equal(t, 1, c.N)
	})

	t.Run("identical samples are never significant", func(t *testing.T) {
		same := []float64{0.2, 0.5, 0.3, 0.8, 0.4}
		c, err := PairedPermutationTest(same, same, 1000, 1)
		require.NoError(t, err)
		require.True(t, c.OK)
		assert.Zero(t, c.MeanDiff)
		assert.Equal(t, 1.0, c.PValue, "every permutation ties the zero observed diff")
		assert.False(t, c.Significant)
	})

	t.Run("a large consistent shift is significant", func(t *testing.T) {
		baseline := []float64{0.60, 0.55, 0.62, 0.58, 0.61, 0.59, 0.63, 0.57, 0.60, 0.56}
		treatment := make([]float64, len(baseline))
		for i, v := range baseline {
			treatment[i] = v - 0.4
		}
		c, err := PairedPermutationTest(baseline, treatment, 5000, 42)
		require.NoError(t, err)
		require.True(t, c.OK)
		assert.InDelta(t, -0.4, c.MeanDiff, 1e-9)
		assert.Less(t, c.PValue, 0.05)
		assert.True(t, c.Significant)
	})

	t.Run("seeded trials are reproducible", func(t *testing.T) {
		baseline := []float64{0.1, 0.5, 0.3, 0.7}
		treatment := []float64{0.2, 0.4, 0.5, 0.6}
		a, err := PairedPermutationTest(baseline, treatment, 2000, 9)
		require.NoError(t, err)
		b, err := PairedPermutationTest(baseline, treatment, 2000, 9)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, percentile(sorted, 0))
	assert.Equal(t, 5.0, percentile(sorted, 1))
	assert.Equal(t, 3.0, percentile(sorted, 0.5))
	assert.InDelta(t, 1.5, percentile(sorted, 0.125), 1e-9)
}

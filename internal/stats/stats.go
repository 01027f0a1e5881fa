// Package stats turns per-scenario metric values into population-level
// estimates: percentile-bootstrap confidence intervals and a paired
// sign-flip permutation test for condition comparisons. All resampling is
// seeded for reproducibility. Below the minimum sample count the functions
// report insufficient data instead of failing.
package stats

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// MinSamples is the smallest sample count for which intervals and tests
// are computed.
const MinSamples = 2

// Interval is a bootstrap confidence interval. OK is false when the sample
// was too small; Mean is still populated for a single-value sample.
type Interval struct {
	Mean float64 `json:"mean"`
	Low  float64 `json:"ci_low"`
	High float64 `json:"ci_high"`
	N    int     `json:"n"`
	OK   bool    `json:"ok"`
}

// BootstrapCI computes a resampling-with-replacement percentile bootstrap
// interval at confidence level 1-alpha. A constant sample yields a
// zero-width interval.
func BootstrapCI(values []float64, resamples int, alpha float64, seed int64) Interval {
	iv := Interval{N: len(values)}
	if len(values) == 0 {
		return iv
	}
	iv.Mean = mean(values)
	if len(values) < MinSamples {
		return iv
	}
	if resamples < 1 {
		resamples = 1
	}

	rng := rand.New(rand.NewSource(seed))
	resampled := make([]float64, resamples)
	sample := make([]float64, len(values))
	for i := 0; i < resamples; i++ {
		for j := range sample {
			sample[j] = values[rng.Intn(len(values))]
		}
		resampled[i] = mean(sample)
	}
	sort.Float64s(resampled)

	iv.Low = percentile(resampled, alpha/2)
	iv.High = percentile(resampled, 1-alpha/2)
	iv.OK = true
	return iv
}

// Comparison is the result of a paired permutation test.
type Comparison struct {
	MeanDiff    float64 `json:"mean_diff"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	N           int     `json:"n"`
	OK          bool    `json:"ok"`
}

// PairedPermutationTest runs a sign-flip permutation test on the paired
// differences treatment - baseline. The p-value is two-sided: the fraction
// of permuted |mean diffs| at least as large as the observed one.
func PairedPermutationTest(baseline, treatment []float64, trials int, seed int64) (Comparison, error) {
	if len(baseline) != len(treatment) {
		return Comparison{}, fmt.Errorf("paired test requires equal lengths, got %d and %d",
			len(baseline), len(treatment))
	}
	c := Comparison{N: len(baseline)}
	if len(baseline) < MinSamples {
		return c, nil
	}
	if trials < 1 {
		trials = 1
	}

	diffs := make([]float64, len(baseline))
	for i := range baseline {
		diffs[i] = treatment[i] - baseline[i]
	}
	observed := mean(diffs)

	rng := rand.New(rand.NewSource(seed))
	extreme := 0
	flipped := make([]float64, len(diffs))
	for t := 0; t < trials; t++ {
		for i, d := range diffs {
			if rng.Intn(2) == 0 {
				flipped[i] = -d
			} else {
				flipped[i] = d
			}
		}
		if math.Abs(mean(flipped)) >= math.Abs(observed) {
			extreme++
		}
	}

	c.MeanDiff = observed
	c.PValue = float64(extreme) / float64(trials)
	c.Significant = c.PValue < 0.05
	c.OK = true
	return c, nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile interpolates linearly on a sorted slice, matching the usual
// numpy-style definition.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

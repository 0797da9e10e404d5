package forecast

import (
	"math"
	"sort"
)

// sample is one paid invoice's delay observation with its recency weight.
type sample struct {
	Delay  float64
	Weight float64
}

// percentile computes the unweighted percentile (0..100) by linear
// interpolation over the sorted copy of values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// weightedPercentile computes the weighted percentile (0..100): the smallest
// value whose cumulative weight reaches p% of the total.
func weightedPercentile(samples []sample, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]sample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delay < sorted[j].Delay })

	total := 0.0
	for _, s := range sorted {
		total += s.Weight
	}
	if total <= 0 {
		return sorted[len(sorted)/2].Delay
	}

	threshold := p / 100 * total
	cum := 0.0
	for _, s := range sorted {
		cum += s.Weight
		if cum >= threshold {
			return s.Delay
		}
	}
	return sorted[len(sorted)-1].Delay
}

// weightedMeanStd returns the weighted mean and standard deviation.
func weightedMeanStd(samples []sample) (mean, std float64) {
	total := 0.0
	for _, s := range samples {
		total += s.Weight
	}
	if total <= 0 {
		return 0, 0
	}
	for _, s := range samples {
		mean += s.Delay * s.Weight
	}
	mean /= total

	variance := 0.0
	for _, s := range samples {
		d := s.Delay - mean
		variance += d * d * s.Weight
	}
	variance /= total
	return mean, math.Sqrt(variance)
}

// winsorize caps every delay at the paid subset's 1st and 99th percentile.
func winsorize(samples []sample) []sample {
	if len(samples) == 0 {
		return samples
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Delay
	}
	lo := percentile(values, 1)
	hi := percentile(values, 99)

	out := make([]sample, len(samples))
	for i, s := range samples {
		if s.Delay < lo {
			s.Delay = lo
		}
		if s.Delay > hi {
			s.Delay = hi
		}
		out[i] = s
	}
	return out
}

// recencyWeight halves a sample's influence every 90 days of age.
func recencyWeight(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp2(-ageDays / 90)
}

// clipDelay bounds raw delay observations to [-30, 180] days.
func clipDelay(days float64) float64 {
	if days < -30 {
		return -30
	}
	if days > 180 {
		return 180
	}
	return days
}

package forecast

import (
	"math"

	"github.com/ledgerline/cashops/internal/domain"
)

const calibrationFolds = 5

// calibrate backtests one segment with split-conformal 5-fold validation:
// percentiles are fitted on four folds and coverage is measured on the held
// out fold. Requires at least twice the minimum segment sample.
func calibrate(snapshotID string, g *segmentGroup) *domain.CalibrationRecord {
	n := len(g.Samples)
	if n < 2*domain.MinSegmentSample {
		return nil
	}

	var band25, cov50, cov75, cov90 float64
	folds := 0
	for fold := 0; fold < calibrationFolds; fold++ {
		var fit, test []sample
		for i, s := range g.Samples {
			if i%calibrationFolds == fold {
				test = append(test, s)
			} else {
				fit = append(fit, s)
			}
		}
		if len(test) == 0 || len(fit) == 0 {
			continue
		}

		p25 := weightedPercentile(fit, 25)
		p50 := weightedPercentile(fit, 50)
		p75 := weightedPercentile(fit, 75)
		p90 := weightedPercentile(fit, 90)

		var inBand, le50, le75, le90 int
		for _, s := range test {
			if s.Delay >= p25 && s.Delay <= p75 {
				inBand++
			}
			if s.Delay <= p50 {
				le50++
			}
			if s.Delay <= p75 {
				le75++
			}
			if s.Delay <= p90 {
				le90++
			}
		}
		size := float64(len(test))
		band25 += float64(inBand) / size
		cov50 += float64(le50) / size
		cov75 += float64(le75) / size
		cov90 += float64(le90) / size
		folds++
	}
	if folds == 0 {
		return nil
	}

	band25 /= float64(folds)
	return &domain.CalibrationRecord{
		SnapshotID:       snapshotID,
		SegmentKey:       g.Key,
		Coverage25:       band25,
		Coverage50:       cov50 / float64(folds),
		Coverage75:       cov75 / float64(folds),
		Coverage90:       cov90 / float64(folds),
		CalibrationError: math.Abs(band25 - 0.50),
		SampleSize:       n,
	}
}

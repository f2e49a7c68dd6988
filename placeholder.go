package ritmo

import (
	"math"
	"time"

	"github.com/FerroO2000/ritmo/internal/norm"
)

// maxInsertedPlaceholders is the maximum number of placeholders inserted for
// a single element. It should only be reached in case of bad estimates, e.g.
// directly after the initialization.
const maxInsertedPlaceholders = 10

// createPlaceholders generates the placeholders anticipating the future
// samples of the element's source.
//
// Placeholders are only generated if the source estimator is fully
// initialized (the first few samples of a new source might be discarded) and
// if the element did not generate them already. All but the first placeholder
// beyond the buffer time are flagged as exhausted, so that the remaining one
// can itself spawn further placeholders once it turns into a received sample.
func (b *Buffer[D, ID]) createPlaceholders(el *element[D, ID]) []*element[D, ID] {
	est, ok := b.estimators[el.id]
	if !ok || !est.IsInitialized() || el.createdPlaceholder {
		return nil
	}

	el.createdPlaceholder = true

	var out []*element[D, ID]
	for k := 1; k <= maxInsertedPlaceholders; k++ {
		placeholder := b.createPlaceholder(el.id, el.measTime, k)
		placeholder.createdPlaceholder = true

		out = append(out, placeholder)

		if placeholder.earliestEstimatedMeasTime.After(b.bufferTime) {
			placeholder.createdPlaceholder = false
			break
		}
	}

	return out
}

// createPlaceholder creates the k-th placeholder starting from the given
// measurement time of the latest sample of the source.
//
// The placeholder is inserted with respect to its worst case expected
// measurement time (the left jitter boundary) and carries the latest
// reception time the buffer is willing to wait for, limited by the configured
// jitter bounds and the maximum total wait time.
func (b *Buffer[D, ID]) createPlaceholder(id ID, measTime time.Time, k int) *element[D, ID] {
	est := b.estimators[id]

	periodOffset := time.Duration(k) * est.Period()
	periodVariance := math.Pow(float64(est.PeriodStddev()), 2)
	periodStddevSum := math.Sqrt(float64(k) * periodVariance)

	// Zero standard deviations occur with perfect input timing
	// (e.g. simulated streams) and collapse the jitter onto zero.
	var measJitter time.Duration
	if periodStddevSum > 0 {
		// evaluated without a mean, so the result can be used in both
		// directions
		quantile := norm.Quantile(0, periodStddevSum, (1-b.params.MeasurementConfidenceQuantile)/2)
		measJitter = clampDuration(time.Duration(quantile),
			-b.params.MaxAbsMeasurementJitter, b.params.MaxAbsMeasurementJitter)
	}

	var waitJitter time.Duration
	if est.LatencyStddev() > 0 {
		waitStddev := math.Hypot(periodStddevSum, float64(est.LatencyStddev()))
		quantile := norm.Quantile(0, waitStddev, 1-(1-b.params.WaitConfidenceQuantile)/2)
		waitJitter = clampDuration(time.Duration(quantile),
			-b.params.MaxAbsWaitJitter, b.params.MaxAbsWaitJitter)
	}

	earliestMeasTime := measTime.Add(periodOffset + measJitter)
	latestReceiptTime := measTime.Add(periodOffset + min(est.Latency()+waitJitter, b.params.MaxTotalWaitTime))

	return &element[D, ID]{
		id: id,

		measTime:    earliestMeasTime,
		receiptTime: latestReceiptTime,

		earliestEstimatedMeasTime: earliestMeasTime,
		latestReceiptTime:         latestReceiptTime,
	}
}

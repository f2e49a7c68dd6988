// Package estimator maintains online estimates of the update period and the
// end-to-end latency of a single measurement stream.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/FerroO2000/ritmo/internal/norm"
)

// DefaultAlpha is the default smoothing factor for the exponential updates.
const DefaultAlpha = 0.05

// corruptionThreshold is the number of full updates after which a negative
// missing-corrected period stops being skipped and becomes an error.
const corruptionThreshold = 10

// ErrCorrupted is returned when the missing-measurement correction produces
// negative periods after the estimates had time to settle.
var ErrCorrupted = errors.New("estimator: inconsistent missing-measurement correction")

// state holds the running mean and variance of a single quantity.
// Mean and variance are initialized separately within the first update steps.
type state struct {
	mean     float64
	variance float64
}

// Estimator tracks period and latency statistics of one source.
// Both quantities are kept as exponentially weighted mean/variance pairs
// in nanoseconds.
type Estimator struct {
	numUpdates      int
	lastMeasTime    time.Time
	lastReceiptTime time.Time
	alpha           float64

	period  state
	latency state
}

// New returns an estimator seeded with the first sample of a source.
// The latency can be initialized directly, while the period needs at least a
// second sample.
func New(receiptTime, measTime time.Time, alpha float64) *Estimator {
	est := &Estimator{
		lastMeasTime:    measTime,
		lastReceiptTime: receiptTime,
		alpha:           alpha,
	}

	est.latency.mean = float64(receiptTime.Sub(measTime))

	return est
}

// updateState performs one exponential smoothing step on the given state.
func (e *Estimator) updateState(s state, sample float64, updateVariance bool) state {
	diff := sample - s.mean
	increment := e.alpha * diff
	mean := s.mean + increment

	variance := s.variance
	if updateVariance {
		variance = (1 - e.alpha) * (s.variance + diff*increment)
	}

	return state{mean: mean, variance: variance}
}

func (e *Estimator) updatePeriod(sample float64, numMissing int) error {
	// The period needs three data points: two differences are required
	// before the variance can be initialized.
	if e.numUpdates == 0 {
		e.period.mean = sample
		return nil
	}

	if e.numUpdates == 1 {
		firstSample := e.period.mean

		// Update only the mean, the variance is not initialized yet
		e.period = e.updateState(e.period, sample, false)

		e.period.variance = math.Pow(firstSample-e.period.mean, 2) + math.Pow(sample-e.period.mean, 2)
		return nil
	}

	correctedSample := sample - float64(numMissing)*e.period.mean

	// A negative corrected period means the missing count does not fit the
	// current mean
	if correctedSample < 0 {
		if e.numUpdates > corruptionThreshold {
			return fmt.Errorf("%w: num_missing=%d sample=%f mean=%f corrected=%f num_updates=%d",
				ErrCorrupted, numMissing, sample, e.period.mean, correctedSample, e.numUpdates)
		}

		// Still settling, skip this sample
		return nil
	}

	e.period = e.updateState(e.period, correctedSample, true)
	return nil
}

func (e *Estimator) updateLatency(sample float64) {
	if e.numUpdates == 0 {
		// The first latency sample was already consumed by the constructor,
		// so the variance can be initialized within the first update step
		firstSample := float64(e.lastReceiptTime.Sub(e.lastMeasTime))

		e.latency = e.updateState(e.latency, sample, false)

		e.latency.variance = math.Pow(firstSample-e.latency.mean, 2) + math.Pow(sample-e.latency.mean, 2)
		return
	}

	e.latency = e.updateState(e.latency, sample, true)
}

// Update feeds a new sample into both the period and the latency estimate.
// numMissing is the number of samples of the source that were never received
// between the previous and the current one; the period sample is corrected by
// that many mean periods before the update.
//
// It returns [ErrCorrupted] if the corrected period keeps coming out negative
// after the estimates had time to settle. In that case no state is modified.
func (e *Estimator) Update(receiptTime, measTime time.Time, numMissing int) error {
	latencySample := float64(receiptTime.Sub(measTime))
	periodSample := float64(measTime.Sub(e.lastMeasTime))

	if err := e.updatePeriod(periodSample, numMissing); err != nil {
		return err
	}
	e.updateLatency(latencySample)

	e.lastMeasTime = measTime
	e.lastReceiptTime = receiptTime
	e.numUpdates++

	return nil
}

// UpdateLatencyOnly feeds a new sample into the latency estimate only.
// It is meant for samples whose missing count is unreliable: the period
// estimate is left untouched and the update counter is not incremented.
func (e *Estimator) UpdateLatencyOnly(receiptTime, measTime time.Time) {
	e.updateLatency(float64(receiptTime.Sub(measTime)))

	e.lastMeasTime = measTime
	e.lastReceiptTime = receiptTime
}

// NumUpdates returns the number of full updates performed so far.
func (e *Estimator) NumUpdates() int {
	return e.numUpdates
}

// IsInitialized states whether enough samples were seen for the period and
// latency estimates to be usable.
func (e *Estimator) IsInitialized() bool {
	return e.numUpdates >= 2
}

// Period returns the estimated mean update period.
func (e *Estimator) Period() time.Duration {
	return time.Duration(e.period.mean)
}

// PeriodStddev returns the standard deviation of the period estimate.
func (e *Estimator) PeriodStddev() time.Duration {
	return time.Duration(math.Sqrt(e.period.variance))
}

// PeriodQuantile evaluates the given quantile of the period distribution.
func (e *Estimator) PeriodQuantile(quantile float64) time.Duration {
	if e.period.variance == 0 {
		// without variance, all quantiles sit on the mean
		return e.Period()
	}

	return time.Duration(norm.Quantile(e.period.mean, math.Sqrt(e.period.variance), quantile))
}

// Latency returns the estimated mean latency.
func (e *Estimator) Latency() time.Duration {
	return time.Duration(e.latency.mean)
}

// LatencyStddev returns the standard deviation of the latency estimate.
func (e *Estimator) LatencyStddev() time.Duration {
	return time.Duration(math.Sqrt(e.latency.variance))
}

// LatencyQuantile evaluates the given quantile of the latency distribution.
func (e *Estimator) LatencyQuantile(quantile float64) time.Duration {
	if e.latency.variance == 0 {
		// without variance, all quantiles sit on the mean
		return e.Latency()
	}

	return time.Duration(norm.Quantile(e.latency.mean, math.Sqrt(e.latency.variance), quantile))
}

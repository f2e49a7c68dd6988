package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// at turns a millisecond offset into an absolute time stamp.
func at(ms int64) time.Time {
	return time.Time{}.Add(time.Duration(ms) * time.Millisecond)
}

func Test_Estimator_perfectStream(t *testing.T) {
	assert := assert.New(t)

	// Perfectly aligned measurements in 50ms steps with 10ms latency
	est := New(at(60), at(50), DefaultAlpha)
	assert.False(est.IsInitialized())

	assert.NoError(est.Update(at(110), at(100), 0))
	assert.False(est.IsInitialized())
	assert.NoError(est.Update(at(160), at(150), 0))
	assert.True(est.IsInitialized())
	assert.NoError(est.Update(at(210), at(200), 0))
	assert.NoError(est.Update(at(260), at(250), 0))

	assert.Equal(50*time.Millisecond, est.Period())
	assert.Equal(time.Duration(0), est.PeriodStddev())
	assert.Equal(10*time.Millisecond, est.Latency())
	assert.Equal(time.Duration(0), est.LatencyStddev())

	// Without variance, quantiles collapse onto the mean
	assert.Equal(50*time.Millisecond, est.PeriodQuantile(0.99))
	assert.Equal(10*time.Millisecond, est.LatencyQuantile(0.01))
}

func Test_Estimator_missingMeasurements(t *testing.T) {
	assert := assert.New(t)

	est := New(at(60), at(50), DefaultAlpha)
	assert.NoError(est.Update(at(110), at(100), 0))
	assert.NoError(est.Update(at(160), at(150), 0))
	assert.NoError(est.Update(at(210), at(200), 0))
	assert.NoError(est.Update(at(260), at(250), 0))

	// Omitting the measurement received at 310ms (meas stamp 300ms) leaves
	// the estimates untouched thanks to the missing correction
	assert.NoError(est.Update(at(360), at(350), 1))

	assert.Equal(50*time.Millisecond, est.Period())
	assert.Equal(time.Duration(0), est.PeriodStddev())
	assert.Equal(10*time.Millisecond, est.Latency())
	assert.Equal(time.Duration(0), est.LatencyStddev())

	// An overcounted missing number produces a negative corrected period,
	// which is silently skipped while the estimates are still settling
	assert.NoError(est.Update(at(410), at(400), 2))

	for idx := range 10 {
		offset := time.Duration(idx) * 50 * time.Millisecond
		assert.NoError(est.Update(at(310).Add(offset), at(300).Add(offset), 0))
	}

	// After enough updates the inconsistency is reported instead
	err := est.Update(at(810), at(800), 10)
	assert.ErrorIs(err, ErrCorrupted)
}

func Test_Estimator_latencyTracking(t *testing.T) {
	assert := assert.New(t)

	const (
		preSamples    = 100
		latentSamples = 10

		latency = 10 * time.Millisecond
		period  = 100 * time.Millisecond
	)

	est := New(at(0), at(0), DefaultAlpha)

	push := func(idx int, offset, lat time.Duration) {
		current := time.Time{}.Add(time.Duration(idx)*period + offset)
		assert.NoError(est.Update(current.Add(lat), current, 0))
		assert.LessOrEqual(est.Latency(), latency)
		assert.GreaterOrEqual(est.Latency(), time.Duration(0))
	}

	for idx := range preSamples {
		push(idx, 0, 0)
	}

	offset := preSamples * period
	for idx := range latentSamples {
		push(idx, offset, latency)
	}

	offset += latentSamples * period
	for idx := range latentSamples {
		push(idx, offset, 0)
	}
}

func Test_Estimator_exponentialSteps(t *testing.T) {
	assert := assert.New(t)

	// Hand-computed smoothing steps with alpha = 0.5
	est := New(at(15), at(0), 0.5)

	// First update: mean-only latency step, variance initialization
	assert.NoError(est.Update(at(110), at(100), 0))
	assert.InDelta(float64(12500*time.Microsecond), float64(est.Latency()), 1)
	assert.Equal(100*time.Millisecond, est.Period())

	// Second update: full smoothing on the latency, variance init on the period
	assert.NoError(est.Update(at(220), at(200), 0))
	assert.InDelta(float64(16250*time.Microsecond), float64(est.Latency()), 1)
	assert.Equal(100*time.Millisecond, est.Period())
	assert.Equal(time.Duration(0), est.PeriodStddev())

	ms2 := float64(time.Millisecond) * float64(time.Millisecond)
	variance := 20.3125 * ms2
	assert.InDelta(variance, float64(est.LatencyStddev())*float64(est.LatencyStddev()), variance*1e-6)
}

func Test_Estimator_latencyOnly(t *testing.T) {
	assert := assert.New(t)

	est := New(at(60), at(50), DefaultAlpha)
	assert.NoError(est.Update(at(110), at(100), 0))
	assert.NoError(est.Update(at(160), at(150), 0))

	updates := est.NumUpdates()
	period := est.Period()

	est.UpdateLatencyOnly(at(230), at(200))

	assert.Equal(updates, est.NumUpdates())
	assert.Equal(period, est.Period())
	assert.Greater(est.Latency(), 10*time.Millisecond)
}

package ritmo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Params_validation(t *testing.T) {
	assert := assert.New(t)

	params := NewParams[uint]()
	params.ResetThreshold = -time.Second
	params.MeasurementConfidenceQuantile = 1.5
	params.WaitConfidenceQuantile = 0
	params.MaxTotalWaitTime = 0
	params.EstimatorAlpha = -0.5
	params.Batch.MaxDelta = -time.Millisecond

	// anomalous values are clamped to their defaults during construction
	New[*measurement](params)

	assert.Equal(DefaultResetThreshold, params.ResetThreshold)
	assert.Equal(DefaultMeasurementConfidenceQuantile, params.MeasurementConfidenceQuantile)
	assert.Equal(DefaultWaitConfidenceQuantile, params.WaitConfidenceQuantile)
	assert.Equal(DefaultMaxTotalWaitTime, params.MaxTotalWaitTime)
	assert.Equal(DefaultEstimatorAlpha, params.EstimatorAlpha)
	assert.Equal(DefaultBatchMaxDelta, params.Batch.MaxDelta)
}

func Test_FixedLagParams_validation(t *testing.T) {
	assert := assert.New(t)

	params := NewFixedLagParams[uint]()
	params.DelayMean = -time.Second
	params.DelayStddev = -time.Second
	params.DelayQuantile = 2

	NewFixedLagBuffer[*measurement](params)

	assert.Equal(time.Duration(0), params.DelayMean)
	assert.Equal(time.Duration(0), params.DelayStddev)
	assert.Equal(DefaultFixedLagDelayQuantile, params.DelayQuantile)
}

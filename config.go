package ritmo

import (
	"time"

	"github.com/FerroO2000/ritmo/internal/config"
	"github.com/FerroO2000/ritmo/internal/estimator"
)

// Default configuration values for the adaptive buffer.
const (
	DefaultResetThreshold                = time.Second
	DefaultMeasurementConfidenceQuantile = 0.99
	DefaultMaxAbsMeasurementJitter       = 100 * time.Second
	DefaultWaitConfidenceQuantile        = 0.99
	DefaultMaxAbsWaitJitter              = 100 * time.Second
	DefaultMaxTotalWaitTime              = 1000 * time.Second
	DefaultEstimatorAlpha                = estimator.DefaultAlpha
	DefaultBatchMaxDelta                 = 10 * time.Millisecond
)

// BatchParams contains the configuration for the batch delivery mode.
type BatchParams struct {
	// MaxDelta is the max measurement time delta of a batch.
	MaxDelta time.Duration
}

// NewBatchParams returns the default configuration for the batch delivery mode.
func NewBatchParams() BatchParams {
	return BatchParams{
		MaxDelta: DefaultBatchMaxDelta,
	}
}

// Validate checks the configuration.
func (bp *BatchParams) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "Batch.MaxDelta", &bp.MaxDelta, DefaultBatchMaxDelta)
	config.CheckNotZero(ac, "Batch.MaxDelta", &bp.MaxDelta, DefaultBatchMaxDelta)
}

// MatchParams contains the configuration for the match delivery mode.
type MatchParams[ID comparable] struct {
	// ReferenceStream is the source whose samples define the target times
	// around which the tuples are formed.
	ReferenceStream ID

	// NumStreams is the total number of streams forming a tuple.
	// The adaptive buffer infers it from the known sources; the fixed-lag
	// buffer cannot and relies on this value.
	NumStreams int
}

// Validate checks the configuration.
func (mp *MatchParams[ID]) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "Match.NumStreams", &mp.NumStreams, 0)
}

// Params contains the configuration for the adaptive buffer.
type Params[ID comparable] struct {
	// Mode is the delivery discipline.
	Mode Mode

	// ResetThreshold is the maximum allowed jump of the receipt time into
	// the past before the whole buffer is reset.
	ResetThreshold time.Duration

	// MeasurementConfidenceQuantile is the confidence used to evaluate the
	// estimated distribution of the measurement update period.
	MeasurementConfidenceQuantile float64
	// MaxAbsMeasurementJitter limits the absolute measurement jitter.
	MaxAbsMeasurementJitter time.Duration

	// WaitConfidenceQuantile is the confidence used to evaluate the
	// estimated distribution of the wait time (period plus latency spread).
	WaitConfidenceQuantile float64
	// MaxAbsWaitJitter limits the absolute waiting jitter.
	MaxAbsWaitJitter time.Duration

	// MaxTotalWaitTime limits the maximum time the buffer waits for a
	// sample.
	MaxTotalWaitTime time.Duration

	// EstimatorAlpha is the smoothing factor of the per-source period and
	// latency estimators. It must be between 0 and 1.
	EstimatorAlpha float64

	// Batch is the configuration for the batch delivery mode.
	Batch BatchParams
	// Match is the configuration for the match delivery mode.
	Match MatchParams[ID]
}

// NewParams returns the default configuration for the adaptive buffer.
func NewParams[ID comparable]() *Params[ID] {
	return &Params[ID]{
		Mode: ModeSingle,

		ResetThreshold: DefaultResetThreshold,

		MeasurementConfidenceQuantile: DefaultMeasurementConfidenceQuantile,
		MaxAbsMeasurementJitter:       DefaultMaxAbsMeasurementJitter,

		WaitConfidenceQuantile: DefaultWaitConfidenceQuantile,
		MaxAbsWaitJitter:       DefaultMaxAbsWaitJitter,

		MaxTotalWaitTime: DefaultMaxTotalWaitTime,

		EstimatorAlpha: DefaultEstimatorAlpha,

		Batch: NewBatchParams(),
	}
}

// Validate checks the configuration.
func (p *Params[ID]) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "ResetThreshold", &p.ResetThreshold, DefaultResetThreshold)

	config.CheckQuantile(ac, "MeasurementConfidenceQuantile", &p.MeasurementConfidenceQuantile, DefaultMeasurementConfidenceQuantile)
	config.CheckNotNegative(ac, "MaxAbsMeasurementJitter", &p.MaxAbsMeasurementJitter, DefaultMaxAbsMeasurementJitter)

	config.CheckQuantile(ac, "WaitConfidenceQuantile", &p.WaitConfidenceQuantile, DefaultWaitConfidenceQuantile)
	config.CheckNotNegative(ac, "MaxAbsWaitJitter", &p.MaxAbsWaitJitter, DefaultMaxAbsWaitJitter)

	config.CheckNotNegative(ac, "MaxTotalWaitTime", &p.MaxTotalWaitTime, DefaultMaxTotalWaitTime)
	config.CheckNotZero(ac, "MaxTotalWaitTime", &p.MaxTotalWaitTime, DefaultMaxTotalWaitTime)

	config.CheckNotNegative(ac, "EstimatorAlpha", &p.EstimatorAlpha, DefaultEstimatorAlpha)
	config.CheckNotZero(ac, "EstimatorAlpha", &p.EstimatorAlpha, DefaultEstimatorAlpha)
	config.CheckNotGreaterThan(ac, "EstimatorAlpha", "1", &p.EstimatorAlpha, 1.0)

	p.Batch.Validate(ac)
	p.Match.Validate(ac)
}

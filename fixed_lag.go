package ritmo

import (
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/ritmo/internal"
	"github.com/FerroO2000/ritmo/internal/config"
	"github.com/FerroO2000/ritmo/internal/norm"
)

// DefaultFixedLagDelayQuantile is the default confidence used to evaluate
// the delay distribution of the fixed-lag buffer.
const DefaultFixedLagDelayQuantile = 0.5

// FixedLagParams contains the configuration for the fixed-lag buffer.
type FixedLagParams[ID comparable] struct {
	// Mode is the delivery discipline.
	Mode Mode

	// ResetThreshold is the maximum allowed jump of the receipt time into
	// the past before the whole buffer is reset.
	ResetThreshold time.Duration

	// DelayMean is the mean delay of the incoming samples.
	DelayMean time.Duration
	// DelayStddev is the standard deviation of the delay of the incoming
	// samples.
	DelayStddev time.Duration
	// DelayQuantile is the confidence used to evaluate the delay
	// distribution.
	DelayQuantile float64

	// Batch is the configuration for the batch delivery mode.
	Batch BatchParams
	// Match is the configuration for the match delivery mode.
	// The fixed-lag buffer cannot infer the number of streams, so
	// Match.NumStreams must be set.
	Match MatchParams[ID]
}

// NewFixedLagParams returns the default configuration for the fixed-lag buffer.
func NewFixedLagParams[ID comparable]() *FixedLagParams[ID] {
	return &FixedLagParams[ID]{
		Mode: ModeSingle,

		DelayQuantile: DefaultFixedLagDelayQuantile,

		Batch: NewBatchParams(),
	}
}

// Validate checks the configuration.
func (p *FixedLagParams[ID]) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "ResetThreshold", &p.ResetThreshold, 0)

	config.CheckNotNegative(ac, "DelayMean", &p.DelayMean, 0)
	config.CheckNotNegative(ac, "DelayStddev", &p.DelayStddev, 0)
	config.CheckQuantile(ac, "DelayQuantile", &p.DelayQuantile, DefaultFixedLagDelayQuantile)

	p.Batch.Validate(ac)
	p.Match.Validate(ac)
}

// FixedLagBuffer re-orders samples of multiple sources by delaying everything
// by a constant lag derived from the configured delay distribution.
//
// It is the degenerate sibling of the adaptive [Buffer]: same interface
// contract, no per-source estimation, no placeholders.
//
// The buffer is not thread-safe: the caller serializes Push and Pop.
type FixedLagBuffer[D any, ID comparable] struct {
	tel *internal.Telemetry

	params *FixedLagParams[ID]

	data []*element[D, ID]

	fixedLagDelay time.Duration

	// bufferTime is the measurement time of the last popped sample
	bufferTime time.Time
	// currentTime is the external time
	currentTime time.Time

	// Metrics
	pushedSamples    atomic.Int64
	deliveredSamples atomic.Int64
	discardedSamples atomic.Int64
}

// NewFixedLagBuffer returns a new fixed-lag buffer with the given
// configuration. A nil configuration falls back to [NewFixedLagParams];
// anomalous values are replaced by their defaults and logged.
//
// The applied lag is the delay mean, extended by the batch delta in batch
// mode, plus the configured quantile of the centered delay distribution.
func NewFixedLagBuffer[D any, ID comparable](params *FixedLagParams[ID]) *FixedLagBuffer[D, ID] {
	tel := internal.NewTelemetry("buffer", "fixed-lag")

	if params == nil {
		params = NewFixedLagParams[ID]()
	}
	config.NewValidator(tel).Validate(params)

	delay := params.DelayMean
	if params.Mode == ModeBatch {
		delay += params.Batch.MaxDelta
	}
	if params.DelayStddev > 0 {
		quantile := norm.Quantile(0, float64(params.DelayStddev), 1-(1-params.DelayQuantile)/2)
		delay += time.Duration(quantile)
	}

	b := &FixedLagBuffer[D, ID]{
		tel: tel,

		params: params,

		data: []*element[D, ID]{},

		fixedLagDelay: delay,
	}

	b.initMetrics()

	return b
}

func (b *FixedLagBuffer[D, ID]) initMetrics() {
	b.tel.NewCounter("pushed_samples", func() int64 { return b.pushedSamples.Load() })
	b.tel.NewCounter("delivered_samples", func() int64 { return b.deliveredSamples.Load() })
	b.tel.NewCounter("discarded_samples", func() int64 { return b.discardedSamples.Load() })
}

// Push adds the sample of the given source to the buffer.
func (b *FixedLagBuffer[D, ID]) Push(id ID, receiptTime, measTime time.Time, data D) PushResult {
	if b.currentTime.Sub(receiptTime) > b.params.ResetThreshold {
		b.Reset()
		return PushReset
	}

	b.pushedSamples.Add(1)

	b.data = append(b.data, newSampleElement(id, measTime, receiptTime, data))
	sortByMeasTime(b.data)

	return PushOK
}

// Pop releases every sample whose measurement time is at least the fixed lag
// in the past with respect to the given time, honoring the configured
// delivery mode.
func (b *FixedLagBuffer[D, ID]) Pop(now time.Time) PopResult[D, ID] {
	var outputInds, discardInds []int

	// every sample measured before the reference time can be released
	refMeasTime := now.Add(-b.fixedLagDelay)

	for i, el := range b.data {
		if !el.measTime.After(b.bufferTime) {
			discardInds = append(discardInds, i)
		} else if !el.measTime.After(refMeasTime) {
			outputInds = append(outputInds, i)
		} else {
			// the queue is sorted, no later element can be older
			break
		}
	}

	if len(outputInds) > 0 {
		switch b.params.Mode {
		case ModeBatch:
			outputInds = b.runFixedLagBatching(outputInds)

		case ModeMatch:
			tupleInds, deleteInds := b.runFixedLagMatching(outputInds)
			outputInds = tupleInds
			discardInds = append(discardInds, deleteInds...)
		}
	}

	res := PopResult[D, ID]{}
	for _, idx := range outputInds {
		res.Delivered = append(res.Delivered, b.data[idx].toSample())
	}
	for _, idx := range discardInds {
		res.Discarded = append(res.Discarded, b.data[idx].toSample())
	}

	if n := len(res.Delivered); n > 0 {
		b.bufferTime = res.Delivered[n-1].MeasTime

		b.deliveredSamples.Add(int64(n))
	}
	b.discardedSamples.Add(int64(len(res.Discarded)))

	res.BufferTime = b.bufferTime

	discardInds = append(discardInds, outputInds...)
	b.data = removeIndices(b.data, discardInds)
	sortByMeasTime(b.data)

	return res
}

// runFixedLagBatching extends the ready elements with every sample within the
// batch width of the oldest one, even if those are not delayed enough yet.
func (b *FixedLagBuffer[D, ID]) runFixedLagBatching(outputInds []int) []int {
	oldestOutputTime := b.data[outputInds[0]].measTime
	batchReferenceTime := oldestOutputTime.Add(b.params.Batch.MaxDelta)

	batch := []int{outputInds[0]}

	// sorting is preserved for the output here
	for idx := outputInds[0] + 1; idx < len(b.data); idx++ {
		if b.data[idx].measTime.Before(batchReferenceTime) {
			batch = append(batch, idx)
		}
	}

	return batch
}

// runFixedLagMatching forms a single tuple of nearest-in-time samples around
// the oldest ready sample of the reference stream, or nothing.
//
// Without stream characteristics the next reference sample cannot be
// anticipated: it is searched within the pending data and falls back to the
// zero time. Candidates are taken from the whole queue, since pending samples
// are already received and waiting for them costs nothing extra.
func (b *FixedLagBuffer[D, ID]) runFixedLagMatching(outputInds []int) (tupleInds, deleteInds []int) {
	referenceStream := b.params.Match.ReferenceStream

	foundRef := false
	foundNextRef := false
	refIdx := 0
	var refMeasTime, nextRefMeasTime time.Time

	for _, idx := range outputInds {
		el := b.data[idx]
		if el.id != referenceStream {
			continue
		}

		if !foundRef {
			foundRef = true
			refIdx = idx
			refMeasTime = el.measTime
			continue
		}

		foundNextRef = true
		nextRefMeasTime = el.measTime
		break
	}

	if !foundRef {
		return nil, nil
	}

	if !foundNextRef {
		// search the received but not yet ready samples as well
		for _, el := range b.data[refIdx+1:] {
			if el.id == referenceStream {
				foundNextRef = true
				nextRefMeasTime = el.measTime
				break
			}
		}
	}

	matchingMap := map[ID]matchEntry{
		referenceStream: {idx: refIdx, tau: 0},
	}

	// foundBetterForNext flags that a stream has data fitting the next
	// reference better and no other sample for the current one.
	foundBetterForNext := false

	for idx, el := range b.data {
		// only the oldest reference may be considered
		if el.id == referenceStream {
			continue
		}

		currentDiff := absDuration(el.measTime.Sub(refMeasTime))
		nextDiff := absDuration(el.measTime.Sub(nextRefMeasTime))

		if nextDiff < currentDiff {
			if _, ok := matchingMap[el.id]; !ok {
				foundBetterForNext = true
			}

			// further samples won't fit better
			break
		}

		entry, ok := matchingMap[el.id]
		if !ok {
			entry = matchEntry{tau: math.Inf(1)}
		}

		if tau := currentDiff.Seconds(); tau < entry.tau {
			entry.idx = idx
			entry.tau = tau
		}

		matchingMap[el.id] = entry
	}

	if len(matchingMap) != b.params.Match.NumStreams {
		if foundBetterForNext {
			// the tuple is impossible, delete the current reference; other
			// entries are deleted automatically with the next tuple
			deleteInds = append(deleteInds, refIdx)
		}

		return nil, deleteInds
	}

	tupleInds = make([]int, 0, len(matchingMap))
	for _, entry := range matchingMap {
		tupleInds = append(tupleInds, entry.idx)
	}
	// deliver the tuple in measurement time order
	slices.Sort(tupleInds)

	return tupleInds, nil
}

// Reset restores the pristine state of the buffer.
func (b *FixedLagBuffer[D, ID]) Reset() {
	b.data = b.data[:0]

	b.bufferTime = time.Time{}
	b.currentTime = time.Time{}
}

// BufferTime returns the measurement time of the last popped sample.
func (b *FixedLagBuffer[D, ID]) BufferTime() time.Time {
	return b.bufferTime
}

// CurrentTime returns the external time of the buffer.
func (b *FixedLagBuffer[D, ID]) CurrentTime() time.Time {
	return b.currentTime
}

// NumQueuedElements returns the number of currently stored samples.
func (b *FixedLagBuffer[D, ID]) NumQueuedElements() int {
	return len(b.data)
}

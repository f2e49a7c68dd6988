package ritmo

import (
	"sync/atomic"
	"time"

	"github.com/FerroO2000/ritmo/internal"
	"github.com/FerroO2000/ritmo/internal/config"
	"github.com/FerroO2000/ritmo/internal/estimator"
)

// Buffer re-orders samples of multiple sources into a single sequence with
// increasing measurement time stamps, while adding as little delay as
// possible for the configured confidence of not losing data.
//
// It estimates the update period and latency of every source online and
// reserves slots in the queue for anticipated samples, so a source with a low
// latency cannot be released before a source with a high latency got its
// probabilistic turn.
//
// Assumptions:
//   - period and latency change slowly relative to the measurement frequency
//   - a source delivers samples with increasing measurement time stamps
//
// Jumps of the period and/or the latency are possible, but may lead to a
// degraded buffer performance until the estimates have converged again.
//
// The buffer is not thread-safe: the caller serializes Push and Pop.
type Buffer[D any, ID comparable] struct {
	tel *internal.Telemetry

	params *Params[ID]

	data       []*element[D, ID]
	estimators map[ID]*estimator.Estimator

	// bufferTime is the measurement time of the last popped sample
	bufferTime time.Time
	// currentTime is the external time, i.e. the latest receipt time seen
	currentTime time.Time

	// Metrics
	pushedSamples     atomic.Int64
	deliveredSamples  atomic.Int64
	discardedSamples  atomic.Int64
	resets            atomic.Int64
	estimatorFailures atomic.Int64
}

// New returns a new adaptive buffer with the given configuration.
// A nil configuration falls back to [NewParams]; anomalous values are
// replaced by their defaults and logged.
func New[D any, ID comparable](params *Params[ID]) *Buffer[D, ID] {
	tel := internal.NewTelemetry("buffer", "adaptive")

	if params == nil {
		params = NewParams[ID]()
	}
	config.NewValidator(tel).Validate(params)

	b := &Buffer[D, ID]{
		tel: tel,

		params: params,

		data:       []*element[D, ID]{},
		estimators: make(map[ID]*estimator.Estimator),
	}

	b.initMetrics()

	return b
}

func (b *Buffer[D, ID]) initMetrics() {
	b.tel.NewCounter("pushed_samples", func() int64 { return b.pushedSamples.Load() })
	b.tel.NewCounter("delivered_samples", func() int64 { return b.deliveredSamples.Load() })
	b.tel.NewCounter("discarded_samples", func() int64 { return b.discardedSamples.Load() })

	b.tel.NewCounter("resets", func() int64 { return b.resets.Load() })
	b.tel.NewCounter("estimator_failures", func() int64 { return b.estimatorFailures.Load() })
}

// Push adds the sample of the given source to the buffer.
//
// Samples must be provided in consecutive order with respect to the receipt
// time. If the receipt time jumps into the past by more than the configured
// reset threshold, the buffer resets itself and returns [PushReset]; this
// allows looping recordings.
func (b *Buffer[D, ID]) Push(id ID, receiptTime, measTime time.Time, data D) PushResult {
	if b.currentTime.Sub(receiptTime) > b.params.ResetThreshold {
		b.Reset()
		b.resets.Add(1)
		return PushReset
	}

	if receiptTime.After(b.currentTime) {
		b.currentTime = receiptTime
	}

	b.pushedSamples.Add(1)

	est, ok := b.estimators[id]
	if !ok {
		// A single sample cannot initialize the period estimate, so no
		// placeholders are generated yet
		b.estimators[id] = estimator.New(receiptTime, measTime, b.params.EstimatorAlpha)
		b.data = append(b.data, newSampleElement(id, measTime, receiptTime, data))

		sortByMeasTime(b.data)
		return PushOK
	}

	// Search the best matching placeholder of the source. A match counts
	// only within half a period: anything farther away must be either a new
	// slot or a gross estimation error.
	bestIdx := -1
	minDist := est.Period() / 2
	// Placeholders older than the sample are considered missed; the best
	// match is subtracted again below.
	numMissed := 0

	for i, el := range b.data {
		if el.id != id || !el.isPlaceholder() {
			continue
		}

		if el.measTime.Before(measTime) {
			numMissed++
		}

		if dist := absDuration(el.measTime.Sub(measTime)); dist < minDist {
			minDist = dist
			bestIdx = i
		}
	}

	if bestIdx >= 0 {
		// The best match was counted as missed before, but it is not
		if numMissed > 0 && measTime.After(b.data[bestIdx].measTime) {
			numMissed--
		}

		// Fill the placeholder with the received sample. Handling of
		// already created placeholders is done by createPlaceholders.
		el := b.data[bestIdx]
		el.measTime = measTime
		el.receiptTime = receiptTime
		el.data = data
		el.hasData = true

		b.data = append(b.data, b.createPlaceholders(el)...)
	} else {
		el := newSampleElement(id, measTime, receiptTime, data)
		b.data = append(b.data, b.createPlaceholders(el)...)
		b.data = append(b.data, el)
	}

	var err error
	switch {
	case !est.IsInitialized():
		// the missed count is meaningless without placeholders
		err = est.Update(receiptTime, measTime, 0)
	case bestIdx >= 0:
		err = est.Update(receiptTime, measTime, numMissed)
	default:
		// without a matching placeholder the missed count is unreliable
		est.UpdateLatencyOnly(receiptTime, measTime)
	}

	if err != nil {
		// A broken estimator update must not take the buffer down: skip the
		// sample and keep the previous estimates
		b.estimatorFailures.Add(1)
		b.tel.LogWarn("skipping estimator update", "source", id, "reason", err)
	}

	// Drop the placeholders of the source that the sample has overtaken
	kept := b.data[:0]
	for _, el := range b.data {
		if el.id == id && el.isPlaceholder() && el.measTime.Before(measTime) {
			continue
		}

		kept = append(kept, el)
	}
	b.data = kept

	sortByMeasTime(b.data)
	return PushOK
}

// Pop releases every sample that can be delivered at the given time without
// risking an out-of-sequence measurement later on, honoring the configured
// delivery mode.
//
// Push and Pop must be called with increasing time stamps; a pop older than
// the latest receipt time returns no data and leaves the buffer untouched.
func (b *Buffer[D, ID]) Pop(now time.Time) PopResult[D, ID] {
	if now.Before(b.currentTime) {
		return PopResult[D, ID]{BufferTime: b.bufferTime}
	}

	var outputInds, discardInds, deleteInds []int
	var created []*element[D, ID]

	// Walk the queue in measurement time order until the first element that
	// forces us to wait.
walk:
	for i, el := range b.data {
		switch {
		case el.measTime.Before(b.bufferTime):
			// The queue may start with samples older than the last output,
			// e.g. if we stopped waiting for a source but its data arrived a
			// little later. Those must be discarded; stale placeholders are
			// already handled during push.
			if !el.isPlaceholder() {
				discardInds = append(discardInds, i)
				deleteInds = append(deleteInds, i)
			}

		case el.isPlaceholder():
			if !el.latestReceiptTime.Before(now) {
				// the anticipated sample may still arrive, keep waiting
				break walk
			}
			// the placeholder timed out, pass it by

		default:
			if el.measTime.After(now) {
				break walk
			}

			outputInds = append(outputInds, i)
		}

		newPlaceholders := b.createPlaceholders(el)
		if len(newPlaceholders) > 0 {
			// do not over-reach into slots that now have a reservation
			if last := newPlaceholders[len(newPlaceholders)-1].measTime; last.Before(now) {
				now = last
			}

			created = append(created, newPlaceholders...)
		}
	}

	if len(outputInds) > 0 {
		switch b.params.Mode {
		case ModeBatch:
			outputInds = b.runBatching(outputInds, now)

		case ModeMatch:
			tupleInds, matchDeleteInds := b.runMatching(outputInds)
			outputInds = tupleInds

			deleteInds = append(deleteInds, matchDeleteInds...)
			discardInds = append(discardInds, matchDeleteInds...)
		}
	}

	res := PopResult[D, ID]{}
	for _, idx := range outputInds {
		res.Delivered = append(res.Delivered, b.data[idx].toSample())
	}
	for _, idx := range discardInds {
		res.Discarded = append(res.Discarded, b.data[idx].toSample())
	}

	// delivered elements leave the queue as well
	deleteInds = append(deleteInds, outputInds...)
	b.data = removeIndices(b.data, deleteInds)

	b.data = append(b.data, created...)
	sortByMeasTime(b.data)

	// Advance the buffer time to the last output element: anything received
	// later with an earlier measurement time stamp (e.g. a new source) must
	// be discarded to keep the output sequence in order.
	if n := len(res.Delivered); n > 0 {
		b.bufferTime = res.Delivered[n-1].MeasTime

		b.deliveredSamples.Add(int64(n))
	}
	b.discardedSamples.Add(int64(len(res.Discarded)))

	res.BufferTime = b.bufferTime
	return res
}

// Reset restores the pristine state of the buffer, dropping all queued
// samples and the source estimates.
func (b *Buffer[D, ID]) Reset() {
	b.data = b.data[:0]
	clear(b.estimators)

	b.bufferTime = time.Time{}
	b.currentTime = time.Time{}
}

// NumQueuedElements returns the number of currently stored samples,
// ignoring placeholders.
func (b *Buffer[D, ID]) NumQueuedElements() int {
	count := 0
	for _, el := range b.data {
		if !el.isPlaceholder() {
			count++
		}
	}

	return count
}

// TotalSize returns the number of queue entries including placeholders.
func (b *Buffer[D, ID]) TotalSize() int {
	return len(b.data)
}

// BufferTime returns the measurement time of the last popped sample.
func (b *Buffer[D, ID]) BufferTime() time.Time {
	return b.bufferTime
}

// EstimatedBufferTime returns the next expected measurement time stamp.
//
// With the confidence configured within the parameters, no measurement with
// an older time stamp than the returned one will be received in the future
// (excluding new sources).
func (b *Buffer[D, ID]) EstimatedBufferTime() time.Time {
	if len(b.data) == 0 {
		return b.bufferTime
	}

	return b.data[0].measTime
}

// EarliestHoldBackReceptionTime returns the oldest reception time across all
// samples currently held back within the buffer. The second return value is
// false if no sample is held back.
func (b *Buffer[D, ID]) EarliestHoldBackReceptionTime() (time.Time, bool) {
	var minReceiptTime time.Time
	found := false

	for _, el := range b.data {
		if el.isPlaceholder() {
			continue
		}

		if !found || el.receiptTime.Before(minReceiptTime) {
			minReceiptTime = el.receiptTime
			found = true
		}
	}

	return minReceiptTime, found
}

// Latency returns the estimated latency of the given source,
// or 0 if the source is unknown.
func (b *Buffer[D, ID]) Latency(id ID) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.Latency()
	}

	return 0
}

// LatencyStddev returns the standard deviation of the latency estimate of
// the given source, or 0 if the source is unknown.
func (b *Buffer[D, ID]) LatencyStddev(id ID) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.LatencyStddev()
	}

	return 0
}

// LatencyQuantile evaluates the given quantile of the latency distribution
// of the given source, or 0 if the source is unknown.
func (b *Buffer[D, ID]) LatencyQuantile(id ID, quantile float64) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.LatencyQuantile(quantile)
	}

	return 0
}

// Period returns the estimated update period of the given source,
// or 0 if the source is unknown.
func (b *Buffer[D, ID]) Period(id ID) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.Period()
	}

	return 0
}

// PeriodStddev returns the standard deviation of the period estimate of the
// given source, or 0 if the source is unknown.
func (b *Buffer[D, ID]) PeriodStddev(id ID) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.PeriodStddev()
	}

	return 0
}

// PeriodQuantile evaluates the given quantile of the period distribution of
// the given source, or 0 if the source is unknown.
func (b *Buffer[D, ID]) PeriodQuantile(id ID, quantile float64) time.Duration {
	if est, ok := b.estimators[id]; ok {
		return est.PeriodQuantile(quantile)
	}

	return 0
}

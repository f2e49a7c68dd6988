package ritmo

import (
	"slices"
	"time"
)

// Mode is the delivery discipline of a buffer.
type Mode uint8

const (
	// ModeSingle delivers data with increasing time stamps as soon as possible.
	ModeSingle Mode = iota
	// ModeBatch tries to batch data, this may introduce an additional delay.
	ModeBatch
	// ModeMatch tries to match data into tuples, this may introduce an additional delay.
	ModeMatch
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeBatch:
		return "batch"
	case ModeMatch:
		return "match"
	default:
		return "unknown"
	}
}

// PushResult is the result of a push operation.
type PushResult uint8

const (
	// PushOK is returned when the sample was accepted.
	PushOK PushResult = iota
	// PushReset is returned when the receipt time jumped into the past
	// and the whole buffer was reset.
	PushReset
)

func (pr PushResult) String() string {
	switch pr {
	case PushOK:
		return "ok"
	case PushReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Sample is a measurement delivered or discarded by a buffer.
type Sample[D any, ID comparable] struct {
	// SourceID identifies the source stream of the sample.
	SourceID ID

	// MeasTime is the time at which the sample was measured.
	MeasTime time.Time

	// ReceiptTime is the time at which the sample was received.
	ReceiptTime time.Time

	// Data is the payload of the sample.
	Data D
}

// PopResult is the result of a pop operation.
type PopResult[D any, ID comparable] struct {
	// BufferTime is the measurement time of the last delivered sample.
	BufferTime time.Time

	// Delivered contains the samples released by this pop,
	// sorted by measurement time.
	Delivered []Sample[D, ID]

	// Discarded contains the samples dropped by this pop: those whose
	// measurement time fell behind the buffer time and, in match mode, the
	// reference sample of a tuple that could not be formed.
	Discarded []Sample[D, ID]
}

// element is a single entry of the buffer queue: either a received sample or
// a placeholder reserving the slot of an anticipated one.
// For placeholders, measTime is set to the earliest estimated measurement
// time and receiptTime to the latest expected reception time, which keeps the
// queue handling uniform during push/pop.
type element[D any, ID comparable] struct {
	id ID

	measTime    time.Time
	receiptTime time.Time

	// earliestEstimatedMeasTime is kept untouched when a placeholder is
	// filled with a received sample
	earliestEstimatedMeasTime time.Time
	// latestReceiptTime is the estimated latest possible reception time
	// given the confidence settings
	latestReceiptTime time.Time

	data    D
	hasData bool

	// createdPlaceholder flags that this element already spawned its
	// placeholders
	createdPlaceholder bool
}

func newSampleElement[D any, ID comparable](id ID, measTime, receiptTime time.Time, data D) *element[D, ID] {
	return &element[D, ID]{
		id: id,

		measTime:    measTime,
		receiptTime: receiptTime,

		earliestEstimatedMeasTime: measTime,
		latestReceiptTime:         receiptTime,

		data:    data,
		hasData: true,
	}
}

func (el *element[D, ID]) isPlaceholder() bool {
	return !el.hasData
}

func (el *element[D, ID]) toSample() Sample[D, ID] {
	return Sample[D, ID]{
		SourceID:    el.id,
		MeasTime:    el.measTime,
		ReceiptTime: el.receiptTime,
		Data:        el.data,
	}
}

func sortByMeasTime[D any, ID comparable](data []*element[D, ID]) {
	slices.SortStableFunc(data, func(first, second *element[D, ID]) int {
		return first.measTime.Compare(second.measTime)
	})
}

// removeIndices drops the items at the given indices.
// The indices are sorted in place and must not contain duplicates.
func removeIndices[T any](items []T, indices []int) []T {
	if len(indices) == 0 {
		return items
	}

	slices.Sort(indices)

	out := make([]T, 0, len(items)-len(indices))
	next := 0
	for i, item := range items {
		if next < len(indices) && indices[next] == i {
			next++
			continue
		}

		out = append(out, item)
	}

	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

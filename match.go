package ritmo

import (
	"math"
	"slices"
	"time"
)

// matchEntry is the candidate of a single source within a matching map.
type matchEntry struct {
	idx int
	// tau is the absolute acquisition time difference to the reference, in
	// seconds
	tau float64
}

// runMatching forms a single tuple of nearest-in-time samples around the
// oldest ready sample of the reference stream, or nothing.
//
// It returns the queue indices of the tuple and the indices that must be
// deleted. The reference is deleted when no tuple is possible, not even
// anticipated: everything else is cleaned up automatically as the buffer time
// advances with the next successful tuple.
func (b *Buffer[D, ID]) runMatching(outputInds []int) (tupleInds, deleteInds []int) {
	slices.Sort(outputInds)

	referenceStream := b.params.Match.ReferenceStream

	// Find the reference sample (the oldest ready one) and the measurement
	// time of the next reference sample.
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
		// anticipate the next reference sample one period ahead
		if est, ok := b.estimators[referenceStream]; ok {
			nextRefMeasTime = refMeasTime.Add(est.Period())
		}
	}

	matchingMap := map[ID]matchEntry{
		referenceStream: {idx: refIdx, tau: 0},
	}

	// Remember the highest visited queue index: the queue is sorted, so the
	// anticipation scan below can start right after it.
	latestDataIdx := 0

	for _, idx := range outputInds {
		el := b.data[idx]
		latestDataIdx = idx

		// only the oldest reference may be considered
		if el.id == referenceStream {
			continue
		}

		currentDiff := absDuration(el.measTime.Sub(refMeasTime))
		nextDiff := absDuration(el.measTime.Sub(nextRefMeasTime))

		// Once a sample fits the next reference better, no later sample can
		// fit the current one.
		if nextDiff < currentDiff {
			break
		}

		// an entry is created at the first sight of a source
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

	// Check whether a sample fitting the current reference better than the
	// chosen one is still anticipated. Elements beyond latestDataIdx are not
	// available for output anyway, so placeholders and received samples are
	// treated alike: waiting would be required either way.
	foundBetterSample := false
	for _, el := range b.data[latestDataIdx+1:] {
		if el.id == referenceStream {
			continue
		}

		currentDiff := absDuration(el.measTime.Sub(refMeasTime))
		nextDiff := absDuration(el.measTime.Sub(nextRefMeasTime))

		if nextDiff < currentDiff {
			break
		}

		// creating new entries is explicitly intended here
		entry, ok := matchingMap[el.id]
		if !ok {
			entry = matchEntry{tau: math.Inf(1)}
			matchingMap[el.id] = entry
		}

		if currentDiff.Seconds() < entry.tau {
			foundBetterSample = true
			break
		}
	}

	// The tuple feasibility must be checked before deciding to wait: if not
	// every known source has at least a candidate, no tuple is possible and
	// the current reference must be deleted to let the matching progress.
	if len(matchingMap) != len(b.estimators) {
		return nil, []int{refIdx}
	}

	if foundBetterSample {
		// better to wait
		return nil, nil
	}

	tupleInds = make([]int, 0, len(matchingMap))
	for _, entry := range matchingMap {
		tupleInds = append(tupleInds, entry.idx)
	}
	// deliver the tuple in measurement time order
	slices.Sort(tupleInds)

	return tupleInds, nil
}

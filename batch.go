package ritmo

import "time"

// runBatching decides whether it is worth holding back the ready elements to
// deliver them together with an anticipated sample of the same scene.
//
// If a placeholder exists whose earliest estimated measurement time falls
// within the batch delta of the first ready element and whose latest
// reception time has not passed yet, the whole output is deferred.
func (b *Buffer[D, ID]) runBatching(outputInds []int, now time.Time) []int {
	batchStartTime := b.data[outputInds[0]].measTime

	for _, el := range b.data[outputInds[len(outputInds)-1]:] {
		if !el.isPlaceholder() {
			continue
		}

		if el.earliestEstimatedMeasTime.Sub(batchStartTime) < b.params.Batch.MaxDelta &&
			el.latestReceiptTime.After(now) {
			// prevent the output of the ready elements
			return nil
		}
	}

	return outputInds
}

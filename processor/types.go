// Package processor contains the stream processing stages built around the
// re-ordering buffers. The stages take samples from a previous stage through
// an input connector and produce samples for the next stage through an output
// connector.
package processor

import (
	"time"

	"github.com/FerroO2000/ritmo/connector"
)

// TimeStamped defines the common methods a sample must provide
// in order to be re-ordered.
type TimeStamped[ID comparable] interface {
	// GetSourceID returns the id of the source stream of the sample.
	GetSourceID() ID
	// GetMeasTime returns the measurement time of the sample.
	GetMeasTime() time.Time
	// GetReceiptTime returns the reception time of the sample.
	GetReceiptTime() time.Time
}

type sampleConn[T any] = connector.Connector[T]

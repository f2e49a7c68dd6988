// Package connector provides the connectors used for moving samples
// in and out of the stages.
package connector

import (
	"context"

	"github.com/FerroO2000/ritmo/internal/rb"
)

// ErrClosed is returned when the connector is closed.
var ErrClosed = rb.ErrClosed

// Connector represents the interface for a generic connector.
type Connector[T any] interface {
	Write(item T) error
	Read(ctx context.Context) (T, error)
	Close()
}

// RingBuffer is a lock-free spsc generic ring buffer.
type RingBuffer[T any] = rb.RingBuffer[T]

// NewRingBuffer returns a new lock-free spsc generic ring buffer.
func NewRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	return rb.NewRingBuffer[T](capacity)
}

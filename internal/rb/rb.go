// Package rb provides a lock-free spsc generic ring buffer.
package rb

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var maxSpins = runtime.NumCPU() * 32

// ErrClosed is returned when the buffer is closed.
var ErrClosed = errors.New("ring buffer: buffer is closed")

func roundToPowerOf2(value uint32) uint64 {
	parsed := uint64(max(value, 2))

	parsed--
	parsed |= parsed >> 1
	parsed |= parsed >> 2
	parsed |= parsed >> 4
	parsed |= parsed >> 8
	parsed |= parsed >> 16
	parsed++

	return parsed
}

// RingBuffer is a lock-free single producer/single consumer generic ring buffer.
// Writes and reads spin first and fall back to condition variables
// once the buffer stays full/empty.
type RingBuffer[T any] struct {
	head atomic.Uint64

	_ cpu.CacheLinePad

	tail atomic.Uint64

	_ cpu.CacheLinePad

	capacity uint64
	capMask  uint64
	buffer   []T

	_ cpu.CacheLinePad

	// isClosed states whether the buffer is closed.
	isClosed atomic.Bool

	// isFull states whether the buffer is full.
	isFull atomic.Bool

	// isEmpty states whether the buffer is empty.
	isEmpty atomic.Bool

	_ cpu.CacheLinePad

	// notEmpty and notFull are used to signal that the buffer is not empty or full
	notEmpty *sync.Cond
	notFull  *sync.Cond
	mux      *sync.Mutex
}

// NewRingBuffer returns a new ring buffer.
// The capacity is rounded up to the next power of 2.
func NewRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	mux := &sync.Mutex{}

	parsedCapacity := roundToPowerOf2(capacity)

	return &RingBuffer[T]{
		capacity: parsedCapacity,
		capMask:  parsedCapacity - 1,
		buffer:   make([]T, parsedCapacity),

		mux:      mux,
		notEmpty: sync.NewCond(mux),
		notFull:  sync.NewCond(mux),
	}
}

func (rb *RingBuffer[T]) push(item T) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()

	// Check if the buffer is full
	if head-tail >= rb.capacity {
		return false
	}

	rb.buffer[head&rb.capMask] = item
	rb.head.Add(1)

	return true
}

func (rb *RingBuffer[T]) pop() (T, bool) {
	var zero T

	head := rb.head.Load()
	tail := rb.tail.Load()

	// Check if the buffer is empty
	if head == tail {
		return zero, false
	}

	item := rb.buffer[tail&rb.capMask]
	rb.tail.Add(1)

	return item, true
}

func (rb *RingBuffer[T]) wait(ctx context.Context, cond *sync.Cond) error {
	done := make(chan struct{})

	go func() {
		defer close(done)
		cond.Wait()
	}()

	select {
	case <-done:
		return nil

	case <-ctx.Done():
		// Wake up the waiting goroutine
		cond.Broadcast()
		<-done
		return ctx.Err()
	}
}

// Write adds an item to the buffer.
// It blocks while the buffer is full and
// returns [ErrClosed] if the buffer is closed.
func (rb *RingBuffer[T]) Write(item T) error {
	if rb.isClosed.Load() {
		return ErrClosed
	}

	for range maxSpins {
		if rb.push(item) {
			goto cleanup
		}

		// The buffer is full, yield to other goroutines
		runtime.Gosched()
	}

	for !rb.push(item) {
		runtime.Gosched()

		if rb.push(item) {
			goto cleanup
		}

		// Buffer is still full, wait for space
		rb.mux.Lock()

		rb.isFull.Store(true)

		if rb.isClosed.Load() {
			rb.mux.Unlock()
			return ErrClosed
		}

		rb.notFull.Wait()

		rb.mux.Unlock()
	}

cleanup:
	// Check if the buffer is marked as empty,
	// if so, signal that the buffer is not empty
	if rb.isEmpty.CompareAndSwap(true, false) {
		rb.mux.Lock()
		rb.notEmpty.Broadcast()
		rb.mux.Unlock()
	}

	return nil
}

// Read removes and returns the oldest item of the buffer.
// It blocks while the buffer is empty, until the context expires
// or the buffer is closed.
func (rb *RingBuffer[T]) Read(ctx context.Context) (T, error) {
	var item T
	var popOk bool

	for range maxSpins {
		item, popOk = rb.pop()
		if popOk {
			goto cleanup
		}

		// The buffer is empty, yield to other goroutines
		runtime.Gosched()
	}

	for {
		item, popOk = rb.pop()
		if popOk {
			goto cleanup
		}

		runtime.Gosched()

		item, popOk = rb.pop()
		if popOk {
			goto cleanup
		}

		// Buffer is still empty, wait for data
		rb.mux.Lock()

		rb.isEmpty.Store(true)

		if rb.isClosed.Load() {
			rb.mux.Unlock()
			return item, ErrClosed
		}

		if err := rb.wait(ctx, rb.notEmpty); err != nil {
			rb.mux.Unlock()
			return item, err
		}

		rb.mux.Unlock()
	}

cleanup:
	// Check if the buffer is marked as full,
	// if so, signal that the buffer is not full
	if rb.isFull.CompareAndSwap(true, false) {
		rb.mux.Lock()
		rb.notFull.Broadcast()
		rb.mux.Unlock()
	}

	return item, nil
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() uint32 {
	tail := rb.tail.Load()
	head := rb.head.Load()

	if head < tail {
		return uint32(head + rb.capacity - tail)
	}

	return uint32(head - tail)
}

// Close closes the buffer.
func (rb *RingBuffer[T]) Close() {
	if !rb.isClosed.CompareAndSwap(false, true) {
		return
	}

	rb.mux.Lock()
	rb.notEmpty.Broadcast()
	rb.notFull.Broadcast()
	rb.mux.Unlock()
}

package rb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_RingBuffer(t *testing.T) {
	const (
		capacity = 128
		items    = 100_000
	)

	assert := assert.New(t)

	buf := NewRingBuffer[int](capacity)

	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := range items {
			assert.NoError(buf.Write(i))
		}
	}()

	for i := range items {
		item, err := buf.Read(t.Context())
		assert.NoError(err)
		assert.Equal(i, item)
	}

	wg.Wait()
	assert.Equal(uint32(0), buf.Len())
}

func Test_RingBuffer_readTimeout(t *testing.T) {
	assert := assert.New(t)

	buf := NewRingBuffer[int](8)

	ctx, cancelCtx := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancelCtx()

	_, err := buf.Read(ctx)
	assert.ErrorIs(err, context.DeadlineExceeded)
}

func Test_RingBuffer_close(t *testing.T) {
	assert := assert.New(t)

	buf := NewRingBuffer[int](8)
	assert.NoError(buf.Write(1))

	buf.Close()

	assert.ErrorIs(buf.Write(2), ErrClosed)

	// Items written before closing are still readable
	item, err := buf.Read(t.Context())
	assert.NoError(err)
	assert.Equal(1, item)

	_, err = buf.Read(t.Context())
	assert.ErrorIs(err, ErrClosed)
}

package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/ritmo"
	"github.com/FerroO2000/ritmo/connector"
	"github.com/FerroO2000/ritmo/internal"
	"github.com/FerroO2000/ritmo/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

//////////////
//  CONFIG  //
//////////////

// Default configuration values for the ordering stage.
const (
	DefaultOrderingConfigFlushTimeout = 100 * time.Millisecond
)

type bufferParams[ID comparable] = ritmo.Params[ID]

// OrderingConfig contains the configuration for the ordering stage.
type OrderingConfig[ID comparable] struct {
	*bufferParams[ID]

	// FlushTimeout is the idle time after which the stage advances its
	// query time to release samples held back by timed-out reservations.
	FlushTimeout time.Duration
}

// NewOrderingConfig returns the default configuration for the ordering stage.
func NewOrderingConfig[ID comparable]() *OrderingConfig[ID] {
	return &OrderingConfig[ID]{
		bufferParams: ritmo.NewParams[ID](),

		FlushTimeout: DefaultOrderingConfigFlushTimeout,
	}
}

// Validate checks the configuration.
func (c *OrderingConfig[ID]) Validate(ac *config.AnomalyCollector) {
	c.bufferParams.Validate(ac)

	config.CheckNotNegative(ac, "FlushTimeout", &c.FlushTimeout, DefaultOrderingConfigFlushTimeout)
	config.CheckNotZero(ac, "FlushTimeout", &c.FlushTimeout, DefaultOrderingConfigFlushTimeout)
}

/////////////
//  STAGE  //
/////////////

// OrderingStage is the stage that re-orders the samples of multiple sources
// into a single sequence with increasing measurement time stamps.
// It can only be run in single-threaded mode.
type OrderingStage[T TimeStamped[ID], ID comparable] struct {
	tel *internal.Telemetry

	cfg *OrderingConfig[ID]

	inputConnector  sampleConn[T]
	outputConnector sampleConn[T]

	buf *ritmo.Buffer[T, ID]

	lastReceiptTime time.Time

	// Metrics
	deliveredSamples atomic.Int64
	discardedSamples atomic.Int64
	heldBackSamples  atomic.Int64

	resets atomic.Int64

	deliveryDelay *internal.Histogram
}

// NewOrderingStage returns a new ordering stage.
func NewOrderingStage[T TimeStamped[ID], ID comparable](
	inConnector, outConnector sampleConn[T], cfg *OrderingConfig[ID],
) *OrderingStage[T, ID] {

	tel := internal.NewTelemetry("processor", "ordering")

	return &OrderingStage[T, ID]{
		tel: tel,

		cfg: cfg,

		inputConnector:  inConnector,
		outputConnector: outConnector,
	}
}

// Init initializes the stage.
func (s *OrderingStage[T, ID]) Init(_ context.Context) error {
	s.tel.LogInfo("initializing")

	config.NewValidator(s.tel).Validate(s.cfg)

	s.buf = ritmo.New[T](s.cfg.bufferParams)

	s.initMetrics()

	return nil
}

func (s *OrderingStage[T, ID]) initMetrics() {
	s.tel.NewCounter("delivered_samples", func() int64 { return s.deliveredSamples.Load() })
	s.tel.NewCounter("discarded_samples", func() int64 { return s.discardedSamples.Load() })
	s.tel.NewGauge("held_back_samples", func() int64 { return s.heldBackSamples.Load() })

	s.tel.NewCounter("resets", func() int64 { return s.resets.Load() })

	s.deliveryDelay = s.tel.NewHistogram("delivery_delay", metric.WithUnit("ms"))
}

// Run runs the ordering stage.
func (s *OrderingStage[T, ID]) Run(ctx context.Context) {
	s.tel.LogInfo("running")

	for {
		select {
		case <-ctx.Done():
			return

		default:
		}

		// Read the next sample with a timeout context in order to flush
		// samples held back by timed-out reservations
		deadlineCtx, cancelCtx := context.WithTimeout(ctx, s.cfg.FlushTimeout)
		smp, err := s.inputConnector.Read(deadlineCtx)
		cancelCtx()

		if err != nil {
			if errors.Is(err, connector.ErrClosed) {
				return
			}

			// This means the context is done. Advance the query time by the
			// idle deadline to let soft timeouts expire
			if !s.lastReceiptTime.IsZero() {
				s.lastReceiptTime = s.lastReceiptTime.Add(s.cfg.FlushTimeout)
				s.pop(ctx, s.lastReceiptTime)
			}

			continue
		}

		s.process(ctx, smp)
	}
}

func (s *OrderingStage[T, ID]) process(ctx context.Context, smp T) {
	ctx, span := s.tel.NewTrace(ctx, "re-order sample")
	defer span.End()

	receiptTime := smp.GetReceiptTime()

	res := s.buf.Push(smp.GetSourceID(), receiptTime, smp.GetMeasTime(), smp)
	span.SetAttributes(attribute.String("result", res.String()))

	if res == ritmo.PushReset {
		// the buffer dropped everything, including this sample
		s.resets.Add(1)
		s.tel.LogWarn("receipt time jumped into the past, buffer was reset")

		s.lastReceiptTime = time.Time{}
		return
	}

	if receiptTime.After(s.lastReceiptTime) {
		s.lastReceiptTime = receiptTime
	}

	s.pop(ctx, receiptTime)
}

func (s *OrderingStage[T, ID]) pop(ctx context.Context, now time.Time) {
	res := s.buf.Pop(now)

	for _, smp := range res.Delivered {
		s.deliveredSamples.Add(1)
		s.deliveryDelay.Record(ctx, now.Sub(smp.MeasTime).Milliseconds())

		if err := s.outputConnector.Write(smp.Data); err != nil {
			s.tel.LogError("failed to write into output connector", err)
		}
	}

	s.discardedSamples.Add(int64(len(res.Discarded)))

	s.heldBackSamples.Store(int64(s.buf.NumQueuedElements()))
}

// Close closes the stage.
func (s *OrderingStage[T, ID]) Close() {
	s.tel.LogInfo("closing")
	defer s.tel.LogInfo("closed")

	s.outputConnector.Close()
}

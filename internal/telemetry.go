// Package internal contains shared helpers used across the library.
package internal

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/FerroO2000/ritmo"

var (
	baseLogger *slog.Logger

	loggerMux sync.RWMutex
)

func newConsoleHandler() slog.Handler {
	out := colorable.NewColorable(os.Stderr)

	return tint.NewHandler(out, &tint.Options{
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

func getBaseLogger() *slog.Logger {
	loggerMux.RLock()
	logger := baseLogger
	loggerMux.RUnlock()

	if logger != nil {
		return logger
	}

	loggerMux.Lock()
	defer loggerMux.Unlock()

	if baseLogger == nil {
		baseLogger = slog.New(newConsoleHandler())
	}

	return baseLogger
}

// SetLogger replaces the library logger.
func SetLogger(logger *slog.Logger) {
	loggerMux.Lock()
	baseLogger = logger
	loggerMux.Unlock()
}

// UseOtelLogger routes the library logs through the OpenTelemetry
// log bridge instead of the console handler.
// The logs are emitted via the global logger provider.
func UseOtelLogger() {
	SetLogger(otelslog.NewLogger(scopeName))
}

// Telemetry bundles the logger, the meter, and the tracer of a single component.
type Telemetry struct {
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer
}

// NewTelemetry returns the telemetry for the component
// identified by the given group and name.
func NewTelemetry(group, name string) *Telemetry {
	scope := scopeName + "/" + group + "/" + name

	return &Telemetry{
		logger: getBaseLogger().With("group", group, "component", name),
		meter:  otel.Meter(scope),
		tracer: otel.Tracer(scope),
	}
}

// LogInfo logs a message at info level.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a message at warn level.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs a message and the given error at error level.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// NewCounter registers an observable counter backed by the given callback.
func (t *Telemetry) NewCounter(name string, callback func() int64) {
	counter, err := t.meter.Int64ObservableCounter(name)
	if err != nil {
		t.LogError("failed to create counter", err, "name", name)
		return
	}

	_, err = t.meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			observer.ObserveInt64(counter, callback())
			return nil
		},
		counter,
	)
	if err != nil {
		t.LogError("failed to register counter callback", err, "name", name)
	}
}

// NewGauge registers an observable gauge backed by the given callback.
func (t *Telemetry) NewGauge(name string, callback func() int64) {
	gauge, err := t.meter.Int64ObservableGauge(name)
	if err != nil {
		t.LogError("failed to create gauge", err, "name", name)
		return
	}

	_, err = t.meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			observer.ObserveInt64(gauge, callback())
			return nil
		},
		gauge,
	)
	if err != nil {
		t.LogError("failed to register gauge callback", err, "name", name)
	}
}

// Histogram records a distribution of int64 values.
type Histogram struct {
	histogram metric.Int64Histogram
}

// Record adds a value to the histogram.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h.histogram == nil {
		return
	}

	h.histogram.Record(ctx, value)
}

// NewHistogram returns a new histogram with the given name.
func (t *Telemetry) NewHistogram(name string, options ...metric.Int64HistogramOption) *Histogram {
	histogram, err := t.meter.Int64Histogram(name, options...)
	if err != nil {
		t.LogError("failed to create histogram", err, "name", name)
	}

	return &Histogram{
		histogram: histogram,
	}
}

// NewTrace starts a new trace span with the given name.
func (t *Telemetry) NewTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

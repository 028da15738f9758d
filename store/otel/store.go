// Package otel provides OpenTelemetry instrumentation for store.Store
// backends. It measures the storage round trips underneath the service-level
// spans recorded by the inbox package.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/inbox/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/inbox/store/otel"

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store wraps a store.Store with tracing and metrics.
type Store struct {
	backend store.Store
	opts    *options
	tracer  trace.Tracer

	loadLatency   metric.Float64Histogram
	loadCount     metric.Int64Counter
	loadErrors    metric.Int64Counter
	updateLatency metric.Float64Histogram
	updateCount   metric.Int64Counter
	updateErrors  metric.Int64Counter
	rowBytes      metric.Int64Histogram
}

// New wraps backend.
func New(backend store.Store, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "inbox",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if s.loadLatency, err = meter.Float64Histogram("store.load.duration",
		metric.WithDescription("Duration of row loads"), metric.WithUnit("s")); err != nil {
		return err
	}
	if s.loadCount, err = meter.Int64Counter("store.load.count",
		metric.WithDescription("Number of row loads")); err != nil {
		return err
	}
	if s.loadErrors, err = meter.Int64Counter("store.load.errors",
		metric.WithDescription("Number of failed row loads")); err != nil {
		return err
	}
	if s.updateLatency, err = meter.Float64Histogram("store.update.duration",
		metric.WithDescription("Duration of atomic row updates"), metric.WithUnit("s")); err != nil {
		return err
	}
	if s.updateCount, err = meter.Int64Counter("store.update.count",
		metric.WithDescription("Number of atomic row updates")); err != nil {
		return err
	}
	if s.updateErrors, err = meter.Int64Counter("store.update.errors",
		metric.WithDescription("Number of failed row updates, including rejected transitions")); err != nil {
		return err
	}
	if s.rowBytes, err = meter.Int64Histogram("store.row.bytes",
		metric.WithDescription("Total message bytes of rows read"), metric.WithUnit("By")); err != nil {
		return err
	}
	return nil
}

// Connect connects the backend.
func (s *Store) Connect(ctx context.Context) error {
	return s.backend.Connect(ctx)
}

// Close closes the backend.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// Load loads a row with tracing and metrics.
func (s *Store) Load(ctx context.Context, account store.Account) (*store.Row, error) {
	attrs := s.attrs(account)
	ctx, span := s.start(ctx, "store.load", attrs)

	start := time.Now()
	row, err := s.backend.Load(ctx, account)
	elapsed := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		ma := metric.WithAttributes(attrs...)
		s.loadLatency.Record(ctx, elapsed, ma)
		s.loadCount.Add(ctx, 1, ma)
		if err != nil {
			s.loadErrors.Add(ctx, 1, ma)
		} else {
			s.rowBytes.Record(ctx, rowSize(row), ma)
		}
	}
	if span != nil {
		if err == nil {
			span.SetAttributes(attribute.Int("row.entries", len(row.Entries)))
		}
		end(span, err)
	}
	return row, err
}

// Update runs an atomic update with tracing and metrics. Errors returned by
// fn pass through unchanged.
func (s *Store) Update(ctx context.Context, account store.Account, fn func(row *store.Row) error) error {
	attrs := s.attrs(account)
	ctx, span := s.start(ctx, "store.update", attrs)

	var fnErr error
	start := time.Now()
	err := s.backend.Update(ctx, account, func(row *store.Row) error {
		fnErr = fn(row)
		return fnErr
	})
	elapsed := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		ma := metric.WithAttributes(append(attrs, attribute.Bool("rejected", fnErr != nil && errors.Is(err, fnErr)))...)
		s.updateLatency.Record(ctx, elapsed, ma)
		s.updateCount.Add(ctx, 1, ma)
		if err != nil {
			s.updateErrors.Add(ctx, 1, ma)
		}
	}
	if span != nil {
		end(span, err)
	}
	return err
}

func (s *Store) attrs(account store.Account) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("account", account.String()),
		attribute.String("service.name", s.opts.serviceName),
	}
}

func (s *Store) start(ctx context.Context, name string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	if !s.opts.tracingEnabled || s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func rowSize(row *store.Row) int64 {
	var n int64
	for _, e := range row.Entries {
		n += int64(len(e.Message))
	}
	return n
}

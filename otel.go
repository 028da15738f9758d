package inbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/inbox"
)

// Operation names used for spans and metric prefixes.
const (
	opAdd     = "add"
	opDelete  = "delete"
	opMigrate = "migrate"
	opList    = "list"
)

// opInstruments holds the metric instruments for one operation.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the inbox service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool
	ops            map[string]*opInstruments
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp, opts.serviceName); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes duration, count and error instruments per operation.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider, serviceName string) error {
	meter := mp.Meter(instrumentationName,
		metric.WithInstrumentationAttributes(attribute.String("service.name", serviceName)))

	o.ops = make(map[string]*opInstruments, 4)
	for _, op := range []string{opAdd, opDelete, opMigrate, opList} {
		inst := &opInstruments{}
		var err error

		inst.latency, err = meter.Float64Histogram(
			fmt.Sprintf("inbox.%s.duration", op),
			metric.WithDescription(fmt.Sprintf("Duration of %s operations", op)),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}

		inst.count, err = meter.Int64Counter(
			fmt.Sprintf("inbox.%s.count", op),
			metric.WithDescription(fmt.Sprintf("Number of %s operations", op)),
		)
		if err != nil {
			return err
		}

		inst.errors, err = meter.Int64Counter(
			fmt.Sprintf("inbox.%s.errors", op),
			metric.WithDescription(fmt.Sprintf("Number of %s errors", op)),
		)
		if err != nil {
			return err
		}

		o.ops[op] = inst
	}
	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err when non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records one operation's metrics.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}

	opt := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, duration.Seconds(), opt)
	inst.count.Add(ctx, 1, opt)
	if err != nil {
		inst.errors.Add(ctx, 1, opt)
	}
}

// recordAdd records add operation metrics.
func (o *otelInstrumentation) recordAdd(ctx context.Context, duration time.Duration, size int, err error) {
	o.record(ctx, opAdd, duration, err, attribute.Int("message_size", size))
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, idCount int, err error) {
	o.record(ctx, opDelete, duration, err, attribute.Int("id_count", idCount))
}

// recordMigrate records migrate operation metrics.
func (o *otelInstrumentation) recordMigrate(ctx context.Context, duration time.Duration, entryCount int, err error) {
	o.record(ctx, opMigrate, duration, err, attribute.Int("entry_count", entryCount))
}

// recordList records list operation metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, resultCount int, err error) {
	o.record(ctx, opList, duration, err, attribute.Int("result_count", resultCount))
}

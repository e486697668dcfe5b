package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/glimte/rabbit-producer"

// instrumentation holds OpenTelemetry instruments. Disabled signals use noop
// providers so call sites never branch.
type instrumentation struct {
	tracer trace.Tracer

	publishCount  metric.Int64Counter
	publishErrors metric.Int64Counter
	rpcDuration   metric.Float64Histogram
	rpcTimeouts   metric.Int64Counter
	rpcErrors     metric.Int64Counter
	scheduleCount metric.Int64Counter
}

func newInstrumentation(cfg *producerConfig) (*instrumentation, error) {
	var tp trace.TracerProvider = tracenoop.NewTracerProvider()
	if cfg.tracingEnabled {
		tp = cfg.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
	}

	var mp metric.MeterProvider = metricnoop.NewMeterProvider()
	if cfg.metricsEnabled {
		mp = cfg.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
	}

	o := &instrumentation{tracer: tp.Tracer(instrumentationName)}
	meter := mp.Meter(instrumentationName)

	var err error
	if o.publishCount, err = meter.Int64Counter("producer.publish.count",
		metric.WithDescription("Number of messages published")); err != nil {
		return nil, err
	}
	if o.publishErrors, err = meter.Int64Counter("producer.publish.errors",
		metric.WithDescription("Number of failed publishes")); err != nil {
		return nil, err
	}
	if o.rpcDuration, err = meter.Float64Histogram("producer.rpc.duration",
		metric.WithDescription("Time spent waiting for RPC replies"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if o.rpcTimeouts, err = meter.Int64Counter("producer.rpc.timeouts",
		metric.WithDescription("Number of RPC waits that ran out of time")); err != nil {
		return nil, err
	}
	if o.rpcErrors, err = meter.Int64Counter("producer.rpc.errors",
		metric.WithDescription("Number of RPC waits that failed for other reasons")); err != nil {
		return nil, err
	}
	if o.scheduleCount, err = meter.Int64Counter("producer.schedule.count",
		metric.WithDescription("Number of delayed deliveries scheduled")); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *instrumentation) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...))
}

func (o *instrumentation) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *instrumentation) recordPublish(ctx context.Context, pattern string, err error) {
	attrs := metric.WithAttributes(attribute.String("pattern", pattern))
	if err != nil {
		o.publishErrors.Add(ctx, 1, attrs)
		return
	}
	o.publishCount.Add(ctx, 1, attrs)
}

func (o *instrumentation) recordRPC(ctx context.Context, elapsed time.Duration, err error) {
	o.rpcDuration.Record(ctx, elapsed.Seconds())
	switch {
	case err == nil:
	case errors.Is(err, contracts.ErrTimeout):
		o.rpcTimeouts.Add(ctx, 1)
	default:
		o.rpcErrors.Add(ctx, 1)
	}
}

func (o *instrumentation) recordSchedule(ctx context.Context, err error) {
	if err != nil {
		o.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern", "delayed")))
		return
	}
	o.scheduleCount.Add(ctx, 1)
}

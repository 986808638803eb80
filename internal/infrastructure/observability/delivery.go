package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/janhq/catalog-api/internal/domain/activity"
)

// Delivery outcomes recorded on the delivery metrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// DeliveryInstrumenter traces and measures the hand-off of activity events
// to their sink.
type DeliveryInstrumenter struct {
	tracer     trace.Tracer
	inFlight   metric.Int64UpDownCounter
	duration   metric.Float64Histogram
	lag        metric.Float64Histogram
	deliveries metric.Int64Counter
	now        func() time.Time
}

// NewDeliveryInstrumenter registers the activity delivery instruments on meter.
func NewDeliveryInstrumenter(tracer trace.Tracer, meter metric.Meter) (*DeliveryInstrumenter, error) {
	d := &DeliveryInstrumenter{tracer: tracer, now: time.Now}

	var err error
	if d.inFlight, err = meter.Int64UpDownCounter(
		"catalog_api_activity_deliveries_in_flight",
		metric.WithDescription("Activity events currently being handed to the sink"),
	); err != nil {
		return nil, err
	}
	if d.duration, err = meter.Float64Histogram(
		"catalog_api_activity_delivery_duration_seconds",
		metric.WithDescription("Time spent handing one activity event to the sink"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if d.lag, err = meter.Float64Histogram(
		"catalog_api_activity_delivery_lag_seconds",
		metric.WithDescription("Time between a patch transition and its activity delivery"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if d.deliveries, err = meter.Int64Counter(
		"catalog_api_activity_deliveries_total",
		metric.WithDescription("Activity events handed to the sink by outcome"),
	); err != nil {
		return nil, err
	}
	return d, nil
}

// Deliver runs notify for event inside a consumer span and records its
// outcome. The error of notify is returned unchanged.
func (d *DeliveryInstrumenter) Deliver(ctx context.Context, event activity.Event, notify func(context.Context) error) error {
	kind := attribute.String("patch.kind", event.PatchKind)
	eventType := attribute.String("activity.event", string(event.Type))

	d.inFlight.Add(ctx, 1, metric.WithAttributes(eventType))
	defer d.inFlight.Add(ctx, -1, metric.WithAttributes(eventType))

	ctx, span := d.tracer.Start(ctx, "activity.deliver "+string(event.Type),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			eventType,
			kind,
			attribute.String("patch.id", event.PatchID),
			attribute.String("patch.target", event.TargetPath),
			attribute.String("patch.status", event.Status),
		),
	)
	defer span.End()

	start := d.now()
	if !event.OccurredAt.IsZero() {
		d.lag.Record(ctx, start.Sub(event.OccurredAt).Seconds(), metric.WithAttributes(eventType))
	}

	err := notify(ctx)

	outcome := DeliveryOutcome(ctx, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("activity.outcome", outcome))

	attrs := metric.WithAttributes(eventType, kind, attribute.String("outcome", outcome))
	d.duration.Record(ctx, d.now().Sub(start).Seconds(), attrs)
	d.deliveries.Add(ctx, 1, attrs)
	return err
}

// DeliveryOutcome classifies the result of one delivery attempt.
func DeliveryOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeDelivered
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeTimedOut
	default:
		return OutcomeFailed
	}
}

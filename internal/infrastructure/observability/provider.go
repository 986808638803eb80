package observability

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationScope names the tracer and meter of the catalog service.
const instrumentationScope = "github.com/janhq/catalog-api"

// Provider bundles the telemetry handles the catalog service needs: a tracer
// and meter (no-op unless exported), the PII sanitizer applied to actor refs
// and notes, and the activity delivery instrumenter.
type Provider struct {
	Tracer    trace.Tracer
	Meter     metric.Meter
	Sanitizer *Sanitizer
	Delivery  *DeliveryInstrumenter

	shutdown []func(context.Context) error
}

// Init sets up telemetry from cfg. With both exporters disabled it returns
// handles backed by the global no-op providers and never dials a collector.
func Init(ctx context.Context, cfg Config) (_ *Provider, err error) {
	p := &Provider{
		Tracer:    otel.Tracer(instrumentationScope),
		Meter:     otel.Meter(instrumentationScope),
		Sanitizer: NewSanitizer(PIILevel(cfg.PIILevel), cfg.ServiceName),
	}
	defer func() {
		if err != nil {
			_ = p.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if cfg.TracingEnabled || cfg.MetricsEnabled {
		target, err := parseCollector(cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		res, err := catalogResource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.TracingEnabled {
			if err := p.exportTraces(ctx, cfg, target, res); err != nil {
				return nil, fmt.Errorf("trace export: %w", err)
			}
		}
		if cfg.MetricsEnabled {
			if err := p.exportMetrics(ctx, cfg, target, res); err != nil {
				return nil, fmt.Errorf("metric export: %w", err)
			}
		}
	}

	if p.Delivery, err = NewDeliveryInstrumenter(p.Tracer, p.Meter); err != nil {
		return nil, fmt.Errorf("activity delivery instruments: %w", err)
	}
	return p, nil
}

// Shutdown flushes and stops every exporter, reporting all failures.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

func (p *Provider) exportTraces(ctx context.Context, cfg Config, target collector, res *resource.Resource) error {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.host),
		otlptracehttp.WithHeaders(cfg.OTLPHeaders),
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.TraceBatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	p.shutdown = append(p.shutdown, tp.Shutdown)
	p.Tracer = tp.Tracer(instrumentationScope)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) exportMetrics(ctx context.Context, cfg Config, target collector, res *resource.Resource) error {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(target.host),
		otlpmetrichttp.WithHeaders(cfg.OTLPHeaders),
	}
	if target.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	p.shutdown = append(p.shutdown, mp.Shutdown)
	p.Meter = mp.Meter(instrumentationScope)

	otel.SetMeterProvider(mp)
	return nil
}

func catalogResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithAttributes(cfg.ResourceAttrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// samplerFor follows the parent decision and samples new roots at rate.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

type collector struct {
	host     string
	insecure bool
}

// parseCollector accepts either host:port, exported over plain HTTP, or a
// URL whose scheme picks between HTTP and HTTPS.
func parseCollector(endpoint string) (collector, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return collector{}, errors.New("OTLP endpoint is required when telemetry export is enabled")
	}
	if !strings.Contains(endpoint, "://") {
		return collector{host: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return collector{}, fmt.Errorf("parse OTLP endpoint: %w", err)
	}
	if u.Host == "" {
		return collector{}, fmt.Errorf("OTLP endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "http":
		return collector{host: u.Host, insecure: true}, nil
	case "https":
		return collector{host: u.Host}, nil
	default:
		return collector{}, fmt.Errorf("OTLP endpoint scheme %q is not http or https", u.Scheme)
	}
}

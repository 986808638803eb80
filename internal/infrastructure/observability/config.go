package observability

import (
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/janhq/catalog-api/internal/config"
)

// Config wraps the telemetry settings of the service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TracingEnabled bool
	MetricsEnabled bool
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	SamplingRate   float64 // 0.0 - 1.0
	PIILevel       string  // none|hashed|full

	TraceBatchTimeout time.Duration
	MetricInterval    time.Duration
	ResourceAttrs     []attribute.KeyValue
}

// FromAppConfig maps the environment config onto telemetry settings.
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		ServiceName:       cfg.ServiceName,
		ServiceVersion:    cfg.ServiceVersion,
		Environment:       cfg.Environment,
		TracingEnabled:    cfg.EnableTracing,
		MetricsEnabled:    cfg.EnableOTelMetrics,
		OTLPEndpoint:      cfg.OTLPEndpoint,
		SamplingRate:      cfg.OTelSamplingRate,
		PIILevel:          cfg.PIILevel,
		TraceBatchTimeout: 5 * time.Second,
		MetricInterval:    15 * time.Second,
	}
}

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_DisabledUsesNoopProviders(t *testing.T) {
	provider, err := Init(context.Background(), Config{
		ServiceName: "catalog-api",
		PIILevel:    "hashed",
	})
	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.NotNil(t, provider.Delivery)
	assert.Empty(t, provider.shutdown)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestInit_RejectsBadCollector(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"missing", ""},
		{"unsupported scheme", "grpc://collector:4317"},
		{"no host", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), Config{
				ServiceName:    "catalog-api",
				TracingEnabled: true,
				OTLPEndpoint:   tt.endpoint,
			})
			assert.Error(t, err)
		})
	}
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint string
		want     collector
	}{
		{"otel-collector:4318", collector{host: "otel-collector:4318", insecure: true}},
		{" http://localhost:4318 ", collector{host: "localhost:4318", insecure: true}},
		{"https://otlp.example.com/v1", collector{host: "otlp.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := parseCollector(tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(), samplerFor(1).Description())
	assert.Equal(t, sdktrace.ParentBased(sdktrace.NeverSample()).Description(), samplerFor(0).Description())
	assert.Equal(t, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(), samplerFor(0.25).Description())
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/catalog-api/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "catalog-api", cfg.ServiceName)
	assert.Equal(t, ":8084", cfg.Addr())
	assert.Equal(t, 4, cfg.ResolverMaxDepth)
	assert.Equal(t, []string{"votes", "views", "favourites", "updatedAt"}, cfg.DiffIgnoredKeys)
	assert.Equal(t, 2160*time.Hour, cfg.PatchRetention)
	assert.Equal(t, 5*time.Second, cfg.DBConnectTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowQuery)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, "hashed", cfg.PIILevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DIFF_IGNORED_KEYS", "votes,rank")
	t.Setenv("TELEMETRY_PII_LEVEL", "FULL")
	t.Setenv("DB_USE_TRANSACTIONS", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr())
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, []string{"votes", "rank"}, cfg.DiffIgnoredKeys)
	assert.Equal(t, "full", cfg.PIILevel)
	assert.True(t, cfg.DBTransactional)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "auth without issuer",
			env:     map[string]string{"AUTH_ENABLED": "true"},
			wantErr: "AUTH_ISSUER",
		},
		{
			name:    "auth without audience",
			env:     map[string]string{"AUTH_ENABLED": "true", "AUTH_ISSUER": "https://issuer"},
			wantErr: "AUTH_AUDIENCE",
		},
		{
			name:    "auth without jwks",
			env:     map[string]string{"AUTH_ENABLED": "true", "AUTH_ISSUER": "https://issuer", "AUTH_AUDIENCE": "catalog"},
			wantErr: "AUTH_JWKS_URL",
		},
		{
			name:    "sampling rate out of range",
			env:     map[string]string{"OTEL_SAMPLING_RATE": "1.5"},
			wantErr: "OTEL_SAMPLING_RATE",
		},
		{
			name:    "unknown pii level",
			env:     map[string]string{"TELEMETRY_PII_LEVEL": "partial"},
			wantErr: "TELEMETRY_PII_LEVEL",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"PATCH_RETENTION": "soon"},
			wantErr: "parse env config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

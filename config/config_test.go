package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "HTTP_PORT", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "TIMEZONE",
		"COMMISSION_RATE", "TAX_RATE", "GATEWAY_LATENCY", "GATEWAY_TIMEOUT", "GATEWAY_PREFIX",
		"BREAKER_MAX_FAILURES", "BREAKER_OPEN_TIMEOUT", "RECONCILE_INTERVAL", "RECONCILE_GRACE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, "0.05", cfg.CommissionRate.String())
	assert.Equal(t, "0.18", cfg.TaxRate.String())
	assert.Equal(t, 500*time.Millisecond, cfg.GatewayLatency)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "TRF", cfg.GatewayPrefix)
	assert.Equal(t, uint32(5), cfg.BreakerMaxFailures)
	assert.Equal(t, time.Minute, cfg.ReconcileGrace)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/advances")
	t.Setenv("TIMEZONE", "America/Mexico_City")
	t.Setenv("COMMISSION_RATE", "0.03")
	t.Setenv("GATEWAY_TIMEOUT", "2s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "America/Mexico_City", cfg.Location.String())
	assert.Equal(t, "0.03", cfg.CommissionRate.String())
	assert.Equal(t, 2*time.Second, cfg.GatewayTimeout)
	assert.False(t, cfg.IsDevelopment())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "HTTP_PORT", "http"},
		{"unknown driver", "STORE_DRIVER", "mongo"},
		{"bad timezone", "TIMEZONE", "Mars/Olympus"},
		{"bad rate", "TAX_RATE", "eighteen"},
		{"bad duration", "GATEWAY_LATENCY", "soon"},
		{"negative duration", "RECONCILE_GRACE", "-1s"},
		{"zero breaker failures", "BREAKER_MAX_FAILURES", "0"},
		{"unbounded gateway timeout", "GATEWAY_TIMEOUT", "0s"},
		{"zero reconcile grace", "RECONCILE_GRACE", "0s"},
		{"gateway timeout longer than grace", "GATEWAY_TIMEOUT", "2m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "")
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidate_GraceMustCoverProcessingTime(t *testing.T) {
	// GIVEN: A 5s gateway timeout, so a request can stay in flight for 25s
	// WHEN: Validating graces on either side of that bound
	// THEN: Only a grace strictly longer than the bound is accepted

	cfg := Config{StoreDriver: DriverSQLite, HTTPPort: 8080, BreakerMaxFailures: 5, GatewayTimeout: 5 * time.Second}

	cfg.ReconcileGrace = 25 * time.Second
	assert.ErrorContains(t, cfg.Validate(), "RECONCILE_GRACE")

	cfg.ReconcileGrace = 26 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_PostgresRequiresURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestNewLogger(t *testing.T) {
	cfg := Config{Env: "production"}
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultValues(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8443", cfg.GRPC.Addr)
	assert.False(t, cfg.GRPC.TLS())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 5, cfg.Policy.MaxFailedAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Policy.LockoutDuration)
	assert.Equal(t, 10*time.Second, cfg.Session.TickInterval)
	assert.Equal(t, 1024, cfg.Audit.QueueSize)
	assert.Equal(t, uint32(65536), cfg.Argon.MemKiB)
	assert.Empty(t, cfg.JWT.Secret)
}

func TestNewConfig_CustomValues(t *testing.T) {
	t.Setenv("GRPC_ADDR", ":9000")
	t.Setenv("GRPC_TLS_CERT", "c.pem")
	t.Setenv("GRPC_TLS_KEY", "k.pem")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "postgres://localhost/pinlock")
	t.Setenv("POLICY_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("POLICY_LOCKOUT_DURATION", "1h")
	t.Setenv("AUDIT_QUEUE_SIZE", "16")
	t.Setenv("ARGON_THREADS", "4")
	t.Setenv("JWT_SECRET", "s3cr3t")

	cfg, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.GRPC.Addr)
	assert.True(t, cfg.GRPC.TLS())
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Policy.MaxFailedAttempts)
	assert.Equal(t, time.Hour, cfg.Policy.LockoutDuration)
	assert.Equal(t, 16, cfg.Audit.QueueSize)
	assert.Equal(t, uint8(4), cfg.Argon.Threads)
}

func TestNewConfig_InvalidValue(t *testing.T) {
	t.Setenv("POLICY_MAX_FAILED_ATTEMPTS", "many")
	_, err := NewConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorContains(t, err, "JWT_SECRET")

	cfg.JWT.Secret = "k"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "mysql"
	cfg.Policy.MaxFailedAttempts = 0
	cfg.GRPC.CertFile = "only-cert.pem"
	err = cfg.Validate()
	require.ErrorContains(t, err, "STORE_DRIVER")
	require.ErrorContains(t, err, "POLICY_MAX_FAILED_ATTEMPTS")
	require.ErrorContains(t, err, "GRPC_TLS_KEY")
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "dev", cfg.Server.Environment)

	assert.Equal(t, "nats://localhost:4222", cfg.Nats.URLs)
	assert.Equal(t, "wasmcloud.secrets.>", cfg.Nats.CentralServiceSubject)
	assert.Equal(t, 30*time.Second, cfg.Nats.RequestTimeout)

	// Subject tokens are a wire contract with component hosts.
	assert.Equal(t, "wasmcloud.secrets", cfg.Secrets.Prefix)
	assert.Equal(t, "v1alpha1", cfg.Secrets.APIVersion)
	assert.Equal(t, "pipestack", cfg.Secrets.Name)
	assert.True(t, cfg.Secrets.EnforceExpiry)
	assert.Equal(t, 300*time.Second, cfg.Secrets.ClockSkew)

	assert.Equal(t, "secret", cfg.SecretStore.Mount)
	assert.Equal(t, 3, cfg.Deploy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Deploy.RetryDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PIPESTACK_SERVER_PORT", "8080")
	t.Setenv("PIPESTACK_NATS_OPERATOR_SEED", "SOOPERATORSEED")
	t.Setenv("PIPESTACK_SECRETSTORE_TOKEN", "root-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "SOOPERATORSEED", cfg.Nats.OperatorSeed)
	assert.Equal(t, "root-token", cfg.SecretStore.Token)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "pipestack",
		Password: "hunter2",
		Database: "pipestack",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=pipestack password=hunter2 dbname=pipestack sslmode=require",
		c.DSN(),
	)
}

func TestRedisAddr(t *testing.T) {
	c := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", c.Addr())
}

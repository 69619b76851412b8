package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "staging")

	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.Call.SetupTimeout)
	assert.Equal(t, 10*time.Second, cfg.Call.FallbackTimeout)
	assert.Equal(t, []string{"websocket", "polling"}, cfg.Client.Transports)
	assert.Equal(t, 5, cfg.Client.ReconnectionAttempts)
	assert.Equal(t, "/health", cfg.Client.ProbePath)
	assert.Equal(t, DefaultSTUNServers, cfg.WebRTC.STUNServers)
	assert.Equal(t, "mongo", cfg.Database.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("CHAT_TRANSPORTS", "polling, websocket")
	t.Setenv("CALL_FALLBACK_TIMEOUT", "250ms")
	t.Setenv("CHAT_RECONNECTION_ATTEMPTS", "not-a-number")

	cfg := Load()

	assert.Equal(t, []string{"polling", "websocket"}, cfg.Client.Transports)
	assert.Equal(t, 250*time.Millisecond, cfg.Call.FallbackTimeout)
	assert.Equal(t, 5, cfg.Client.ReconnectionAttempts)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg := Load()

	require.Error(t, cfg.Validate(), "missing secret")

	cfg.Security.JWT.Secret = "s3cret"
	require.NoError(t, cfg.Validate())

	cfg.Client.Transports = []string{"carrier-pigeon"}
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfigsMatchEnvDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	cfg := Load()

	assert.Equal(t, cfg.Client, DefaultClientConfig())
	assert.Equal(t, cfg.Call, DefaultCallConfig())
}

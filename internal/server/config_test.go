package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Sample(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.toml")
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ollama/nomic-embed-text", cfg.Models.Embedder)
	assert.Equal(t, "ollama/llama3.1:8b", cfg.Models.ModelForTask("finance"))
	assert.Len(t, cfg.Kafka.Consumers, 2)
	assert.Equal(t, 4, cfg.Scheduler.Limits["agent_workers"])

	// the sample config must carry everything the binary needs to boot
	assert.Equal(t, "24h", cfg.Log.RotationTime)
	assert.Equal(t, "168h", cfg.Log.MaxAge)
	assert.NotEmpty(t, cfg.Log.DefaultPattern)
	assert.Equal(t, "100ms", cfg.Scheduler.PollInterval)
	assert.Equal(t, "2s", cfg.Fabric.EmbedInterval)
	assert.Equal(t, "24h", cfg.Auth.TokenTTL)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig("does-not-exist.toml")
	assert.Error(t, err)
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := ServerConfig{Port: 8080}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, "0.0.0.0", cfg.Host)

	bad := ServerConfig{Mode: "grpc", Port: 8080}
	assert.ErrorContains(t, bad.Validate(), "invalid mode")

	noPort := ServerConfig{Mode: "http"}
	assert.ErrorContains(t, noPort.Validate(), "port")
}

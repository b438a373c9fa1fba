package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "br", cfg.CountryFilter)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 3*time.Second, cfg.Timing.ConfirmToActive)
	assert.Equal(t, 5*time.Second, cfg.Timing.AcceptToActive)
	assert.Equal(t, "ride-positions", cfg.KafkaTopic)
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BASE_URL", "https://vium.example.com/")
	t.Setenv("PROVIDER_TIMEOUT", "4s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("RIDE_CONFIRM_TO_ACTIVE", "250ms")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://vium.example.com", cfg.BaseURL)
	assert.Equal(t, 4*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.ConfirmToActive)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigAggregatesErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PROVIDER_TIMEOUT", "soon")
	t.Setenv("DISCOVERY_TOP_N", "0")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_TIMEOUT")
	assert.Contains(t, err.Error(), "DISCOVERY_TOP_N")
}

func TestLoadServerConfigYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := []byte("http_addr: \":9090\"\nosrm_url: http://osrm.local:5000\ntiming:\n  accept_to_active: 1s\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", "")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "http://osrm.local:5000", cfg.OSRMURL)
	assert.Equal(t, time.Second, cfg.Timing.AcceptToActive)
	// untouched keys keep defaults
	assert.Equal(t, 3*time.Second, cfg.Timing.ConfirmToActive)
}

func TestLoadServerConfigRejectsBadURL(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OSRM_URL", "not a url")
	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OSRMURL")
}

package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyhawk.toml")
	content := `
url = "ws://proxyhawk.internal:8888/ws"
regions = ["eu-west", "asia"]
test_mode = "detailed"
timeout = 12.5
reconnect_delay = 1.0
max_retries = 5
`
	err := os.WriteFile(path, []byte(content), 0644)
	assert.Equal(t, nil, err)

	config, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://proxyhawk.internal:8888/ws", config.Url)
	assert.Equal(t, []string{"eu-west", "asia"}, config.Regions)
	assert.Equal(t, TestModeDetailed, config.TestMode)
	assert.Equal(t, 12500*time.Millisecond, config.RequestTimeout)
	assert.Equal(t, time.Second, config.ReconnectDelay)
	assert.Equal(t, 5, config.MaxRetries)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyhawk.toml")
	err := os.WriteFile(path, []byte(""), 0644)
	assert.Equal(t, nil, err)

	config, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, DefaultConfig().Url, config.Url)
	assert.Equal(t, DefaultConfig().Regions, config.Regions)
	assert.Equal(t, DefaultConfig().RequestTimeout, config.RequestTimeout)
}

func TestLoadConfigRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyhawk.toml")
	err := os.WriteFile(path, []byte(`test_mode = "thorough"`), 0644)
	assert.Equal(t, nil, err)

	_, err = LoadConfig(path)
	assert.NotEqual(t, nil, err)
}

func TestParseTestMode(t *testing.T) {
	for _, mode := range []string{"basic", "detailed", "comprehensive"} {
		parsed, err := ParseTestMode(mode)
		assert.Equal(t, nil, err)
		assert.Equal(t, TestMode(mode), parsed)
	}

	_, err := ParseTestMode("thorough")
	assert.NotEqual(t, nil, err)
}

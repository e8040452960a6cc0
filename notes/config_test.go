package notes

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadClientSettings(t *testing.T) {
	settings, err := LoadClientSettings()
	assert.Equal(t, nil, err)
	assert.Equal(t, "http://localhost:8000", settings.ApiUrl)
	assert.Equal(t, "ws://localhost:3001", settings.WsUrl)
	assert.Equal(t, 30*time.Second, settings.ApiTimeout)
	assert.Equal(t, 5, settings.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, settings.ReconnectTimeout)
}

func TestLoadClientSettingsFromEnv(t *testing.T) {
	t.Setenv("NOTES_API_URL", "https://api.example.com")
	t.Setenv("NOTES_WS_URL", "wss://ws.example.com")
	t.Setenv("NOTES_API_TIMEOUT", "5s")
	t.Setenv("NOTES_WS_MAX_RECONNECT_ATTEMPTS", "2")

	settings, err := LoadClientSettings()
	assert.Equal(t, nil, err)
	assert.Equal(t, "https://api.example.com", settings.ApiUrl)
	assert.Equal(t, "wss://ws.example.com", settings.WsUrl)
	assert.Equal(t, 5*time.Second, settings.ApiTimeout)
	assert.Equal(t, 2, settings.MaxReconnectAttempts)
}

package notes

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientSettings is the environment-derived configuration for the client.
// defaults match the platform dev setup.
type ClientSettings struct {
	ApiUrl               string        `env:"NOTES_API_URL" envDefault:"http://localhost:8000"`
	WsUrl                string        `env:"NOTES_WS_URL" envDefault:"ws://localhost:3001"`
	ApiTimeout           time.Duration `env:"NOTES_API_TIMEOUT" envDefault:"30s"`
	MaxReconnectAttempts int           `env:"NOTES_WS_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectTimeout     time.Duration `env:"NOTES_WS_RECONNECT_TIMEOUT" envDefault:"3s"`
}

func LoadClientSettings() (*ClientSettings, error) {
	settings := &ClientSettings{}
	if err := env.Parse(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

package relayserver

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Address string `envconfig:"ADDRESS" default:"0.0.0.0:8008"`
	// MetricsAddress serves /metrics when not empty.
	MetricsAddress string `envconfig:"METRICS_ADDRESS"`

	// per connection limit for chat and gizmo frames
	MessagesPerSecond float64 `envconfig:"MESSAGES_PER_SECOND" default:"30"`
	Burst             int     `envconfig:"BURST" default:"60"`
	// SendQueueSize frames may wait for a slow client before frames to it
	// are dropped.
	SendQueueSize int `envconfig:"SEND_QUEUE_SIZE" default:"256"`
}

func DefaultConfig() Config {
	return Config{
		Address:           "0.0.0.0:8008",
		MessagesPerSecond: 30,
		Burst:             60,
		SendQueueSize:     256,
	}
}

func LoadConfig(prefix string) (Config, error) {
	config := Config{}
	if err := envconfig.Process(prefix, &config); err != nil {
		return Config{}, fmt.Errorf("could not process config: %w", err)
	}
	return config, nil
}

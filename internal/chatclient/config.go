package chatclient

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is owned by whoever embeds the client (editor settings, env, flags).
// It is read at Initialize time.
type Config struct {
	// ServerAddress is a literal ip or a hostname; the first resolved address
	// wins.
	ServerAddress string `envconfig:"SERVER_ADDRESS" default:"127.0.0.1"`
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8008"`
	Channel       string `envconfig:"CHANNEL" default:"default"`
	Username      string `envconfig:"USERNAME"`
	SceneName     string `envconfig:"SCENE_NAME" default:"Untitled"`

	// LocalAddress empty means unspecified. LocalPort 0 lets the os pick and
	// disables the bind retry.
	LocalAddress string `envconfig:"LOCAL_ADDRESS"`
	LocalPort    int    `envconfig:"LOCAL_PORT" default:"0"`
	// BindAttempts is the size of the contiguous port range tried starting
	// at LocalPort.
	BindAttempts int `envconfig:"BIND_ATTEMPTS" default:"16"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"16ms"`
	ReadPollTimeout time.Duration `envconfig:"READ_POLL_TIMEOUT" default:"1ms"`
	// WriteTimeout 0 leaves writes to the os defaults.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"0"`

	ChatHistoryLimit int           `envconfig:"CHAT_HISTORY_LIMIT" default:"256"`
	GizmoSendRate    time.Duration `envconfig:"GIZMO_SEND_RATE" default:"100ms"`
}

func DefaultConfig() Config {
	return Config{
		ServerAddress:    "127.0.0.1",
		ServerPort:       8008,
		Channel:          "default",
		SceneName:        "Untitled",
		BindAttempts:     16,
		PollInterval:     16 * time.Millisecond,
		ReadPollTimeout:  time.Millisecond,
		ChatHistoryLimit: 256,
		GizmoSendRate:    100 * time.Millisecond,
	}
}

// LoadConfig reads the config from the environment, e.g. SCENECHAT_SERVER_PORT
// for prefix "scenechat".
func LoadConfig(prefix string) (Config, error) {
	config := Config{}
	if err := envconfig.Process(prefix, &config); err != nil {
		return Config{}, fmt.Errorf("could not process config: %w", err)
	}
	return config, nil
}

// withDefaults fills the knobs that would make the I/O loop spin or stall.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BindAttempts <= 0 {
		c.BindAttempts = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ReadPollTimeout <= 0 {
		c.ReadPollTimeout = defaults.ReadPollTimeout
	}
	if c.GizmoSendRate <= 0 {
		c.GizmoSendRate = defaults.GizmoSendRate
	}
	return c
}

func (c Config) serverHostPort() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

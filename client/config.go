package client

import (
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Url is the server websocket endpoint.
	Url string
	// Regions are the default test regions, sent to the server at
	// connect and used when a request does not name its own.
	Regions  []string
	TestMode TestMode
	// RequestTimeout bounds the wait for test and batch responses.
	RequestTimeout time.Duration
	// AckTimeout bounds the wait for lightweight acknowledgments
	// (subscribe, unsubscribe, get_regions, set_config, ping).
	AckTimeout time.Duration
	// ReconnectDelay and MaxRetries control connect-time retry.
	// MaxRetries is the number of additional attempts after the first.
	ReconnectDelay time.Duration
	MaxRetries     int
	// AuthToken, when set, is sent as a bearer token on the handshake.
	AuthToken string

	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	PingInterval       time.Duration

	// observers. All optional, all set before Connect.
	OnConnected    func()
	OnDisconnected func()
	OnError        func(err error)
	// OnDomainUpdate receives every domain_update push, whether or not
	// a domain-specific listener exists.
	OnDomainUpdate DomainUpdateFunction
}

func DefaultConfig() *Config {
	return &Config{
		Url:                "ws://localhost:8888/ws",
		Regions:            []string{"us-west", "us-east", "eu-west"},
		TestMode:           TestModeBasic,
		RequestTimeout:     30 * time.Second,
		AckTimeout:         10 * time.Second,
		ReconnectDelay:     5 * time.Second,
		MaxRetries:         3,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       10 * time.Second,
		PingInterval:       30 * time.Second,
	}
}

// the file surface uses seconds for durations
type fileConfig struct {
	Url            string   `toml:"url"`
	Regions        []string `toml:"regions"`
	TestMode       string   `toml:"test_mode"`
	Timeout        float64  `toml:"timeout"`
	ReconnectDelay float64  `toml:"reconnect_delay"`
	MaxRetries     int      `toml:"max_retries"`
	Jwt            string   `toml:"jwt"`
}

// LoadConfig reads a TOML config file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if fc.Url != "" {
		config.Url = fc.Url
	}
	if 0 < len(fc.Regions) {
		config.Regions = fc.Regions
	}
	if fc.TestMode != "" {
		mode, err := ParseTestMode(fc.TestMode)
		if err != nil {
			return nil, err
		}
		config.TestMode = mode
	}
	if 0 < fc.Timeout {
		config.RequestTimeout = time.Duration(fc.Timeout * float64(time.Second))
	}
	if 0 < fc.ReconnectDelay {
		config.ReconnectDelay = time.Duration(fc.ReconnectDelay * float64(time.Second))
	}
	if 0 < fc.MaxRetries {
		config.MaxRetries = fc.MaxRetries
	}
	if fc.Jwt != "" {
		config.AuthToken = fc.Jwt
	}
	return config, nil
}

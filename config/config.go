// Package config provides configuration management for the live tuner proxy.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"livetuner/internal/transport"
)

var (
	// ErrInvalidPort is returned when the port number is invalid.
	ErrInvalidPort = errors.New("invalid port number")
	// ErrBufferSizePositive is returned when the buffer size is not positive.
	ErrBufferSizePositive = errors.New("buffer size must be positive")
	// ErrReadTimeoutPositive is returned when the read timeout is not positive.
	ErrReadTimeoutPositive = errors.New("read timeout must be positive")
	// ErrPollIntervalPositive is returned when the poll interval is not positive.
	ErrPollIntervalPositive = errors.New("poll interval must be positive")
	// ErrInvalidLogLevel is returned when the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config holds the application configuration.
type Config struct {
	Port              int
	BufferMB          int           // per-session ring buffer size in MiB
	ReadTimeout       time.Duration // how long a relay read waits for data
	PollInterval      time.Duration // transfer control callback cadence
	ConnectRetries    uint
	ConnectRetryDelay time.Duration
	TestChannelRate   int // bytes per second for the built-in test channel
	LogLevel          string
}

// New creates a new configuration instance by parsing command-line flags.
func New() (*Config, error) {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "Port to listen on")
	flag.IntVar(&cfg.BufferMB, "buffer-mb", 8, "Ring buffer size per stream session in MiB")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 5*time.Second, "How long a relay read waits for stream data")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 500*time.Millisecond, "Transfer control poll interval")
	var retries int
	flag.IntVar(&retries, "connect-retries", 3, "Extra upstream connect attempts after the first")
	flag.DurationVar(&cfg.ConnectRetryDelay, "connect-retry-delay", time.Second, "Base delay between connect attempts")
	flag.IntVar(&cfg.TestChannelRate, "test-channel-rate", 1<<20, "Built-in test channel rate in bytes per second")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	if retries < 0 {
		retries = 0
	}
	cfg.ConnectRetries = uint(retries)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.BufferMB < 1 {
		return ErrBufferSizePositive
	}

	if c.ReadTimeout <= 0 {
		return ErrReadTimeoutPositive
	}

	if c.PollInterval <= 0 {
		return ErrPollIntervalPositive
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("%w: %s (must be debug, info, warn, or error)", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// BufferBytes returns the configured per-session buffer size in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferMB * 1024 * 1024
}

// TransportConfig maps the configuration onto transfer client settings.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.PollInterval = c.PollInterval
	tc.ConnectRetries = c.ConnectRetries
	tc.ConnectRetryDelay = c.ConnectRetryDelay
	return tc
}

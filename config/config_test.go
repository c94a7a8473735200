package config

import (
	"errors"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:         8080,
		BufferMB:     8,
		ReadTimeout:  5 * time.Second,
		PollInterval: 500 * time.Millisecond,
		LogLevel:     "info",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"port too low", func(c *Config) { c.Port = 0 }, ErrInvalidPort},
		{"port too high", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"zero buffer", func(c *Config) { c.BufferMB = 0 }, ErrBufferSizePositive},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, ErrReadTimeoutPositive},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, ErrPollIntervalPositive},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestBufferBytes(t *testing.T) {
	cfg := validConfig()
	if got := cfg.BufferBytes(); got != 8*1024*1024 {
		t.Errorf("Expected 8MiB in bytes, got %d", got)
	}
}

func TestTransportConfig(t *testing.T) {
	cfg := validConfig()
	cfg.ConnectRetries = 5
	cfg.ConnectRetryDelay = 2 * time.Second

	tc := cfg.TransportConfig()
	if tc.PollInterval != cfg.PollInterval {
		t.Errorf("Poll interval not carried over: %v", tc.PollInterval)
	}
	if tc.ConnectRetries != 5 || tc.ConnectRetryDelay != 2*time.Second {
		t.Error("Retry settings not carried over")
	}
	if tc.ChunkSize <= 0 {
		t.Error("Chunk size should default to a positive value")
	}
}

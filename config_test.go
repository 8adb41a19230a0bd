package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		authTimeout: 5 * time.Second,
		bind:        "0.0.0.0",
		jwtSecret:   "secret",
		port:        3007,
		publicRooms: []string{"general"},
		sendBuffer:  8,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing secret", func(c *Config) { c.jwtSecret = "" }, true},
		{"port too low", func(c *Config) { c.port = 0 }, true},
		{"port too high", func(c *Config) { c.port = 70000 }, true},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, true},
		{"key without cert", func(c *Config) { c.tlsKey = "key.pem" }, true},
		{"cert and key", func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }, false},
		{"zero auth timeout", func(c *Config) { c.authTimeout = 0 }, true},
		{"zero send buffer", func(c *Config) { c.sendBuffer = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			cfg := validConfig()
			tt.mutate(cfg)

			if tt.wantErr {
				req.Error(cfg.validate())
			} else {
				req.NoError(cfg.validate())
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	req := require.New(t)

	cfg := validConfig()
	req.Equal("http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	req.Equal("https", cfg.scheme())
}

func TestHumanReadableSize(t *testing.T) {
	req := require.New(t)

	req.Equal("512 B", humanReadableSize(512))
	req.Equal("1.5 kB", humanReadableSize(1500))
	req.Equal("2.0 MB", humanReadableSize(2_000_000))
}

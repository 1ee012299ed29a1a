// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mrelay holds the configuration shared by the mRelay commands.
package mrelay

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrMissingTarget is returned when no upstream address is configured.
var ErrMissingTarget = errors.New("target address not configured")

// Config holds the relay configuration read from the environment.
type Config struct {
	// Relay
	Address       string        `env:"ADDRESS"          envDefault:"127.0.0.1:3556"`
	TargetAddress string        `env:"TARGET_ADDRESS"`
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT"     envDefault:"10s"`
	Linger        time.Duration `env:"LINGER"           envDefault:"0s"`
	TCPKeepAlive  time.Duration `env:"TCP_KEEPALIVE"    envDefault:"15s"`
	NoDelay       bool          `env:"TCP_NODELAY"      envDefault:"true"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Observability
	AdminAddress  string `env:"ADMIN_ADDRESS"  envDefault:":9090"`
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT"     envDefault:"json"`
	MaxGoroutines int    `env:"MAX_GOROUTINES" envDefault:"50000"`
}

// NewConfig parses the configuration from the environment using opts,
// typically with a prefix such as "MRELAY_".
func NewConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that both addresses are usable host:port pairs.
func (c Config) Validate() error {
	if c.TargetAddress == "" {
		return ErrMissingTarget
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(c.TargetAddress); err != nil {
		return err
	}
	return nil
}

// NewLogger creates a structured logger with the configured level and format.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

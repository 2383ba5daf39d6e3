package config

import (
	"time"

	"github.com/vietddude/txpilot/internal/infra/postgres"
	redisclient "github.com/vietddude/txpilot/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Wallet   WalletConfig       `yaml:"wallet"`
	Retry    RetryConfig        `yaml:"retry"`
	Breaker  BreakerConfig      `yaml:"breaker"`
	Confirm  ConfirmConfig      `yaml:"confirm"`
	Registry RegistryConfig     `yaml:"registry"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// WalletConfig points at the wallet/RPC collaborator.
type WalletConfig struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	GRPCAddr string        `yaml:"grpc_addr"` // optional gRPC backend
}

// RetryConfig holds the default retry policy for submit attempts.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	JitterFactor    float64       `yaml:"jitter_factor"`
}

// BreakerConfig holds circuit breaker settings for the submit class.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ConfirmConfig holds confirmation polling settings.
type ConfirmConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RegistryConfig bounds the in-memory record registry.
type RegistryConfig struct {
	KeepRecords   int           `yaml:"keep_records"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

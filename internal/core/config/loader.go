package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Wallet.Name == "" {
		cfg.Wallet.Name = "wallet"
	}
	if cfg.Wallet.Timeout == 0 {
		cfg.Wallet.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 1 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.ExponentialBase == 0 {
		cfg.Retry.ExponentialBase = 2.0
	}
	if cfg.Retry.JitterFactor == 0 {
		cfg.Retry.JitterFactor = 0.2
	}
	if cfg.Breaker.Threshold == 0 {
		cfg.Breaker.Threshold = 5
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Confirm.PollInterval == 0 {
		cfg.Confirm.PollInterval = 2 * time.Second
	}
	if cfg.Confirm.Timeout == 0 {
		cfg.Confirm.Timeout = 120 * time.Second
	}
	if cfg.Registry.KeepRecords == 0 {
		cfg.Registry.KeepRecords = 500
	}
	if cfg.Registry.PruneInterval == 0 {
		cfg.Registry.PruneInterval = 5 * time.Minute
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/eventra/courier/internal/delivery"
	"github.com/eventra/courier/internal/delivery/retry"
)

// Load reads configuration from a YAML file. Environment variables in the
// file body are expanded before parsing, and missing values get defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Dispatch.PollInterval <= 0 {
		cfg.Dispatch.PollInterval = 2 * time.Second
	}
	if cfg.Dispatch.Concurrency <= 0 {
		cfg.Dispatch.Concurrency = 4
	}
	if cfg.Dispatch.ClaimTTL <= 0 {
		cfg.Dispatch.ClaimTTL = 5 * time.Minute
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 5
	}
	if cfg.Primary.Name == "" {
		cfg.Primary.Name = "primary"
	}
	if cfg.Fallback.Name == "" {
		cfg.Fallback.Name = "fallback"
	}
	if cfg.Operators.Name == "" {
		cfg.Operators.Name = "operators"
	}
	if cfg.Delivery.Policies.Render.MaxAttempts == 0 {
		cfg.Delivery.Policies.Render = delivery.DefaultPolicies.Render
	}
	if cfg.Delivery.Policies.Primary.MaxAttempts == 0 {
		cfg.Delivery.Policies.Primary = delivery.DefaultPolicies.Primary
	}
	if cfg.Delivery.Policies.Fallback.MaxAttempts == 0 {
		cfg.Delivery.Policies.Fallback = delivery.DefaultPolicies.Fallback
	}
	for _, p := range []*retry.Policy{
		&cfg.Delivery.Policies.Render,
		&cfg.Delivery.Policies.Primary,
		&cfg.Delivery.Policies.Fallback,
	} {
		if p.BackoffMultiple == 0 {
			p.BackoffMultiple = 2.0
		}
		if p.InitialDelay == 0 {
			p.InitialDelay = time.Second
		}
		if p.MaxDelay == 0 {
			p.MaxDelay = 30 * time.Second
		}
	}
}

func validate(cfg *AppConfig) error {
	for _, p := range []struct {
		name     string
		attempts int
		multiple float64
	}{
		{"render", cfg.Delivery.Policies.Render.MaxAttempts, cfg.Delivery.Policies.Render.BackoffMultiple},
		{"primary", cfg.Delivery.Policies.Primary.MaxAttempts, cfg.Delivery.Policies.Primary.BackoffMultiple},
		{"fallback", cfg.Delivery.Policies.Fallback.MaxAttempts, cfg.Delivery.Policies.Fallback.BackoffMultiple},
	} {
		// Zero means "use defaults"; explicit invalid values are rejected.
		if p.attempts < 0 {
			return fmt.Errorf("invalid %s retry policy: negative max attempts", p.name)
		}
		if p.multiple != 0 && p.multiple < 1.0 {
			return fmt.Errorf("invalid %s retry policy: backoff multiple below 1.0", p.name)
		}
	}

	if cfg.Cache.MaxBytes < 0 || cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("invalid cache config: negative capacity")
	}
	return nil
}

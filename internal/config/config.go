// Package config loads the optional TOML configuration file. Everything has
// a working default, so the tool runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
)

// RegistryAuth is a static credential for one registry host.
type RegistryAuth struct {
	Host     string `toml:"host"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Config is the tool configuration.
type Config struct {
	// Concurrency bounds how many pipeline files migrate in parallel.
	Concurrency int `toml:"concurrency"`

	// Retries and RetryDelaySeconds bound the transient-error retry loop of
	// registry calls.
	Retries           int `toml:"retries"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`

	// CacheDir enables the registry response cache when set.
	CacheDir string `toml:"cache_dir"`

	// TagAPI selects the tag listing backend: auto, quay or distribution.
	TagAPI string `toml:"tag_api"`

	// PlainHTTP lists registry hosts reached over HTTP, e.g. a local test
	// registry.
	PlainHTTP []string `toml:"plain_http"`

	Auth []RegistryAuth `toml:"auth"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Concurrency:       5,
		Retries:           3,
		RetryDelaySeconds: 1,
		TagAPI:            registry.TagAPIAuto,
	}
}

// Load reads the configuration at path, filling unset fields with defaults.
// An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func Validate(cfg Config) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("config concurrency must be at least 1")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("config retries must not be negative")
	}
	if cfg.RetryDelaySeconds < 0 {
		return fmt.Errorf("config retry_delay_seconds must not be negative")
	}
	switch cfg.TagAPI {
	case registry.TagAPIAuto, registry.TagAPIQuay, registry.TagAPIDistribution:
	default:
		return fmt.Errorf("config tag_api must be auto, quay or distribution, got %q", cfg.TagAPI)
	}
	for i, a := range cfg.Auth {
		if strings.TrimSpace(a.Host) == "" {
			return fmt.Errorf("auth[%d] missing host", i)
		}
		if strings.TrimSpace(a.Username) == "" || strings.TrimSpace(a.Password) == "" {
			return fmt.Errorf("auth[%d] for %s requires username and password", i, a.Host)
		}
	}
	return nil
}

// RegistryOptions converts the configuration into registry client options.
func (c Config) RegistryOptions() registry.Options {
	opts := registry.Options{
		PlainHTTP:  c.PlainHTTP,
		MaxRetries: c.Retries,
		RetryDelay: time.Duration(c.RetryDelaySeconds) * time.Second,
		CacheDir:   c.CacheDir,
		TagAPI:     c.TagAPI,
	}
	for _, a := range c.Auth {
		opts.Credentials = append(opts.Credentials, registry.StaticCredential{
			Registry: a.Host,
			Username: a.Username,
			Password: a.Password,
		})
	}
	return opts
}

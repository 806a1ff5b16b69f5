package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmt.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, registry.TagAPIAuto, cfg.TagAPI)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
concurrency = 2
retries = 5
retry_delay_seconds = 3
cache_dir = "/tmp/pmt-cache"
tag_api = "quay"
plain_http = ["localhost:5000"]

[[auth]]
host = "quay.io"
username = "robot"
password = "secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, "/tmp/pmt-cache", cfg.CacheDir)
	assert.Equal(t, []string{"localhost:5000"}, cfg.PlainHTTP)
	require.Len(t, cfg.Auth, 1)
	assert.Equal(t, "quay.io", cfg.Auth[0].Host)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `retries = 7`))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retries)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, registry.TagAPIAuto, cfg.TagAPI)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorContains(t, err, "config load failed")
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "concurrency = [not toml"))
	require.ErrorContains(t, err, "config parse failed")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, errMsg: "concurrency"},
		{name: "negative retries", mutate: func(c *Config) { c.Retries = -1 }, errMsg: "retries"},
		{name: "unknown tag api", mutate: func(c *Config) { c.TagAPI = "dockerhub" }, errMsg: "tag_api"},
		{name: "auth missing host", mutate: func(c *Config) {
			c.Auth = []RegistryAuth{{Username: "u", Password: "p"}}
		}, errMsg: "missing host"},
		{name: "auth missing password", mutate: func(c *Config) {
			c.Auth = []RegistryAuth{{Host: "quay.io", Username: "u"}}
		}, errMsg: "username and password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorContains(t, Validate(cfg), tt.errMsg)
		})
	}
}

func TestRegistryOptions(t *testing.T) {
	cfg := Default()
	cfg.Retries = 4
	cfg.RetryDelaySeconds = 2
	cfg.PlainHTTP = []string{"localhost:5000"}
	cfg.Auth = []RegistryAuth{{Host: "quay.io", Username: "robot", Password: "secret"}}

	opts := cfg.RegistryOptions()
	assert.Equal(t, 4, opts.MaxRetries)
	assert.Equal(t, 2*time.Second, opts.RetryDelay)
	assert.Equal(t, []string{"localhost:5000"}, opts.PlainHTTP)
	require.Len(t, opts.Credentials, 1)
	assert.Equal(t, registry.StaticCredential{Registry: "quay.io", Username: "robot", Password: "secret"}, opts.Credentials[0])
}

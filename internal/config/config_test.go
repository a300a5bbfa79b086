// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:3000", cfg.Relay.Listen)
	assert.Equal(t, "http://localhost:11434", cfg.Relay.Upstream)
	assert.Equal(t, 60*time.Second, cfg.Relay.Timeout.Duration)
	assert.Equal(t, "chrome-extension://gkpfpdekobmonacdgjgbfehilnloaacm", cfg.Relay.AllowedOrigin)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, time.Hour, cfg.Capability.MaxAge.Duration)
	assert.Equal(t, 3, cfg.Capability.MaxRetries)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[relay]
listen = "127.0.0.1:4000"
timeout = "90s"

[storage]
backend = "bolt"
path = "/tmp/x.bolt"

[capability]
max_age = "30m"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Relay.Listen)
	assert.Equal(t, 90*time.Second, cfg.Relay.Timeout.Duration)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Capability.MaxAge.Duration)
	// untouched sections keep their defaults
	assert.Equal(t, "http://localhost:11434", cfg.Relay.Upstream)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromPath_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[client]\nmodel = \"llama3\"\n"), 0600))

	t.Setenv("OLLAMABRO_CLIENT_MODEL", "qwen2.5:7b")
	t.Setenv("OLLAMABRO_STORAGE_BACKEND", "memory")
	t.Setenv("OLLAMABRO_RELAY_TIMEOUT", "5s")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", cfg.Client.Model)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Relay.Timeout.Duration)
}

func TestLoadFromPath_BadEnvDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	t.Setenv("OLLAMABRO_CAPABILITY_MAX_AGE", "soon")

	_, err := LoadFromPath(path)
	require.Error(t, err)
}

func TestLoadFromPath_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[relay\nlisten="), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"remote upstream", func(c *Config) { c.Relay.Upstream = "http://10.0.0.5:11434" }, "relay.upstream"},
		{"relative upstream", func(c *Config) { c.Relay.Upstream = "localhost" }, "relay.upstream"},
		{"bad listen", func(c *Config) { c.Relay.Listen = "3000" }, "relay.listen"},
		{"zero timeout", func(c *Config) { c.Relay.Timeout = D(0) }, "relay.timeout"},
		{"backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"retries", func(c *Config) { c.Capability.MaxRetries = -1 }, "capability.max_retries"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "error = %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tc.field, verrs[0].Field)
		})
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":   true,
		"LOCALHOST":   true,
		"127.0.0.1":   true,
		"::1":         true,
		"[::1]":       true,
		"example.com": false,
		"10.0.0.1":    false,
		"":            false,
	} {
		assert.Equal(t, want, IsLoopbackHost(host), host)
	}
}

func TestSaveTOML_RoundTripsAndRestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Client.Model = "llava:13b"
	cfg.Capability.BaseDelay = D(250 * time.Millisecond)

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "llava:13b", loaded.Client.Model)
	assert.Equal(t, 250*time.Millisecond, loaded.Capability.BaseDelay.Duration)
}

func TestStoragePath(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = "/data/chats.db"
	p, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, "/data/chats.db", p)

	cfg.Storage.Path = ""
	for backend, base := range map[string]string{
		"sqlite": "conversations.db",
		"bolt":   "conversations.bolt",
		"json":   "conversations",
	} {
		cfg.Storage.Backend = backend
		p, err := cfg.StoragePath()
		require.NoError(t, err)
		assert.Equal(t, base, filepath.Base(p))
		assert.Equal(t, ".ollamabro", filepath.Base(filepath.Dir(p)))
	}
}

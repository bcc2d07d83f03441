// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty,
// uses DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.heartbeat_interval_seconds", cfg.Server.HeartbeatIntervalSeconds)
	v.SetDefault("server.heartbeat_timeout_seconds", cfg.Server.HeartbeatTimeoutSeconds)
	v.SetDefault("auth.token_lifetime_hours", cfg.Auth.TokenLifetimeHours)
	v.SetDefault("auth.max_connections", cfg.Auth.MaxConnections)
	v.SetDefault("stream.flush_interval_ms", cfg.Stream.FlushIntervalMS)
	v.SetDefault("stream.filter_mode", cfg.Stream.FilterMode)
	v.SetDefault("stream.scrollback_kb", cfg.Stream.ScrollbackKB)
	v.SetDefault("detect.idle_window_seconds", cfg.Detect.IdleWindowSeconds)
	v.SetDefault("detect.heuristics", cfg.Detect.Heuristics)
	v.SetDefault("detect.pattern_file", cfg.Detect.PatternFile)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d",
				v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	baseURL := strings.TrimSpace(cfg.Server.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("server.base_url must include scheme and host (e.g. http://example.com:27350)")
		}
	}
	switch strings.ToLower(cfg.Stream.FilterMode) {
	case "none", "light", "medium", "heavy":
	default:
		return fmt.Errorf("unsupported stream.filter_mode %q", cfg.Stream.FilterMode)
	}
	seen := make(map[string]bool, len(cfg.Tabs))
	for _, tab := range cfg.Tabs {
		if tab.ID == "" {
			return fmt.Errorf("every tab needs an id")
		}
		if seen[tab.ID] {
			return fmt.Errorf("duplicate tab id %q", tab.ID)
		}
		seen[tab.ID] = true
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Detect.PatternFile = expandEnv(cfg.Detect.PatternFile)
	for i := range cfg.Tabs {
		cfg.Tabs[i].Dir = expandEnv(cfg.Tabs[i].Dir)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

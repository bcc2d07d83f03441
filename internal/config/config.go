// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package config holds the application configuration.
package config

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	Server        ServerConfig `mapstructure:"server" yaml:"server"`
	Auth          AuthConfig   `mapstructure:"auth" yaml:"auth"`
	Stream        StreamConfig `mapstructure:"stream" yaml:"stream"`
	Detect        DetectConfig `mapstructure:"detect" yaml:"detect"`
	Tabs          []TabConfig  `mapstructure:"tabs" yaml:"tabs"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr                     string   `mapstructure:"addr" yaml:"addr"`
	BaseURL                  string   `mapstructure:"base_url" yaml:"base_url"`
	AllowedOrigins           []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	HeartbeatIntervalSeconds int      `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int      `mapstructure:"heartbeat_timeout_seconds" yaml:"heartbeat_timeout_seconds"`
}

// AuthConfig configures token lifetime and the connection cap.
type AuthConfig struct {
	TokenLifetimeHours int `mapstructure:"token_lifetime_hours" yaml:"token_lifetime_hours"`
	MaxConnections     int `mapstructure:"max_connections" yaml:"max_connections"`
}

// StreamConfig configures the output pipeline.
type StreamConfig struct {
	FlushIntervalMS int    `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	FilterMode      string `mapstructure:"filter_mode" yaml:"filter_mode"`
	ScrollbackKB    int    `mapstructure:"scrollback_kb" yaml:"scrollback_kb"`
}

// DetectConfig configures completion detection.
type DetectConfig struct {
	IdleWindowSeconds int    `mapstructure:"idle_window_seconds" yaml:"idle_window_seconds"`
	Heuristics        bool   `mapstructure:"heuristics" yaml:"heuristics"`
	PatternFile       string `mapstructure:"pattern_file" yaml:"pattern_file"`
}

// TabConfig declares one shell tab.
type TabConfig struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Name      string `mapstructure:"name" yaml:"name"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	Command   string `mapstructure:"command" yaml:"command"`
	AutoStart bool   `mapstructure:"auto_start" yaml:"auto_start"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Server: ServerConfig{
			Addr:                     ":27350",
			BaseURL:                  "",
			AllowedOrigins:           []string{"http://localhost:*", "http://127.0.0.1:*"},
			HeartbeatIntervalSeconds: 10,
			HeartbeatTimeoutSeconds:  30,
		},
		Auth: AuthConfig{
			TokenLifetimeHours: 24,
			MaxConnections:     5,
		},
		Stream: StreamConfig{
			FlushIntervalMS: 50,
			FilterMode:      "medium",
			ScrollbackKB:    256,
		},
		Detect: DetectConfig{
			IdleWindowSeconds: 5,
			Heuristics:        false,
			PatternFile:       "",
		},
		Tabs: []TabConfig{
			{ID: "main", Name: "Main", AutoStart: true},
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".termdock", "config.yaml"), nil
}

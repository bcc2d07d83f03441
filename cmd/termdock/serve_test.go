package main

import (
	"strings"
	"testing"

	"github.com/termdock/termdock/internal/config"
)

func TestAccessURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		addr    string
		want    string
	}{
		{name: "base-url-wins", baseURL: "https://dock.example.com/", addr: ":27350", want: "https://dock.example.com"},
		{name: "explicit-host", baseURL: "", addr: "10.0.0.5:8080", want: "http://10.0.0.5:8080"},
	}
	for _, tc := range tests {
		cfg := config.DefaultConfig()
		cfg.Server.BaseURL = tc.baseURL
		cfg.Server.Addr = tc.addr
		if got := accessURL(cfg); got != tc.want {
			t.Errorf("%s: accessURL = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAccessURLPortOnlyAddrUsesHostname(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = ""
	cfg.Server.Addr = ":27350"
	got := accessURL(cfg)
	if !strings.HasPrefix(got, "http://") || !strings.HasSuffix(got, ":27350") {
		t.Errorf("accessURL = %q", got)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	for _, want := range []string{"serve", "init", "version"} {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command missing %q subcommand", want)
		}
	}
}

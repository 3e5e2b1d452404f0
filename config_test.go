package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T, configPath string) {
	t.Helper()
	t.Setenv("CONFIG_PATH", configPath)
	t.Setenv("RCON_PASSWORD", "hunter2")
	t.Setenv("LOG_PATH", "/var/log/q3/games.log")
	t.Setenv("RCON_HOST", "")
	t.Setenv("RCON_PORT", "")
	t.Setenv("RCON_PROTOCOL", "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_CHANNEL_ID", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.RCON.Host != "localhost" || cfg.RCON.Port != "27960" || cfg.RCON.Protocol != "quake3" {
		t.Errorf("rcon = %+v", cfg.RCON)
	}
	if cfg.RCON.Password != "hunter2" {
		t.Errorf("password not read from env")
	}
	if cfg.RCON.Spacing != 200*time.Millisecond || cfg.RCON.MaxResponse != 64*1024 {
		t.Errorf("rcon timings = %+v", cfg.RCON)
	}
	if cfg.Log.Path != "/var/log/q3/games.log" {
		t.Errorf("log path = %q", cfg.Log.Path)
	}
	if cfg.Dispatch.Prefixes.Normal != "!" || cfg.Dispatch.CommandQueueSize != 64 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Discord.Enabled {
		t.Error("discord enabled without a bot token")
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
rcon:
  host: q3.example.net
  port: "27961"
  spacing: 500ms
log:
  encoding: latin1
dispatch:
  prefixes:
    normal: "."
admins:
  - guid: ABC
    level: 100
  - guid: DEF
    level: 40
loki:
  events: [kill, say]
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	setBaseEnv(t, path)
	t.Setenv("RCON_HOST", "10.1.2.3")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.RCON.Host != "10.1.2.3" {
		t.Errorf("host = %q, env should win", cfg.RCON.Host)
	}
	if cfg.RCON.Port != "27961" || cfg.RCON.Spacing != 500*time.Millisecond {
		t.Errorf("rcon = %+v", cfg.RCON)
	}
	if cfg.RCON.ReadTimeout != 2*time.Second {
		t.Errorf("unset field lost its default: %v", cfg.RCON.ReadTimeout)
	}
	if cfg.Log.Encoding != "latin1" || cfg.Dispatch.Prefixes.Normal != "." || cfg.Dispatch.Prefixes.Loud != "@" {
		t.Errorf("log = %+v, dispatch = %+v", cfg.Log, cfg.Dispatch)
	}

	levels := cfg.adminLevels()
	if levels["ABC"] != 100 || levels["DEF"] != 40 || len(levels) != 2 {
		t.Errorf("adminLevels() = %v", levels)
	}
	if !cfg.lokiEventAllowed(TypeKill) || cfg.lokiEventAllowed(TypeVote) {
		t.Error("loki event filter not applied")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing password", map[string]string{"RCON_PASSWORD": ""}},
		{"missing log path", map[string]string{"LOG_PATH": ""}},
		{"bad protocol", map[string]string{"RCON_PROTOCOL": "gopher"}},
		{"token without channel", map[string]string{"DISCORD_BOT_TOKEN": "tok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t, filepath.Join(t.TempDir(), "missing.yaml"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Error("loadConfig succeeded")
			}
		})
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rcon: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	setBaseEnv(t, path)
	if _, err := loadConfig(); err == nil {
		t.Fatal("loadConfig accepted malformed YAML")
	}
}

func TestEventFilters(t *testing.T) {
	cfg := defaultConfig()
	if !cfg.lokiEventAllowed(TypeSay) {
		t.Error(`loki "all" rejected say`)
	}
	cfg.Loki.Enabled = false
	if cfg.lokiEventAllowed(TypeSay) {
		t.Error("disabled loki accepted say")
	}

	cfg.Discord.Events = []string{"kill"}
	if !cfg.discordEventAllowed(TypeKill) || cfg.discordEventAllowed(TypeSay) {
		t.Error("discord event filter not applied")
	}
}

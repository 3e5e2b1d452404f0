package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RCON     RCONConfig     `yaml:"rcon"`
	Log      LogConfig      `yaml:"log"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Admins   []AdminEntry   `yaml:"admins"`
	Status   StatusConfig   `yaml:"status"`
	OTel     OTelConfig     `yaml:"otel"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Discord  DiscordConfig  `yaml:"discord"`
	Loki     LokiConfig     `yaml:"loki"`
}

type RCONConfig struct {
	Host            string        `yaml:"host" env:"RCON_HOST"`
	Port            string        `yaml:"port" env:"RCON_PORT"`
	Password        string        `yaml:"-" env:"RCON_PASSWORD"` // from env only
	Protocol        string        `yaml:"protocol" env:"RCON_PROTOCOL"` // "quake3" or "source"
	Spacing         time.Duration `yaml:"spacing"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	FragmentTimeout time.Duration `yaml:"fragment_timeout"`
	MaxResponse     int           `yaml:"max_response"`
	Probe           string        `yaml:"probe"`
}

type LogConfig struct {
	Path      string        `yaml:"path" env:"LOG_PATH"`
	PollDelay time.Duration `yaml:"poll_delay"`
	Encoding  string        `yaml:"encoding"`
}

type DispatchConfig struct {
	CommandQueueSize int `yaml:"command_queue_size"`
	EventQueueSize   int `yaml:"event_queue_size"`
	// Prefixes maps a chat prefix character to a reply mode.
	Prefixes PrefixConfig `yaml:"prefixes"`
}

type PrefixConfig struct {
	Normal string `yaml:"normal"`
	Loud   string `yaml:"loud"`
	Big    string `yaml:"big"`
}

type AdminEntry struct {
	GUID  string `yaml:"guid"`
	Level int    `yaml:"level"`
}

type StatusConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type OTelConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BotToken  string   `yaml:"-" env:"DISCORD_BOT_TOKEN"`  // from env only
	ChannelID string   `yaml:"-" env:"DISCORD_CHANNEL_ID"` // from env only
	Events    []string `yaml:"events"`
}

type LokiConfig struct {
	Enabled bool        `yaml:"enabled"`
	Events  interface{} `yaml:"events"` // "all" or []string
}

func defaultConfig() Config {
	return Config{
		RCON: RCONConfig{
			Host:            "localhost",
			Port:            "27960",
			Protocol:        "quake3",
			Spacing:         200 * time.Millisecond,
			ReadTimeout:     2 * time.Second,
			FragmentTimeout: 300 * time.Millisecond,
			MaxResponse:     64 * 1024,
			Probe:           "status",
		},
		Log: LogConfig{
			PollDelay: 100 * time.Millisecond,
			Encoding:  "utf-8",
		},
		Dispatch: DispatchConfig{
			CommandQueueSize: 64,
			EventQueueSize:   256,
			Prefixes: PrefixConfig{
				Normal: "!",
				Loud:   "@",
				Big:    "&",
			},
		},
		Status: StatusConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		OTel: OTelConfig{
			ServiceName: "orion-agent",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: 15 * time.Second,
		},
		Discord: DiscordConfig{
			Enabled: true,
			Events:  []string{"all"},
		},
		Loki: LokiConfig{
			Enabled: true,
			Events:  "all",
		},
	}
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	configPath := envOr("CONFIG_PATH", "/etc/orion-agent/config.yaml")
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}
	// config file is optional; a missing file is not an error

	// Env overrides (secrets + runtime values)
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.RCON.Password == "" {
		return fmt.Errorf("RCON_PASSWORD env is required")
	}
	switch c.RCON.Protocol {
	case "quake3", "source":
	default:
		return fmt.Errorf("rcon.protocol must be quake3 or source, got %q", c.RCON.Protocol)
	}
	if c.Log.Path == "" {
		return fmt.Errorf("log.path (or LOG_PATH env) is required")
	}
	if c.Dispatch.CommandQueueSize <= 0 || c.Dispatch.EventQueueSize <= 0 {
		return fmt.Errorf("dispatch queue sizes must be positive")
	}
	if c.Dispatch.Prefixes.Normal == "" {
		return fmt.Errorf("dispatch.prefixes.normal must not be empty")
	}

	if c.Discord.BotToken != "" && c.Discord.ChannelID == "" {
		return fmt.Errorf("DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	if c.Discord.BotToken == "" {
		c.Discord.Enabled = false
	}
	return nil
}

// adminLevels indexes the configured admins by GUID.
func (c *Config) adminLevels() map[string]int {
	levels := make(map[string]int, len(c.Admins))
	for _, a := range c.Admins {
		levels[a.GUID] = a.Level
	}
	return levels
}

// lokiEventAllowed returns whether a given fact type should be sent to Loki.
func (c *Config) lokiEventAllowed(factType FactType) bool {
	if !c.Loki.Enabled {
		return false
	}
	if s, ok := c.Loki.Events.(string); ok && s == "all" {
		return true
	}
	if list, ok := c.Loki.Events.([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s == string(factType) {
				return true
			}
		}
	}
	return false
}

// discordEventAllowed returns whether a given fact type should be sent to Discord.
func (c *Config) discordEventAllowed(factType FactType) bool {
	if !c.Discord.Enabled {
		return false
	}
	for _, e := range c.Discord.Events {
		if e == "all" || e == string(factType) {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultSlackBaseURL    = "https://slack.com/api"
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultMaxHistory      = 20
	DefaultDedupTTL        = 600
	DefaultHandoffDelay    = 2
	DefaultFlushThreshold  = 30
	DefaultEditIntervalMS  = 1000
	DefaultGeminiTimeout   = 90
	DefaultPlaceholderText = ":hourglass_flowing_sand: thinking..."
)

type Config struct {
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`
	Redis  RedisConfig  `toml:"redis"`
	Slack  SlackConfig  `toml:"slack"`
	Gemini GeminiConfig `toml:"gemini"`
	Relay  RelayConfig  `toml:"relay"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type SlackConfig struct {
	BaseURL    string `toml:"base_url"`
	BotToken   string `toml:"bot_token"`
	AppToken   string `toml:"app_token"`
	SocketMode bool   `toml:"socket_mode"`
	MaxHistory int    `toml:"max_history"`
}

type GeminiConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	SystemPrompt   string `toml:"system_prompt"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c GeminiConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultGeminiTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RelayConfig tunes the reply pipeline.
// Mode "deferred" hands slow work to the redis-backed continuation worker;
// "inline" processes in a detached goroutine within the same process.
type RelayConfig struct {
	Mode                string `toml:"mode"`
	DedupTTLSeconds     int    `toml:"dedup_ttl_seconds"`
	HandoffDelaySeconds int    `toml:"handoff_delay_seconds"`
	FlushThreshold      int    `toml:"flush_threshold"`
	EditIntervalMS      int    `toml:"edit_interval_ms"`
	PlaceholderText     string `toml:"placeholder_text"`
}

func (c RelayConfig) Inline() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode), "inline")
}

func (c RelayConfig) DedupTTL() time.Duration {
	if c.DedupTTLSeconds <= 0 {
		return DefaultDedupTTL * time.Second
	}
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

func (c RelayConfig) HandoffDelay() time.Duration {
	if c.HandoffDelaySeconds < 0 {
		return 0
	}
	return time.Duration(c.HandoffDelaySeconds) * time.Second
}

func (c RelayConfig) EditInterval() time.Duration {
	if c.EditIntervalMS <= 0 {
		return DefaultEditIntervalMS * time.Millisecond
	}
	return time.Duration(c.EditIntervalMS) * time.Millisecond
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Slack: SlackConfig{
			BaseURL:    DefaultSlackBaseURL,
			MaxHistory: DefaultMaxHistory,
		},
		Gemini: GeminiConfig{
			BaseURL:        DefaultGeminiBaseURL,
			Model:          DefaultGeminiModel,
			TimeoutSeconds: DefaultGeminiTimeout,
		},
		Relay: RelayConfig{
			Mode:                "deferred",
			DedupTTLSeconds:     DefaultDedupTTL,
			HandoffDelaySeconds: DefaultHandoffDelay,
			FlushThreshold:      DefaultFlushThreshold,
			EditIntervalMS:      DefaultEditIntervalMS,
			PlaceholderText:     DefaultPlaceholderText,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays secrets and connection details from the environment.
// Deployments keep secrets out of the config file; a missing secret is
// tolerated here and surfaces later as logged call failures, not a crash.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN")); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
}

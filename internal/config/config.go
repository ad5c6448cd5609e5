package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string        `yaml:"discord_token"`
	GuildID       string        `yaml:"guild_id"`
	DatabasePath  string        `yaml:"database_path"`
	LogLevel      string        `yaml:"log_level"`
	Environment   string        `yaml:"environment"`
	GeminiAPIKeys []string      `yaml:"gemini_api_keys"`
	GeminiModel   string        `yaml:"gemini_model"`
	Monitor       MonitorConfig `yaml:"monitor"`
	Dashboard     DashConfig    `yaml:"dashboard"`
}

type MonitorConfig struct {
	BatchSize      int `yaml:"batch_size"`
	DebounceMs     int `yaml:"debounce_ms"`
	CooldownMs     int `yaml:"cooldown_ms"`
	AlertTTLMs     int `yaml:"alert_ttl_ms"`
	ContextDepth   int `yaml:"context_depth"`
	ContextAgeMins int `yaml:"context_age_minutes"`
}

type DashConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURL   string `yaml:"redirect_url"`
	SessionSecret string `yaml:"session_secret"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/guardian.db",
		LogLevel:     "info",
		Environment:  "development",
		GeminiModel:  "gemini-1.5-flash",
		Monitor: MonitorConfig{
			BatchSize:      5,
			DebounceMs:     3000,
			CooldownMs:     15000,
			AlertTTLMs:     15000,
			ContextDepth:   5,
			ContextAgeMins: 10,
		},
		Dashboard: DashConfig{
			Enabled: true,
			Addr:    ":3001",
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return Config{}, errors.New("GUILD_ID is required")
	}
	if cfg.Dashboard.Enabled && cfg.Dashboard.SessionSecret == "" && cfg.Environment == "production" {
		return Config{}, errors.New("SESSION_SECRET is required in production")
	}

	normalizeMonitor(&cfg.Monitor)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = envString("ENVIRONMENT", cfg.Environment)
	cfg.GeminiModel = envString("GEMINI_MODEL", cfg.GeminiModel)
	if keys := os.Getenv("GEMINI_API_KEYS"); keys != "" {
		cfg.GeminiAPIKeys = splitKeys(keys)
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.GeminiAPIKeys = splitKeys(key)
	}
	cfg.Monitor.BatchSize = envInt("MONITOR_BATCH_SIZE", cfg.Monitor.BatchSize)
	cfg.Monitor.DebounceMs = envInt("MONITOR_DEBOUNCE_MS", cfg.Monitor.DebounceMs)
	cfg.Monitor.CooldownMs = envInt("MONITOR_COOLDOWN_MS", cfg.Monitor.CooldownMs)
	cfg.Monitor.AlertTTLMs = envInt("MONITOR_ALERT_TTL_MS", cfg.Monitor.AlertTTLMs)
	cfg.Monitor.ContextDepth = envInt("MONITOR_CONTEXT_DEPTH", cfg.Monitor.ContextDepth)
	cfg.Dashboard.Enabled = envBool("DASHBOARD_ENABLED", cfg.Dashboard.Enabled)
	cfg.Dashboard.Addr = envString("DASHBOARD_ADDR", cfg.Dashboard.Addr)
	cfg.Dashboard.ClientID = envString("CLIENT_ID", cfg.Dashboard.ClientID)
	cfg.Dashboard.ClientSecret = envString("CLIENT_SECRET", cfg.Dashboard.ClientSecret)
	cfg.Dashboard.RedirectURL = envString("REDIRECT_URI", cfg.Dashboard.RedirectURL)
	cfg.Dashboard.SessionSecret = envString("SESSION_SECRET", cfg.Dashboard.SessionSecret)
}

func normalizeMonitor(m *MonitorConfig) {
	if m.BatchSize <= 0 {
		m.BatchSize = 5
	}
	if m.DebounceMs <= 0 {
		m.DebounceMs = 3000
	}
	if m.CooldownMs <= 0 {
		m.CooldownMs = 15000
	}
	if m.AlertTTLMs <= 0 {
		m.AlertTTLMs = 15000
	}
	if m.ContextDepth <= 0 {
		m.ContextDepth = 5
	}
	if m.ContextAgeMins <= 0 {
		m.ContextAgeMins = 10
	}
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

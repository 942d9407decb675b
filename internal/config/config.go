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
	DiscordToken string           `yaml:"discord_token"`
	DatabasePath string           `yaml:"database_path"`
	LogLevel     string           `yaml:"log_level"`
	OwnerRoleIDs []string         `yaml:"owner_role_ids"`
	LogChannelID string           `yaml:"log_channel_id"`
	Health       HealthConfig     `yaml:"health"`
	Protection   ProtectionConfig `yaml:"protection"`
	Mentions     MentionConfig    `yaml:"mentions"`
	MassRole     MassRoleConfig   `yaml:"mass_role"`
	Tickets      TicketConfig     `yaml:"tickets"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ProtectionConfig struct {
	AuditWaitMillis int `yaml:"audit_wait_millis"`
	VoiceBitrate    int `yaml:"voice_bitrate"`
	MemberCacheTTL  int `yaml:"member_cache_ttl_seconds"`
	RetentionDays   int `yaml:"retention_days"`
	SweepHours      int `yaml:"sweep_hours"`
}

type MentionConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Threshold     int `yaml:"threshold"`
}

type MassRoleConfig struct {
	ConfirmTimeoutSeconds int `yaml:"confirm_timeout_seconds"`
	StepDelayMillis       int `yaml:"step_delay_millis"`
}

type TicketConfig struct {
	CategoryID string `yaml:"category_id"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/middleman.db",
		LogLevel:     "info",
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		Protection: ProtectionConfig{
			AuditWaitMillis: 1000,
			VoiceBitrate:    64000,
			MemberCacheTTL:  60,
			RetentionDays:   7,
			SweepHours:      24,
		},
		Mentions: MentionConfig{
			WindowSeconds: 60,
			Threshold:     1,
		},
		MassRole: MassRoleConfig{
			ConfirmTimeoutSeconds: 30,
			StepDelayMillis:       300,
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
	if len(cfg.OwnerRoleIDs) == 0 {
		return Config{}, errors.New("OWNER_ROLE_IDS is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogChannelID = envString("LOG_CHANNEL_ID", cfg.LogChannelID)
	if raw := os.Getenv("OWNER_ROLE_IDS"); raw != "" {
		cfg.OwnerRoleIDs = ParseRoleList(raw)
	}
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Protection.AuditWaitMillis = envInt("AUDIT_WAIT_MILLIS", cfg.Protection.AuditWaitMillis)
	cfg.Protection.RetentionDays = envInt("MENTION_RETENTION_DAYS", cfg.Protection.RetentionDays)
	cfg.Mentions.WindowSeconds = envInt("MENTION_WINDOW_SECONDS", cfg.Mentions.WindowSeconds)
	cfg.Mentions.Threshold = envInt("MENTION_THRESHOLD", cfg.Mentions.Threshold)
	cfg.MassRole.ConfirmTimeoutSeconds = envInt("CONFIRM_TIMEOUT_SECONDS", cfg.MassRole.ConfirmTimeoutSeconds)
	cfg.MassRole.StepDelayMillis = envInt("ROLE_STEP_DELAY_MILLIS", cfg.MassRole.StepDelayMillis)
	cfg.Tickets.CategoryID = envString("TICKET_CATEGORY_ID", cfg.Tickets.CategoryID)
}

// ParseRoleList splits a comma-separated role id list, dropping empty entries.
func ParseRoleList(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id := strings.TrimSpace(part)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
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

package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token"`
	DatabaseURL       string           `yaml:"database_url"`
	LogLevel          string           `yaml:"log_level"`
	CommandPrefix     string           `yaml:"command_prefix"`
	DefaultLogChannel string           `yaml:"default_log_channel"`
	CacheSize         int              `yaml:"cache_size"`
	Health            HealthConfig     `yaml:"health"`
	Sequences         SequenceConfig   `yaml:"sequences"`
	Notices           NoticeConfig     `yaml:"notices"`
	Gate              GateConfig       `yaml:"gate"`
	Moderation        ModerationConfig `yaml:"moderation"`
	Events            EventConfig      `yaml:"events"`
	EmbedColors       EmbedColors      `yaml:"embed_colors"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SequenceConfig struct {
	IdleTimeoutSeconds int  `yaml:"idle_timeout_seconds"`
	Announce           bool `yaml:"announce"`
}

type NoticeConfig struct {
	TTLSeconds         int `yaml:"ttl_seconds"`
	GreetingTTLSeconds int `yaml:"greeting_ttl_seconds"`
}

type GateConfig struct {
	ReviewCapacity int `yaml:"review_capacity"`
}

type ModerationConfig struct {
	DMTargets        bool `yaml:"dm_targets"`
	MuteSweepSeconds int  `yaml:"mute_sweep_seconds"`
}

type EventConfig struct {
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes"`
	PollSeconds         int `yaml:"poll_seconds"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:   "/data/gatekeeper.db",
		LogLevel:      "info",
		CommandPrefix: "!",
		CacheSize:     256,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Sequences:     SequenceConfig{IdleTimeoutSeconds: 300, Announce: false},
		Notices:       NoticeConfig{TTLSeconds: 300, GreetingTTLSeconds: 1800},
		Gate:          GateConfig{ReviewCapacity: 50},
		Moderation:    ModerationConfig{DMTargets: true, MuteSweepSeconds: 60},
		Events:        EventConfig{ReminderLeadMinutes: 15, PollSeconds: 60},
		EmbedColors: EmbedColors{
			Action:  0xF59E0B,
			Warning: 0xEF4444,
		},
	}
}

// Load reads the YAML file at CONFIG_PATH (default config.yaml), then an
// optional .env file, then environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit file path. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

// Validate checks the settings needed to connect to the gateway.
func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Sequences.IdleTimeoutSeconds) * time.Second
}

func (c Config) NoticeTTL() time.Duration {
	return time.Duration(c.Notices.TTLSeconds) * time.Second
}

func (c Config) GreetingTTL() time.Duration {
	return time.Duration(c.Notices.GreetingTTLSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.CommandPrefix = envString("COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.CacheSize = envInt("CACHE_SIZE", cfg.CacheSize)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Sequences.IdleTimeoutSeconds = envInt("SEQUENCE_IDLE_TIMEOUT_SECONDS", cfg.Sequences.IdleTimeoutSeconds)
	cfg.Sequences.Announce = envBool("SEQUENCE_ANNOUNCE", cfg.Sequences.Announce)
	cfg.Notices.TTLSeconds = envInt("NOTICE_TTL_SECONDS", cfg.Notices.TTLSeconds)
	cfg.Notices.GreetingTTLSeconds = envInt("GREETING_TTL_SECONDS", cfg.Notices.GreetingTTLSeconds)
	cfg.Gate.ReviewCapacity = envInt("GATE_REVIEW_CAPACITY", cfg.Gate.ReviewCapacity)
	cfg.Moderation.DMTargets = envBool("MODERATION_DM_TARGETS", cfg.Moderation.DMTargets)
	cfg.Moderation.MuteSweepSeconds = envInt("MUTE_SWEEP_SECONDS", cfg.Moderation.MuteSweepSeconds)
	cfg.Events.ReminderLeadMinutes = envInt("EVENT_REMINDER_LEAD_MINUTES", cfg.Events.ReminderLeadMinutes)
	cfg.Events.PollSeconds = envInt("EVENT_POLL_SECONDS", cfg.Events.PollSeconds)
	cfg.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.EmbedColors.Action)
	cfg.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.EmbedColors.Warning)
}

func (c *Config) normalize() {
	defaults := DefaultConfig()
	c.CommandPrefix = strings.TrimSpace(c.CommandPrefix)
	if c.CommandPrefix == "" {
		c.CommandPrefix = defaults.CommandPrefix
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaults.CacheSize
	}
	if c.Sequences.IdleTimeoutSeconds <= 0 {
		c.Sequences.IdleTimeoutSeconds = defaults.Sequences.IdleTimeoutSeconds
	}
	if c.Notices.TTLSeconds <= 0 {
		c.Notices.TTLSeconds = defaults.Notices.TTLSeconds
	}
	if c.Notices.GreetingTTLSeconds <= 0 {
		c.Notices.GreetingTTLSeconds = defaults.Notices.GreetingTTLSeconds
	}
	if c.Gate.ReviewCapacity <= 0 {
		c.Gate.ReviewCapacity = defaults.Gate.ReviewCapacity
	}
	if c.Moderation.MuteSweepSeconds <= 0 {
		c.Moderation.MuteSweepSeconds = defaults.Moderation.MuteSweepSeconds
	}
	if c.Events.PollSeconds <= 0 {
		c.Events.PollSeconds = defaults.Events.PollSeconds
	}
	if c.Events.ReminderLeadMinutes < 0 {
		c.Events.ReminderLeadMinutes = defaults.Events.ReminderLeadMinutes
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
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

// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/kaya/internal/domain"
)

// Agent backends.
const (
	BackendCLI = "cli"
	BackendAPI = "api"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	CORSAllowedOrigins []string
	DBPath             string
	LogLevel           slog.Level
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	LedgerRetention    time.Duration
	MaxRequestBodySize int64
	Agent              AgentConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
}

// AgentConfig selects and tunes the agent runtime backend.
type AgentConfig struct {
	Backend      string
	CLIPath      string
	WorkDir      string
	Timeout      time.Duration
	APIKey       string
	MaxTokens    int
	DefaultModel domain.ModelTier
	ProfilePath  string
}

// RateLimitConfig bounds chat submissions per session.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	defaultModel, ok := domain.ParseModel(getEnv("DEFAULT_MODEL", string(domain.DefaultModel)))
	if !ok {
		return nil, fmt.Errorf("invalid configuration: DEFAULT_MODEL must be one of %v", domain.Models())
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:             getEnv("DB_PATH", "./data/kaya.db"),
		LogLevel:           parseLevel(getEnv("LOG_LEVEL", "info")),
		SessionTTL:         getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		LedgerRetention:    getEnvDuration("LEDGER_RETENTION", 7*24*time.Hour),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		Agent: AgentConfig{
			Backend:      strings.ToLower(getEnv("AGENT_BACKEND", BackendCLI)),
			CLIPath:      getEnv("AGENT_CLI_PATH", "claude"),
			WorkDir:      getEnv("AGENT_WORKDIR", ""),
			Timeout:      getEnvDuration("AGENT_TIMEOUT", 0),
			APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
			MaxTokens:    getEnvInt("AGENT_MAX_TOKENS", 4096),
			DefaultModel: defaultModel,
			ProfilePath:  getEnv("PROFILE_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Agent.Backend {
	case BackendCLI:
		if c.Agent.CLIPath == "" {
			return fmt.Errorf("AGENT_CLI_PATH cannot be empty")
		}
	case BackendAPI:
		if c.Agent.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AGENT_BACKEND=api")
		}
		if c.Agent.MaxTokens <= 0 {
			return fmt.Errorf("AGENT_MAX_TOKENS must be > 0")
		}
	default:
		return fmt.Errorf("AGENT_BACKEND must be %q or %q, got %q", BackendCLI, BackendAPI, c.Agent.Backend)
	}
	if c.Agent.Timeout < 0 {
		return fmt.Errorf("AGENT_TIMEOUT cannot be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

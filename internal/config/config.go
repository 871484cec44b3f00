// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port       string
	DBPath     string
	DevConsole bool

	Remote          RemoteConfig
	Channel         ChannelConfig
	Session         SessionConfig
	ConversationLog ConversationLogConfig
}

// RemoteConfig addresses the agent engine.
type RemoteConfig struct {
	// EngineID identifies the agent engine. Accepts a full resource path;
	// only the last "/" segment is used.
	EngineID       string
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// ChannelConfig holds the messaging platform credentials.
type ChannelConfig struct {
	Secret      string
	AccessToken string
	APIBase     string
}

// SessionConfig holds the session rotation policy.
type SessionConfig struct {
	MaxAge            time.Duration
	Quota             int
	FeedbackCacheSize int
	Retention         time.Duration
}

// ConversationLogConfig controls NDJSON conversation logging.
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

	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBPath:     getEnv("DB_PATH", "./data/agentbridge.db"),
		DevConsole: getEnvBool("DEV_CONSOLE_ENABLED", false),
		Remote: RemoteConfig{
			EngineID:       engineIDFromPath(getEnv("REMOTE_AGENT_ENGINE_ID", "")),
			BaseURL:        getEnv("REMOTE_AGENT_BASE_URL", "http://localhost:8700"),
			ConnectTimeout: getEnvDuration("REMOTE_AGENT_CONNECT_TIMEOUT", 5*time.Second),
			RequestTimeout: getEnvDuration("REMOTE_AGENT_REQUEST_TIMEOUT", 120*time.Second),
		},
		Channel: ChannelConfig{
			Secret:      getEnv("CHANNEL_SECRET", ""),
			AccessToken: getEnv("CHANNEL_ACCESS_TOKEN", ""),
			APIBase:     getEnv("CHANNEL_API_BASE", ""),
		},
		Session: SessionConfig{
			MaxAge:            getEnvDuration("SESSION_MAX_AGE", 24*time.Hour),
			Quota:             getEnvInt("SESSION_QUOTA", 10),
			FeedbackCacheSize: getEnvInt("FEEDBACK_CACHE_SIZE", 20),
			Retention:         getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
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
	if c.Remote.EngineID == "" {
		return fmt.Errorf("REMOTE_AGENT_ENGINE_ID must be set")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("REMOTE_AGENT_BASE_URL cannot be empty")
	}
	if !c.DevConsole && (c.Channel.Secret == "" || c.Channel.AccessToken == "" || c.Channel.APIBase == "") {
		return fmt.Errorf("CHANNEL_SECRET, CHANNEL_ACCESS_TOKEN and CHANNEL_API_BASE must be set unless DEV_CONSOLE_ENABLED=true")
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be > 0")
	}
	if c.Session.Quota <= 0 {
		return fmt.Errorf("SESSION_QUOTA must be > 0")
	}
	if c.Session.FeedbackCacheSize <= 0 {
		return fmt.Errorf("FEEDBACK_CACHE_SIZE must be > 0")
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

// engineIDFromPath reduces a full engine resource path
// ("projects/p/locations/l/reasoningEngines/1234") to its final segment.
func engineIDFromPath(raw string) string {
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "/"))
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		return raw[idx+1:]
	}
	return raw
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

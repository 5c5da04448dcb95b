package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// ProviderOpenAI is the real speech provider.
	ProviderOpenAI = "openai"
	// ProviderScripted replays canned provider responses, used for
	// local development and tests without an API key.
	ProviderScripted = "scripted"
)

// Config holds all runtime configuration, loaded from the environment
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Realtime RealtimeConfig
	Mongo    MongoConfig
	Session  SessionConfig
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host string
	Port string
}

// AuthConfig holds annotator authentication settings
type AuthConfig struct {
	JWTSecret string
	// AccessKey is the shared scriptorium key annotators present to
	// obtain a token.
	AccessKey string
	TokenTTL  time.Duration
}

// RealtimeConfig holds speech provider settings
type RealtimeConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// MongoConfig holds archive storage settings. An empty URI disables
// Mongo and the server falls back to the in-memory archive.
type MongoConfig struct {
	URI      string
	Database string
}

// SessionConfig holds annotation session housekeeping settings
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from environment variables, applying
// defaults for everything optional
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8080"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			AccessKey: getEnv("ANNOTATOR_ACCESS_KEY", ""),
			TokenTTL:  time.Duration(getEnvInt("TOKEN_TTL_HOURS", 12)) * time.Hour,
		},
		Realtime: RealtimeConfig{
			Provider: getEnv("REALTIME_PROVIDER", ProviderOpenAI),
			APIKey:   getEnv("OPENAI_API_KEY", ""),
			BaseURL:  getEnv("OPENAI_REALTIME_BASE_URL", "https://api.openai.com/v1"),
			Model:    getEnv("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", ""),
			Database: getEnv("MONGODB_DATABASE", "neumascribe"),
		},
		Session: SessionConfig{
			IdleTimeout:   time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT_MINUTES", 30)) * time.Minute,
			SweepInterval: time.Duration(getEnvInt("SESSION_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
		},
	}
}

// Validate checks that every required setting is present and names all
// the missing ones at once
func (c *Config) Validate() error {
	var missing []string

	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Auth.AccessKey == "" {
		missing = append(missing, "ANNOTATOR_ACCESS_KEY")
	}
	if c.Realtime.Provider == ProviderOpenAI && c.Realtime.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Realtime.Provider != ProviderOpenAI && c.Realtime.Provider != ProviderScripted {
		return fmt.Errorf("unknown REALTIME_PROVIDER %q", c.Realtime.Provider)
	}

	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay server and its clients.
type Config struct {
	Port string
	Env  string

	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAIStreamMode  bool
	OpenAITemperature float64

	MaxConcurrency int
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int

	HeartbeatInterval time.Duration

	// ChatLogDB is the sqlite path of the exchange log. Empty disables it.
	ChatLogDB string
}

// Defaults registers the default value of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8100")
	v.SetDefault("ENV", "development")
	v.SetDefault("OPENAI_MODEL", "gpt-3.5-turbo")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_STREAM_MODE", false)
	v.SetDefault("OPENAI_TEMPERATURE", 0.9)
	v.SetDefault("RELAY_MAX_CONCURRENCY", 5)
	v.SetDefault("RELAY_MAX_TOKENS", 256)
	v.SetDefault("RELAY_TIMEOUT", 5*time.Second)
	v.SetDefault("RELAY_MAX_RETRIES", 10)
	v.SetDefault("HEARTBEAT_INTERVAL", 5*time.Second)
	v.SetDefault("CHAT_LOG_DB", "")
}

// Load reads configuration from the environment, loading a .env file first
// if one is present. Values already set on v (flags) take precedence.
func Load(v *viper.Viper) *Config {
	_ = godotenv.Load()

	Defaults(v)
	v.AutomaticEnv()

	return FromViper(v)
}

func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Port:              v.GetString("PORT"),
		Env:               v.GetString("ENV"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		OpenAIModel:       v.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:     v.GetString("OPENAI_BASE_URL"),
		OpenAIStreamMode:  v.GetBool("OPENAI_STREAM_MODE"),
		OpenAITemperature: v.GetFloat64("OPENAI_TEMPERATURE"),
		MaxConcurrency:    v.GetInt("RELAY_MAX_CONCURRENCY"),
		MaxTokens:         v.GetInt("RELAY_MAX_TOKENS"),
		Timeout:           v.GetDuration("RELAY_TIMEOUT"),
		MaxRetries:        v.GetInt("RELAY_MAX_RETRIES"),
		HeartbeatInterval: v.GetDuration("HEARTBEAT_INTERVAL"),
		ChatLogDB:         v.GetString("CHAT_LOG_DB"),
	}

	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

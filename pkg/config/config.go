package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Retry      RetryConfig
	Breaker    BreakerConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	AllowOrigins       string
}

type LLMConfig struct {
	Provider            string
	APIKey              string
	BaseURL             string
	FastModel           string
	AdvancedModel       string
	ChatModel           string
	AdvancedCritique    bool
	Temperature         float32
	TopK                int
	TopP                float32
	MaxOutputTokens     int
	ChatMaxOutputTokens int
	TimeoutSec          int
}

type RetryConfig struct {
	MaxAttempts   int
	BaseDelayMs   int
	StreamDelayMs int
}

type BreakerConfig struct {
	FailureThreshold uint32
	TimeoutSec       int
}

type StorageConfig struct {
	Backend   string
	Namespace string
	SQLite    SQLiteConfig
	Redis     RedisConfig
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type UploadConfig struct {
	MaxFileSizeMB int
	Concurrency   int
}

type EvaluationConfig struct {
	Enabled    bool
	TimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c BreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c RetryConfig) StreamDelay() time.Duration {
	return time.Duration(c.StreamDelayMs) * time.Millisecond
}

func (c UploadConfig) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paperlens")

	v.SetEnvPrefix("PAPERLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	switch c.Storage.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.rateLimitPerMinute", 120)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.fastModel", "gemini-2.5-flash")
	v.SetDefault("llm.advancedModel", "gemini-2.5-pro")
	v.SetDefault("llm.chatModel", "gemini-2.5-flash")
	v.SetDefault("llm.advancedCritique", false)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.topK", 40)
	v.SetDefault("llm.topP", 0.95)
	v.SetDefault("llm.maxOutputTokens", 4096)
	v.SetDefault("llm.chatMaxOutputTokens", 1024)
	v.SetDefault("llm.timeoutSec", 120)

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.baseDelayMs", 1000)
	v.SetDefault("retry.streamDelayMs", 1000)

	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.timeoutSec", 30)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.namespace", "paperlens-storage")
	v.SetDefault("storage.sqlite.path", "./data/paperlens.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("upload.maxFileSizeMB", 50)
	v.SetDefault("upload.concurrency", 4)

	v.SetDefault("evaluation.enabled", true)
	v.SetDefault("evaluation.timeoutSec", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

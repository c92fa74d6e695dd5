// Package config loads service configuration from a YAML file and
// LOGSINK_-prefixed environment variables via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener and authentication.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
	RateLimit    RateLimit     `mapstructure:"rate_limit"`
}

// CORSConfig configures cross-origin headers.
type CORSConfig struct {
	Origin  string `mapstructure:"origin"`
	Methods string `mapstructure:"methods"`
	Headers string `mapstructure:"headers"`
}

// RateLimit configures the per-client token bucket.
type RateLimit struct {
	Enabled    bool          `mapstructure:"enabled"`
	Limit      float64       `mapstructure:"limit"`
	Burst      int           `mapstructure:"burst"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Name              string        `mapstructure:"name"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	PoolMax           int           `mapstructure:"pool_max"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	SSL               bool          `mapstructure:"ssl"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := "disable"
	if d.SSL {
		sslmode = "require"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, sslmode, int(d.ConnectionTimeout.Seconds()))
}

// StorageConfig configures the image blob directory.
type StorageConfig struct {
	ImagesDir         string   `mapstructure:"images_dir"`
	MaxImageSize      int64    `mapstructure:"max_image_size"`
	AllowedImageTypes []string `mapstructure:"allowed_image_types"`
}

// LLMConfig configures the similarity-refinement LLM.
type LLMConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// EmbeddingConfig configures the embedding provider and background worker.
type EmbeddingConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Model               string        `mapstructure:"model"`
	APIKey              string        `mapstructure:"api_key"`
	Endpoint            string        `mapstructure:"endpoint"`
	Dimensions          int           `mapstructure:"dimensions"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	Interval            time.Duration `mapstructure:"interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// CleanupConfig configures the periodic cleanup engine.
type CleanupConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Interval           string  `mapstructure:"interval"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
	MaxAgeDays         int     `mapstructure:"max_age"`
	BatchSize          int     `mapstructure:"batch_size"`
}

// BlacklistConfig configures the pattern cache.
type BlacklistConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AutoDelete   bool          `mapstructure:"auto_delete"`
	CacheTimeout time.Duration `mapstructure:"cache_timeout"`
}

// CacheConfig selects the embedding-result cache backend.
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory or redis
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	Size     int    `mapstructure:"size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from LOGSINK_CONFIG_FILE (default
// configs/config.yaml) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("LOGSINK_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("LOGSINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is not required if environment variables are set.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(configFile); statErr == nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants a running service depends on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Embedding.Enabled && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required when embedding is enabled")
	}
	if c.Embedding.SimilarityThreshold < 0 || c.Embedding.SimilarityThreshold > 1 {
		return fmt.Errorf("embedding.similarity_threshold must be in [0,1]")
	}
	if c.Cleanup.DuplicateThreshold < 0 || c.Cleanup.DuplicateThreshold > 1 {
		return fmt.Errorf("cleanup.duplicate_threshold must be in [0,1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.cors.origin", "*")
	v.SetDefault("server.cors.methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	v.SetDefault("server.cors.headers", "Content-Type, Authorization, X-API-Key")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.limit", 100)
	v.SetDefault("server.rate_limit.burst", 150)
	v.SetDefault("server.rate_limit.expiration", time.Hour)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "logsink")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.pool_max", 25)
	v.SetDefault("database.idle_timeout", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 10*time.Second)
	v.SetDefault("database.ssl", false)

	v.SetDefault("storage.images_dir", "data/images")
	v.SetDefault("storage.max_image_size", int64(10*1024*1024))
	v.SetDefault("storage.allowed_image_types", []string{"png", "jpeg", "jpg", "gif", "webp"})

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.temperature", 0.0)

	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.endpoint", "https://api.openai.com/v1/embeddings")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.similarity_threshold", 0.85)
	v.SetDefault("embedding.interval", 2*time.Minute)
	v.SetDefault("embedding.batch_size", 20)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", "02:00")
	v.SetDefault("cleanup.duplicate_threshold", 0.85)
	v.SetDefault("cleanup.max_age", 30)
	v.SetDefault("cleanup.batch_size", 100)

	v.SetDefault("blacklist.enabled", true)
	v.SetDefault("blacklist.auto_delete", false)
	v.SetDefault("blacklist.cache_timeout", 5*time.Minute)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.size", 1024)

	v.SetDefault("log.level", "info")
}

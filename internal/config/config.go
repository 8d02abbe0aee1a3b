package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Cache   CacheConfig   `mapstructure:"cache"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port    string    `mapstructure:"port" validate:"required,numeric"`
	BaseURL string    `mapstructure:"base_url" validate:"required,url"`
	TLS     TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS-specific configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"keyFile" validate:"required_if=Enabled true"`
}

// DBConfig holds database-specific configuration.
type DBConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=mysql sqlite sqlite3"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// CacheConfig holds configuration for the derived-value cache.
type CacheConfig struct {
	Driver     string        `mapstructure:"driver" validate:"required,oneof=sqlite memory"`
	FilePath   string        `mapstructure:"file_path" validate:"required_if=Driver sqlite"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// OIDCConfig holds OIDC client configuration.
type OIDCConfig struct {
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	// Admins are granted the admin role when they sign in.
	Admins []string `mapstructure:"admins"`
}

// SessionConfig holds session cookie configuration.
type SessionConfig struct {
	SecretKey string `mapstructure:"secretkey"`
	Lifetime  int    `mapstructure:"lifetime" validate:"gte=1"` // hours
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// EngineConfig tunes the content graph engine.
type EngineConfig struct {
	MaxWalkDistance      int           `mapstructure:"max_walk_distance" validate:"gte=1"`
	RecommendInterval    time.Duration `mapstructure:"recommend_interval"`
	RecommendIterations  int           `mapstructure:"recommend_iterations" validate:"gte=0"`
	RecommendConcurrency int           `mapstructure:"recommend_concurrency" validate:"gte=1"`
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch       int           `mapstructure:"reconcile_batch" validate:"gte=1"`
	DefaultRead          []string      `mapstructure:"default_read" validate:"min=1"`
	DefaultWrite         []string      `mapstructure:"default_write" validate:"min=1"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "wiki.db")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.file_path", "cache.db")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("session.lifetime", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("engine.max_walk_distance", 5)
	v.SetDefault("engine.recommend_interval", "1h")
	v.SetDefault("engine.recommend_iterations", 20)
	v.SetDefault("engine.recommend_concurrency", 4)
	v.SetDefault("engine.reconcile_interval", "1m")
	v.SetDefault("engine.reconcile_batch", 100)
	v.SetDefault("engine.default_read", []string{"all"})
	v.SetDefault("engine.default_write", []string{"login"})
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	// Set up viper to read from config file
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/go-wiki-engine/")
	v.AddConfigPath("$HOME/.go-wiki-engine")

	// Attempt to read the config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	v.SetEnvPrefix("WIKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Package config provides Viper-based configuration for headliner
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete headliner configuration
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Badger    BadgerConfig    `mapstructure:"badger"`
	Server    ServerConfig    `mapstructure:"server"`
	Headlines HeadlinesConfig `mapstructure:"headlines"`
	Log       LogConfig       `mapstructure:"log"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	MaxViews int    `mapstructure:"max_views"`
}

// HeadlinesConfig controls what headline lists show by default
type HeadlinesConfig struct {
	FreshMaxAge time.Duration `mapstructure:"fresh_max_age"`
	OnlyUnread  bool          `mapstructure:"only_unread"`
	OldestFirst bool          `mapstructure:"oldest_first"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file and environment variables.
// An explicit v lets callers bind flags before loading; nil uses a fresh
// instance.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".headliner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/headliner")
	}

	v.SetEnvPrefix("HEADLINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("badger.path", "./badger-data")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_views", 64)
	v.SetDefault("headlines.fresh_max_age", "24h")
	v.SetDefault("headlines.only_unread", false)
	v.SetDefault("headlines.oldest_first", false)
	v.SetDefault("log.level", "info")
}

func validate(cfg *Config) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if cfg.Server.MaxViews <= 0 {
		return fmt.Errorf("server.max_views must be positive, got %d", cfg.Server.MaxViews)
	}
	if cfg.Headlines.FreshMaxAge <= 0 {
		return fmt.Errorf("headlines.fresh_max_age must be positive, got %s", cfg.Headlines.FreshMaxAge)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", cfg.Log.Level)
	}
	return nil
}

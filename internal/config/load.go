package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// ATSPRO_SERVER_PORT or ATSPRO_DATABASE_URL.
const envPrefix = "ATSPRO"

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables. Environment variables take
// precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file; absence is not an error.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables with the ATSPRO_ prefix override everything;
	// nested keys use underscores (server.port -> ATSPRO_SERVER_PORT).
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the conservative defaults for every tunable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.pool_timeout", 5*time.Second)

	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.dequeue_timeout", 5*time.Second)
	v.SetDefault("worker.lease_ttl", 30*time.Second)
	v.SetDefault("worker.heartbeat_interval", 10*time.Second)
	v.SetDefault("worker.handler_timeout", 2*time.Minute)
	v.SetDefault("worker.sweep_interval", 15*time.Second)
	v.SetDefault("worker.stuck_task_age", 5*time.Minute)
	v.SetDefault("worker.retention_age", 720*time.Hour)
	v.SetDefault("worker.max_retries", 3)
}

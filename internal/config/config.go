// Package config loads and validates application configuration from the
// environment and optional config files.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all durable task store settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"required,gt=0"`
}

// RedisConfig contains all queue broker settings. The pool is bounded:
// when PoolSize connections are busy, acquisition waits at most PoolTimeout
// and then fails, rather than opening unbounded connections.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"         validate:"required"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"           validate:"gte=0"`
	PoolSize    int           `mapstructure:"pool_size"    validate:"required,gt=0"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout" validate:"required"`
}

// AuthConfig contains all authentication settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"required"`
}

// WorkerConfig contains all worker pool and sweep tuning settings.
// These are the operational constants the design leaves to the deployment;
// the defaults set in Load are conservative.
type WorkerConfig struct {
	// Count is the number of concurrent worker slots.
	Count int `mapstructure:"count" validate:"required,gt=0"`

	// DequeueTimeout bounds how long a worker blocks waiting for work
	// before looping.
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout" validate:"required"`

	// LeaseTTL is the in-flight claim duration; a worker must heartbeat
	// within it or the task is reclaimed.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" validate:"required"`

	// HeartbeatInterval is how often an executing worker extends its lease.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required"`

	// HandlerTimeout caps a single handler execution so a slow external
	// dependency cannot occupy a worker slot indefinitely.
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"required"`

	// SweepInterval is how often the lease-expiry and stuck-task sweeps run.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`

	// StuckTaskAge is how long a task may sit in running with no store
	// update before the store-side sweep treats its worker as dead.
	StuckTaskAge time.Duration `mapstructure:"stuck_task_age" validate:"required"`

	// RetentionAge is how long terminal records are kept before the
	// retention sweep purges them.
	RetentionAge time.Duration `mapstructure:"retention_age" validate:"required"`

	// MaxRetries bounds automatic re-queues per task.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

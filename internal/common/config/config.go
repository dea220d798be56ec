// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds the cache-aside and stampede-protection settings.
// All durations are milliseconds in the config file.
type CacheConfig struct {
	TTL          int `mapstructure:"ttl"`           // cached search result lifetime
	LockLease    int `mapstructure:"lock_lease"`    // per-key lock lease, bounded to expected compute time
	WaitTimeout  int `mapstructure:"wait_timeout"`  // total time a contender polls before computing locally
	PollInterval int `mapstructure:"poll_interval"` // initial poll backoff, doubles up to wait_timeout
}

func (c CacheConfig) TTLDuration() time.Duration { return time.Duration(c.TTL) * time.Millisecond }

func (c CacheConfig) LockLeaseDuration() time.Duration {
	return time.Duration(c.LockLease) * time.Millisecond
}

func (c CacheConfig) WaitTimeoutDuration() time.Duration {
	return time.Duration(c.WaitTimeout) * time.Millisecond
}

func (c CacheConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// ScoringConfig holds the conversion metric knobs.
//
// DistanceDivisor scales the distance fed into the 1/(1+d) proximity term.
// The upstream formula uses raw meters (divisor 1), which makes the term decay
// within a few meters of the query point; set 1000 for kilometer-scale decay.
// Changing it changes ranking semantics, so it is config, not code.
type ScoringConfig struct {
	DistanceDivisor float64 `mapstructure:"distance_divisor"`
}

// RepositoryConfig selects the candidate source backend.
type RepositoryConfig struct {
	Driver string `mapstructure:"driver"` // "postgres" or "elasticsearch"
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

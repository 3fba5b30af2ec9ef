// Package config loads engine settings from file, environment and defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. CONTENTVCS_LOG_LEVEL
const EnvPrefix = "CONTENTVCS"

// Backup backends
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Config is the full engine configuration
type Config struct {
	Log     LogConfig
	Engine  EngineConfig
	Journal JournalConfig
	Backup  BackupConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type EngineConfig struct {
	MaxVersions                int
	SignificantChangeThreshold int
}

type JournalConfig struct {
	Path string // empty keeps state in memory only
	Sync bool
}

type BackupConfig struct {
	Backend      string
	Dir          string
	SQLitePath   string
	Retention    time.Duration
	Timeout      time.Duration
	Retry        RetryConfig
	SweepWorkers int
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

type MetricsConfig struct {
	Addr string
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("engine.max_versions", 100)
	v.SetDefault("engine.significant_change_threshold", 10)
	v.SetDefault("journal.path", "")
	v.SetDefault("journal.sync", true)
	v.SetDefault("backup.backend", BackendMemory)
	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.sqlite_path", "backups.db")
	v.SetDefault("backup.retention", 30*24*time.Hour)
	v.SetDefault("backup.timeout", 10*time.Second)
	v.SetDefault("backup.retry.max_attempts", 3)
	v.SetDefault("backup.retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("backup.retry.max_delay", 2*time.Second)
	v.SetDefault("backup.retry.multiplier", 2.0)
	v.SetDefault("backup.sweep_workers", 4)
	v.SetDefault("metrics.addr", ":9464")
}

// New returns a viper instance with defaults and environment overrides
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file when given, then decodes v into a Config
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper decodes the current values of v
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
		Engine: EngineConfig{
			MaxVersions:                v.GetInt("engine.max_versions"),
			SignificantChangeThreshold: v.GetInt("engine.significant_change_threshold"),
		},
		Journal: JournalConfig{
			Path: v.GetString("journal.path"),
			Sync: v.GetBool("journal.sync"),
		},
		Backup: BackupConfig{
			Backend:    strings.ToLower(v.GetString("backup.backend")),
			Dir:        v.GetString("backup.dir"),
			SQLitePath: v.GetString("backup.sqlite_path"),
			Retention:  v.GetDuration("backup.retention"),
			Timeout:    v.GetDuration("backup.timeout"),
			Retry: RetryConfig{
				MaxAttempts:  v.GetInt("backup.retry.max_attempts"),
				InitialDelay: v.GetDuration("backup.retry.initial_delay"),
				MaxDelay:     v.GetDuration("backup.retry.max_delay"),
				Multiplier:   v.GetFloat64("backup.retry.multiplier"),
			},
			SweepWorkers: v.GetInt("backup.sweep_workers"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Backup.Backend {
	case BackendMemory, BackendFS, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("backup.backend: unknown backend %q", c.Backup.Backend))
	}
	if c.Backup.Backend == BackendFS && c.Backup.Dir == "" {
		errs = append(errs, errors.New("backup.dir: required for the fs backend"))
	}
	if c.Backup.Backend == BackendSQLite && c.Backup.SQLitePath == "" {
		errs = append(errs, errors.New("backup.sqlite_path: required for the sqlite backend"))
	}
	if c.Engine.MaxVersions < 1 {
		errs = append(errs, fmt.Errorf("engine.max_versions: must be positive, got %d", c.Engine.MaxVersions))
	}
	if c.Engine.SignificantChangeThreshold < 0 {
		errs = append(errs, fmt.Errorf("engine.significant_change_threshold: must not be negative"))
	}
	if c.Backup.Retention <= 0 {
		errs = append(errs, errors.New("backup.retention: must be positive"))
	}
	if c.Backup.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("backup.retry.max_attempts: must be at least 1"))
	}
	return errors.Join(errs...)
}

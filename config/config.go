package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
	Status   StatusConfig   `yaml:"status"`
}

// Directory maps a remote directory to the machine-type code of the machines writing into it.
type Directory struct {
	Name        string `yaml:"name"`
	MachineType string `yaml:"machine_type"`
}

// SourceConfig holds the remote file store configuration.
type SourceConfig struct {
	Kind           string        `yaml:"kind"` // ftp, sftp or local
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeyFile        string        `yaml:"key_file"`
	KnownHosts     string        `yaml:"known_hosts"`
	Root           string        `yaml:"root"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	FileSuffix     string        `yaml:"file_suffix"`
	OpsPerSecond   float64       `yaml:"ops_per_second"`
	Directories    []Directory   `yaml:"directories"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres, mysql or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// ScheduleConfig selects when runs are triggered. Cron wins over DailyAt, which wins over the interval.
type ScheduleConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	DailyAt         string `yaml:"daily_at"` // "HH:MM"
	Cron            string `yaml:"cron"`
	RunOnStart      *bool  `yaml:"run_on_start"`
	Timezone        string `yaml:"timezone"`
}

// IngestConfig holds the per-run processing options.
type IngestConfig struct {
	DeleteAfterProcessing bool   `yaml:"delete_after_processing"`
	Workers               int    `yaml:"workers"`
	DedupeTTLMinutes      int    `yaml:"dedupe_ttl_minutes"`
	LogTimezone           string `yaml:"log_timezone"`
}

// LogConfig holds the slog configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StatusConfig holds the optional operator status server configuration.
type StatusConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DefaultDirectories is the directory table the production floor ships with.
func DefaultDirectories() []Directory {
	return []Directory{
		{Name: "DEM12 (PVC)", MachineType: "PVC"},
		{Name: "DEMALU (ALU)", MachineType: "ALU"},
		{Name: "SU12 (HYBRIDE)", MachineType: "HYBRIDE"},
	}
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets stay out of the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SOURCE_PASSWORD"); v != "" {
		c.Source.Password = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = "ftp"
	}
	if c.Source.Port <= 0 {
		switch c.Source.Kind {
		case "sftp":
			c.Source.Port = 22
		default:
			c.Source.Port = 21
		}
	}
	if c.Source.Root == "" {
		c.Source.Root = "/"
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = 30
	}
	c.Source.Timeout = time.Duration(c.Source.TimeoutSeconds) * time.Second
	if c.Source.FileSuffix == "" {
		c.Source.FileSuffix = ".LOG"
	}
	if len(c.Source.Directories) == 0 {
		c.Source.Directories = DefaultDirectories()
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetimeMinutes <= 0 {
		c.Database.ConnMaxLifetimeMinutes = 30
	}

	if c.Schedule.IntervalMinutes <= 0 && c.Schedule.DailyAt == "" && c.Schedule.Cron == "" {
		c.Schedule.DailyAt = "08:00"
	}
	if c.Schedule.RunOnStart == nil {
		runOnStart := true
		c.Schedule.RunOnStart = &runOnStart
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Local"
	}

	if c.Ingest.Workers <= 0 {
		slog.Info("ingest.workers is not set or invalid; defaulting to 1")
		c.Ingest.Workers = 1
	}
	if c.Ingest.LogTimezone == "" {
		c.Ingest.LogTimezone = "UTC"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Status.Port <= 0 {
		c.Status.Port = 8080
	}
	if c.Status.RateLimitPerSec <= 0 {
		c.Status.RateLimitPerSec = 5
	}
	if c.Status.CacheTTLSeconds <= 0 {
		c.Status.CacheTTLSeconds = 5
	}
}

// Validate reports configuration mistakes that would only surface at run time.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "ftp", "sftp":
		if c.Source.Host == "" {
			return fmt.Errorf("source.host is required for %s sources", c.Source.Kind)
		}
	case "local":
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}

	seen := make(map[string]bool, len(c.Source.Directories))
	for _, d := range c.Source.Directories {
		if d.Name == "" || d.MachineType == "" {
			return fmt.Errorf("source.directories entries need both name and machine_type")
		}
		if seen[d.Name] {
			return fmt.Errorf("source.directories lists %q twice", d.Name)
		}
		seen[d.Name] = true
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Schedule.DailyAt != "" {
		if _, _, err := ParseClock(c.Schedule.DailyAt); err != nil {
			return err
		}
	}
	for _, tz := range []string{c.Schedule.Timezone, c.Ingest.LogTimezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q, want HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

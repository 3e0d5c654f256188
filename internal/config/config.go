package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSheets = "sheets"
	BackendCSV    = "csv"

	DefaultBinary          = "speedtest"
	DefaultBackend         = BackendSheets
	DefaultCredentialsFile = "secret.json"
	DefaultTokenFile       = "auth_cache.json"
	DefaultCSVDir          = "tables"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultStatsWindow     = "24h"
)

// Config holds every setting of a bwmon run.
type Config struct {
	Probe       ProbeConfig    `yaml:"probe"`
	Store       StoreConfig    `yaml:"store"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Logging     LoggingConfig  `yaml:"logging"`
	STUNServers []string       `yaml:"stun_servers,omitempty"`
}

// ProbeConfig controls the speedtest CLI invocation.
type ProbeConfig struct {
	Binary        string `yaml:"binary"`
	AcceptLicense bool   `yaml:"accept_license"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// StoreConfig selects and configures the table backend.
type StoreConfig struct {
	Backend         string `yaml:"backend"` // sheets|csv
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CSVDir          string `yaml:"csv_dir"`
	CacheTables     bool   `yaml:"cache_tables"`
}

// ScheduleConfig makes the run periodic. An empty interval means one-shot.
type ScheduleConfig struct {
	Interval    string `yaml:"interval"`
	StatsWindow string `yaml:"stats_window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Caller bool   `yaml:"caller"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	switch cfg.Store.Backend {
	case BackendSheets:
		if cfg.Store.SpreadsheetID == "" {
			return fmt.Errorf("store.spreadsheet_id is required for the sheets backend")
		}
		if cfg.Store.CredentialsFile == "" {
			return fmt.Errorf("store.credentials_file is required for the sheets backend")
		}
	case BackendCSV:
		if cfg.Store.CSVDir == "" {
			return fmt.Errorf("store.csv_dir is required for the csv backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}
	if cfg.Probe.TimeoutSec < 0 {
		return fmt.Errorf("probe.timeout_sec must not be negative")
	}
	if _, err := cfg.Schedule.IntervalDuration(); err != nil {
		return err
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", cfg.Logging.Level)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Probe.Binary == "" {
		cfg.Probe.Binary = DefaultBinary
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultBackend
	}
	if cfg.Store.CredentialsFile == "" {
		cfg.Store.CredentialsFile = DefaultCredentialsFile
	}
	if cfg.Store.TokenFile == "" {
		cfg.Store.TokenFile = DefaultTokenFile
	}
	if cfg.Store.CSVDir == "" {
		cfg.Store.CSVDir = DefaultCSVDir
	}
	if cfg.Schedule.StatsWindow == "" {
		cfg.Schedule.StatsWindow = DefaultStatsWindow
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// IntervalDuration parses the schedule interval; empty means zero.
func (s ScheduleConfig) IntervalDuration() (time.Duration, error) {
	if s.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("schedule.interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("schedule.interval must not be negative")
	}
	return d, nil
}

// ProbeTimeout is the per-invocation limit, zero for none.
func (p ProbeConfig) ProbeTimeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

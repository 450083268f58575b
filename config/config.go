package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MegAtonBoom/bookkeeper/core"
	"gopkg.in/yaml.v3"
)

// JournalConfig holds journal-specific configurations.
type JournalConfig struct {
	Dirs               []string `yaml:"dirs"`
	MaxSizeBytes       int64    `yaml:"max_size_bytes"`
	WriteBufferBytes   int      `yaml:"write_buffer_bytes"`
	ReadBufferBytes    int      `yaml:"read_buffer_bytes"`
	PreallocSizeBytes  int64    `yaml:"prealloc_size_bytes"`
	SyncInterval       string   `yaml:"sync_interval"`
	MaxBackupJournals  int      `yaml:"max_backup_journals"`
	ArchiveDir         string   `yaml:"archive_dir"`
	ArchiveCompression string   `yaml:"archive_compression"` // "none", "snappy", "lz4" or "zstd"
}

// BookieConfig holds all storage-node configurations.
type BookieConfig struct {
	LedgerDirs         []string      `yaml:"ledger_dirs"`
	DiskUsageThreshold float64       `yaml:"disk_usage_threshold"` // fraction of the disk, 0 disables the check
	LockTimeout        string        `yaml:"lock_timeout"`
	Journal            JournalConfig `yaml:"journal"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddress  string `yaml:"listen_address"`
	PProfEnabled   bool   `yaml:"pprof_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Bookie  BookieConfig  `yaml:"bookie"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Debug   DebugConfig   `yaml:"debug"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Validate reports settings the bookie cannot start with.
func (c *Config) Validate() error {
	var errs []error
	b := c.Bookie
	if len(b.Journal.Dirs) == 0 {
		errs = append(errs, errors.New("bookie.journal.dirs must not be empty"))
	}
	if len(b.LedgerDirs) == 0 {
		errs = append(errs, errors.New("bookie.ledger_dirs must not be empty"))
	}
	if b.Journal.WriteBufferBytes <= 0 || b.Journal.ReadBufferBytes <= 0 {
		errs = append(errs, errors.New("bookie.journal buffer sizes must be positive"))
	}
	if b.Journal.MaxSizeBytes <= core.FileHeaderSize {
		errs = append(errs, fmt.Errorf("bookie.journal.max_size_bytes must exceed %d", core.FileHeaderSize))
	}
	if b.Journal.MaxBackupJournals < 0 {
		errs = append(errs, errors.New("bookie.journal.max_backup_journals must not be negative"))
	}
	if _, ok := core.ParseCompressionType(b.Journal.ArchiveCompression); !ok {
		errs = append(errs, fmt.Errorf("bookie.journal.archive_compression: unknown compression %q", b.Journal.ArchiveCompression))
	}
	if b.DiskUsageThreshold < 0 || b.DiskUsageThreshold > 1 {
		errs = append(errs, fmt.Errorf("bookie.disk_usage_threshold must be within [0, 1], got %v", b.DiskUsageThreshold))
	}
	return errors.Join(errs...)
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Bookie: BookieConfig{
			LedgerDirs:         []string{"./data/ledgers"},
			DiskUsageThreshold: 0.95,
			LockTimeout:        "5s",
			Journal: JournalConfig{
				Dirs:               []string{"./data/journal"},
				MaxSizeBytes:       2 * 1024 * 1024 * 1024, // 2 GiB
				WriteBufferBytes:   64 * 1024,
				ReadBufferBytes:    64 * 1024,
				PreallocSizeBytes:  16 * 1024 * 1024, // 16 MiB
				SyncInterval:       "2ms",
				MaxBackupJournals:  5,
				ArchiveCompression: "none",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "bookie.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:        false,
			ListenAddress:  "0.0.0.0:6060",
			PProfEnabled:   true,
			MetricsEnabled: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

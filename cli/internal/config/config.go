package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BDNK1/gimo/runtime"
	"github.com/BDNK1/gimo/runtime/archive/remote"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. GIMO_LOG_LEVEL.
const EnvPrefix = "GIMO"

// DefaultPluginDir is loaded when no files are given.
const DefaultPluginDir = "plugins"

// LaunchConfig represents the launcher configuration file.
// Files are loaded when none are given on the command line; an empty Start
// starts everything loaded. StateFile is a JSON datastore restored before
// run and saved after. ArchiveCache is where http(s) archives are downloaded.
type LaunchConfig struct {
	Paths              []string      `yaml:"paths"`
	Files              []string      `yaml:"files"`
	Start              []string      `yaml:"start"`
	Silent             bool          `yaml:"silent"`
	StateFile          string        `yaml:"state_file"`
	AdminAddr          string        `yaml:"admin_addr" validate:"omitempty,hostname_port"`
	LogLevel           string        `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	AsyncWorkers       int           `yaml:"async_workers" default:"8" validate:"gte=1,lte=1024"`
	DisableModuleCache bool          `yaml:"disable_module_cache"`
	ArchiveCache       string        `yaml:"archive_cache"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" default:"30s" validate:"gte=1s"`
	FetchRetries       int           `yaml:"fetch_retries" default:"3" validate:"gte=0,lte=10"`
}

// envOverrides mirrors LaunchConfig for envconfig. Pointer fields stay nil
// when the variable is unset so file values survive.
type envOverrides struct {
	Paths              []string       `envconfig:"PATHS"`
	Start              []string       `envconfig:"START"`
	Silent             *bool          `envconfig:"SILENT"`
	StateFile          *string        `envconfig:"STATE_FILE"`
	AdminAddr          *string        `envconfig:"ADMIN_ADDR"`
	LogLevel           *string        `envconfig:"LOG_LEVEL"`
	AsyncWorkers       *int           `envconfig:"ASYNC_WORKERS"`
	DisableModuleCache *bool          `envconfig:"DISABLE_MODULE_CACHE"`
	ArchiveCache       *string        `envconfig:"ARCHIVE_CACHE"`
	FetchTimeout       *time.Duration `envconfig:"FETCH_TIMEOUT"`
	FetchRetries       *int           `envconfig:"FETCH_RETRIES"`
}

// Load builds the launcher config: struct defaults, then the YAML file at
// path when path is not empty, then GIMO_* environment overrides, then
// validation.
func Load(path string) (*LaunchConfig, error) {
	var cfg LaunchConfig
	if err := runtime.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read launcher config from %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse launcher config %q: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read %s_* environment: %w", EnvPrefix, err)
	}
	env.apply(&cfg)

	if err := runtime.PrepareConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (e *envOverrides) apply(cfg *LaunchConfig) {
	if len(e.Paths) > 0 {
		cfg.Paths = e.Paths
	}
	if len(e.Start) > 0 {
		cfg.Start = e.Start
	}
	if e.Silent != nil {
		cfg.Silent = *e.Silent
	}
	if e.StateFile != nil {
		cfg.StateFile = *e.StateFile
	}
	if e.AdminAddr != nil {
		cfg.AdminAddr = *e.AdminAddr
	}
	if e.LogLevel != nil {
		cfg.LogLevel = *e.LogLevel
	}
	if e.AsyncWorkers != nil {
		cfg.AsyncWorkers = *e.AsyncWorkers
	}
	if e.DisableModuleCache != nil {
		cfg.DisableModuleCache = *e.DisableModuleCache
	}
	if e.ArchiveCache != nil {
		cfg.ArchiveCache = *e.ArchiveCache
	}
	if e.FetchTimeout != nil {
		cfg.FetchTimeout = *e.FetchTimeout
	}
	if e.FetchRetries != nil {
		cfg.FetchRetries = *e.FetchRetries
	}
}

// Runtime returns the Context settings.
func (c *LaunchConfig) Runtime() runtime.Config {
	return runtime.Config{
		Paths:              c.Paths,
		DisableModuleCache: c.DisableModuleCache,
		AsyncWorkers:       c.AsyncWorkers,
	}
}

// Remote returns the archive fetcher settings. The cache defaults to a
// directory under os.TempDir.
func (c *LaunchConfig) Remote() remote.Config {
	dir := c.ArchiveCache
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gimo-archives")
	}
	return remote.Config{
		CacheDir:   dir,
		Timeout:    c.FetchTimeout,
		MaxRetries: c.FetchRetries,
	}
}

// Level maps LogLevel to a slog level.
func (c *LaunchConfig) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config holds the process configuration: defaults, the optional
// workspace file and environment overrides, merged through viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// EnvPrefix namespaces environment overrides, STAGECOACH_JOBS and so on.
const EnvPrefix = "STAGECOACH"

// FileName is the optional per-workspace configuration file, looked up as
// .stagecoach.yaml in the workspace root.
const FileName = ".stagecoach"

// Config is the merged configuration for one invocation.
type Config struct {
	// Manifest is the pipeline file; empty means discover stagecoach.star
	// or stagecoach.yaml in the workspace.
	Manifest string `mapstructure:"manifest"`
	// RootDir moves the process into another workspace before anything
	// else happens; artifact paths stay relative to it.
	RootDir string `mapstructure:"root_dir"`
	// Jobs is the number of concurrent workers.
	Jobs int `mapstructure:"jobs"`
	// ReportDir receives one JSON report per run; empty disables reports.
	ReportDir string `mapstructure:"report_dir"`

	Cache CacheConfig `mapstructure:"cache"`
	Log   LogConfig   `mapstructure:"log"`
	Watch WatchConfig `mapstructure:"watch"`
}

// CacheConfig controls the content-addressed artifact cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	// Remote is the base URL of an HTTP cache tier; empty keeps the cache
	// local only.
	Remote string `mapstructure:"remote"`
	// Push uploads entries produced locally to the remote tier.
	Push bool `mapstructure:"push"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WatchConfig controls the rebuild-on-change loop.
type WatchConfig struct {
	// Debounce is how long the watcher lets the file system settle before
	// replanning.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Jobs:      1,
		ReportDir: ".stagecoach/runs",
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".stagecoach/cache",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
	}
}

// SetDefaults seeds viper so files, environment and flags only override.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("manifest", defaults.Manifest)
	v.SetDefault("root_dir", defaults.RootDir)
	v.SetDefault("jobs", defaults.Jobs)
	v.SetDefault("report_dir", defaults.ReportDir)

	v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	v.SetDefault("cache.dir", defaults.Cache.Dir)
	v.SetDefault("cache.remote", defaults.Cache.Remote)
	v.SetDefault("cache.push", defaults.Cache.Push)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("watch.debounce", defaults.Watch.Debounce)
}

// Load unmarshals the merged configuration and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, workflow.Configf("failed to decode configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	validLevels  = []string{"", "debug", "info", "warn", "warning", "error"}
	validFormats = []string{"", "text", "json"}
)

// Validate reports every invalid value in one configuration error.
func (c *Config) Validate() error {
	var problems []string

	if c.Jobs < 1 {
		problems = append(problems, fmt.Sprintf("jobs: must be at least 1 (got %d)", c.Jobs))
	}
	if c.Watch.Debounce < 10*time.Millisecond {
		problems = append(problems, fmt.Sprintf("watch.debounce: must be at least 10ms (got %s)", c.Watch.Debounce))
	}
	if c.Cache.Remote != "" {
		u, err := url.Parse(c.Cache.Remote)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("cache.remote: must be an http or https URL (got %q)", c.Cache.Remote))
		}
	}
	if !slices.Contains(validLevels, strings.ToLower(c.Log.Level)) {
		problems = append(problems, fmt.Sprintf("log.level: must be one of debug, info, warn, error (got %q)", c.Log.Level))
	}
	if !slices.Contains(validFormats, strings.ToLower(c.Log.Format)) {
		problems = append(problems, fmt.Sprintf("log.format: must be text or json (got %q)", c.Log.Format))
	}

	if len(problems) > 0 {
		return workflow.Configf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

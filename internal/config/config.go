// Package config loads the TOML configuration file and resolves the
// wise-magpie config directory (database, pid file, log file).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// ConfigDirEnv overrides the default config directory when set.
const ConfigDirEnv = "WISE_MAGPIE_CONFIG_DIR"

const (
	configFileName = "config.toml"
	dbFileName     = "wise-magpie.db"
	pidFileName    = "wise-magpie.pid"
	logFileName    = "wise-magpie.log"
)

// QuotaConfig controls the rolling message-quota window.
type QuotaConfig struct {
	WindowHours  int            `toml:"window_hours"`
	SafetyMargin float64        `toml:"safety_margin"`
	Limits       map[string]int `toml:"limits"` // keyed by alias or full id
}

// BudgetConfig caps autonomous USD spend.
type BudgetConfig struct {
	MaxTaskUSD  float64 `toml:"max_task_usd"`
	MaxDailyUSD float64 `toml:"max_daily_usd"`
}

// ActivityConfig tunes idle detection.
type ActivityConfig struct {
	IdleThresholdMinutes int `toml:"idle_threshold_minutes"`
	ReturnBufferMinutes  int `toml:"return_buffer_minutes"`
}

// DaemonConfig tunes the scheduler loop.
type DaemonConfig struct {
	PollInterval            int `toml:"poll_interval"` // seconds
	AutoSyncIntervalMinutes int `toml:"auto_sync_interval_minutes"`
}

// AssistantConfig controls how the assistant CLI is invoked.
type AssistantConfig struct {
	Model           string   `toml:"model"`
	AutoSelectModel bool     `toml:"auto_select_model"`
	ExtraFlags      []string `toml:"extra_flags"`
}

// TemplateOverride adjusts one built-in auto-task template. Nil fields keep
// the template default.
type TemplateOverride struct {
	Enabled       *bool `toml:"enabled"`
	IntervalHours *int  `toml:"interval_hours"`
	MinCommits    *int  `toml:"min_commits"`
}

// AutoTasksConfig enables the auto-template task source.
type AutoTasksConfig struct {
	Enabled   bool
	WorkDir   string
	Templates map[string]TemplateOverride
}

// Config is the full configuration tree.
type Config struct {
	Quota     QuotaConfig     `toml:"quota"`
	Budget    BudgetConfig    `toml:"budget"`
	Activity  ActivityConfig  `toml:"activity"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Assistant AssistantConfig `toml:"assistant"`
	AutoTasks AutoTasksConfig `toml:"-"`

	// Dir is the resolved config directory this config was loaded from.
	Dir string `toml:"-"`
}

// rawConfig mirrors Config for decoding; [auto_tasks] mixes fixed keys with
// per-template tables, so it is decoded in a second pass from primitives.
type rawConfig struct {
	Quota     QuotaConfig               `toml:"quota"`
	Budget    BudgetConfig              `toml:"budget"`
	Activity  ActivityConfig            `toml:"activity"`
	Daemon    DaemonConfig              `toml:"daemon"`
	Assistant AssistantConfig           `toml:"assistant"`
	AutoTasks map[string]toml.Primitive `toml:"auto_tasks"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Quota: QuotaConfig{
			WindowHours:  5,
			SafetyMargin: 0.15,
			Limits:       map[string]int{},
		},
		Budget: BudgetConfig{
			MaxTaskUSD:  2.0,
			MaxDailyUSD: 10.0,
		},
		Activity: ActivityConfig{
			IdleThresholdMinutes: 30,
			ReturnBufferMinutes:  15,
		},
		Daemon: DaemonConfig{
			PollInterval:            60,
			AutoSyncIntervalMinutes: 30,
		},
		Assistant: AssistantConfig{
			Model:           "sonnet",
			AutoSelectModel: true,
		},
		AutoTasks: AutoTasksConfig{
			Enabled:   false,
			WorkDir:   ".",
			Templates: map[string]TemplateOverride{},
		},
	}
}

// Dir returns the config directory, honoring the env override.
func Dir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "wise-magpie"), nil
}

// Load reads config.toml from the config directory, falling back to defaults
// when the file does not exist.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads config.toml from an explicit directory.
func LoadFrom(dir string) (*Config, error) {
	cfg := Default()
	cfg.Dir = dir

	path := filepath.Join(dir, configFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	raw.Quota = cfg.Quota
	raw.Budget = cfg.Budget
	raw.Activity = cfg.Activity
	raw.Daemon = cfg.Daemon
	raw.Assistant = cfg.Assistant

	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Quota = raw.Quota
	cfg.Budget = raw.Budget
	cfg.Activity = raw.Activity
	cfg.Daemon = raw.Daemon
	cfg.Assistant = raw.Assistant
	if cfg.Quota.Limits == nil {
		cfg.Quota.Limits = map[string]int{}
	}

	// Second pass over [auto_tasks]: "enabled" and "work_dir" are scalar
	// keys, everything else is a per-template override table.
	for key, prim := range raw.AutoTasks {
		switch key {
		case "enabled":
			if err := md.PrimitiveDecode(prim, &cfg.AutoTasks.Enabled); err != nil {
				return nil, fmt.Errorf("parsing auto_tasks.enabled: %w", err)
			}
		case "work_dir":
			if err := md.PrimitiveDecode(prim, &cfg.AutoTasks.WorkDir); err != nil {
				return nil, fmt.Errorf("parsing auto_tasks.work_dir: %w", err)
			}
		default:
			var ov TemplateOverride
			if err := md.PrimitiveDecode(prim, &ov); err != nil {
				return nil, fmt.Errorf("parsing auto_tasks.%s: %w", key, err)
			}
			cfg.AutoTasks.Templates[key] = ov
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Quota.WindowHours < 1 {
		return fmt.Errorf("quota.window_hours must be at least 1 (got %d)", c.Quota.WindowHours)
	}
	if c.Quota.SafetyMargin < 0 || c.Quota.SafetyMargin >= 1 {
		return fmt.Errorf("quota.safety_margin must be in [0, 1) (got %g)", c.Quota.SafetyMargin)
	}
	for name, limit := range c.Quota.Limits {
		if _, err := types.ResolveModel(name); err != nil {
			return fmt.Errorf("quota.limits: %w", err)
		}
		if limit < 0 {
			return fmt.Errorf("quota.limits.%s cannot be negative (got %d)", name, limit)
		}
	}
	if c.Budget.MaxTaskUSD <= 0 {
		return fmt.Errorf("budget.max_task_usd must be positive (got %g)", c.Budget.MaxTaskUSD)
	}
	if c.Budget.MaxDailyUSD <= 0 {
		return fmt.Errorf("budget.max_daily_usd must be positive (got %g)", c.Budget.MaxDailyUSD)
	}
	if c.Activity.IdleThresholdMinutes < 1 {
		return fmt.Errorf("activity.idle_threshold_minutes must be at least 1 (got %d)", c.Activity.IdleThresholdMinutes)
	}
	if c.Activity.ReturnBufferMinutes < 0 {
		return fmt.Errorf("activity.return_buffer_minutes cannot be negative (got %d)", c.Activity.ReturnBufferMinutes)
	}
	if c.Daemon.PollInterval < 1 {
		return fmt.Errorf("daemon.poll_interval must be at least 1 second (got %d)", c.Daemon.PollInterval)
	}
	if c.Daemon.AutoSyncIntervalMinutes < 0 {
		return fmt.Errorf("daemon.auto_sync_interval_minutes cannot be negative (got %d)", c.Daemon.AutoSyncIntervalMinutes)
	}
	if _, err := types.ResolveModel(c.Assistant.Model); err != nil {
		return fmt.Errorf("assistant.model: %w", err)
	}
	return nil
}

// ModelLimit returns the per-window message limit for a model: the config
// override (alias or full-id key) if present, else the built-in default.
func (c *Config) ModelLimit(m types.Model) int {
	if limit, ok := c.Quota.Limits[m.Alias()]; ok {
		return limit
	}
	if limit, ok := c.Quota.Limits[string(m)]; ok {
		return limit
	}
	return types.DefaultWindowLimits[m]
}

// WindowLength returns the quota window duration.
func (c *Config) WindowLength() time.Duration {
	return time.Duration(c.Quota.WindowHours) * time.Hour
}

// PollInterval returns the daemon tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Daemon.PollInterval) * time.Second
}

// AutoSyncInterval returns the upstream sync interval; zero disables sync.
func (c *Config) AutoSyncInterval() time.Duration {
	return time.Duration(c.Daemon.AutoSyncIntervalMinutes) * time.Minute
}

// DefaultTaskModel resolves the configured assistant model.
func (c *Config) DefaultTaskModel() types.Model {
	m, err := types.ResolveModel(c.Assistant.Model)
	if err != nil {
		return types.DefaultModel
	}
	return m
}

// ConfigPath returns the path of the config file inside the config dir.
func (c *Config) ConfigPath() string { return filepath.Join(c.Dir, configFileName) }

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string { return filepath.Join(c.Dir, dbFileName) }

// PidPath returns the daemon pid/lock file path.
func (c *Config) PidPath() string { return filepath.Join(c.Dir, pidFileName) }

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string { return filepath.Join(c.Dir, logFileName) }

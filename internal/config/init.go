package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigTemplate = `# wise-magpie configuration

[quota]
# Quota window duration in hours
window_hours = 5
# Reserve this fraction of each model's quota for interactive use
safety_margin = 0.15

# Per-model messages per window (uncomment to override)
# [quota.limits]
# opus = 45
# sonnet = 225
# haiku = 500

[budget]
# Maximum USD per autonomous task
max_task_usd = 2.0
# Maximum USD per day for autonomous execution
max_daily_usd = 10.0

[activity]
# Minutes of inactivity before considered idle
idle_threshold_minutes = 30
# Stop starting new tasks this many minutes before predicted return
return_buffer_minutes = 15

[daemon]
# Seconds between daemon poll cycles
poll_interval = 60
# Minutes between upstream quota syncs (0 disables)
auto_sync_interval_minutes = 30

[assistant]
# Model for autonomous tasks: opus, sonnet, haiku, or a full model id
model = "sonnet"
# Pick the model per task based on difficulty and quota headroom
auto_select_model = true
# Additional assistant CLI flags
extra_flags = []

[auto_tasks]
# Generate routine maintenance tasks automatically
enabled = false
# Repository the auto tasks operate on
work_dir = "."

# Per-template overrides (uncomment to adjust)
# [auto_tasks.run_tests]
# enabled = true
# interval_hours = 24
`

// Init writes the default config file. It refuses to overwrite an existing
// file unless force is set. Returns the path written.
func Init(dir string, force bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, configFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

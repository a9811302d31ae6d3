package store

const schema = `
-- Task queue
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    source_ref TEXT NOT NULL DEFAULT '',
    requested_model TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0 CHECK(priority >= 0 AND priority <= 100),
    status TEXT NOT NULL DEFAULT 'pending',
    work_dir TEXT NOT NULL DEFAULT '',
    branch_name TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    finished_at DATETIME,
    actual_cost_usd REAL NOT NULL DEFAULT 0,
    result_summary TEXT NOT NULL DEFAULT ''
);

-- (source, source_ref) is the dedup key for scanned tasks
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_source_ref
    ON tasks(source, source_ref) WHERE source_ref != '';
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);

-- User presence observations (retained for pattern learning)
CREATE TABLE IF NOT EXISTS usage_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    active INTEGER NOT NULL CHECK(active IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_usage_samples_timestamp ON usage_samples(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_samples_active ON usage_samples(active, timestamp);

-- Assistant invocation accounting
CREATE TABLE IF NOT EXISTS usage_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    model TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    task_id INTEGER NOT NULL DEFAULT 0,
    autonomous INTEGER NOT NULL DEFAULT 0 CHECK(autonomous IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp);

-- The single open rolling quota window
CREATE TABLE IF NOT EXISTS quota_window (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    started_at DATETIME NOT NULL,
    last_correction_at DATETIME
);

-- Per-model consumption within the current window
CREATE TABLE IF NOT EXISTS quota_counts (
    model TEXT PRIMARY KEY,
    consumed INTEGER NOT NULL DEFAULT 0 CHECK(consumed >= 0)
);

-- Last completion per auto-task template, for interval gating
CREATE TABLE IF NOT EXISTS auto_template_runs (
    task_type TEXT PRIMARY KEY,
    completed_at DATETIME NOT NULL
);

-- Singleton daemon bookkeeping
CREATE TABLE IF NOT EXISTS daemon_meta (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    pid INTEGER NOT NULL,
    instance_id TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    last_tick_at DATETIME NOT NULL
);
`

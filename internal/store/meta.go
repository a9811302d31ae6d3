package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// SetDaemonMeta overwrites the singleton daemon row.
func (s *Store) SetDaemonMeta(ctx context.Context, m types.DaemonMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_meta (id, pid, instance_id, started_at, last_tick_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pid = excluded.pid,
			instance_id = excluded.instance_id,
			started_at = excluded.started_at,
			last_tick_at = excluded.last_tick_at`,
		m.PID, m.InstanceID, m.StartedAt, m.LastTickAt)
	if err != nil {
		return fmt.Errorf("writing daemon meta: %w", err)
	}
	return nil
}

// TouchDaemonTick updates the last tick timestamp.
func (s *Store) TouchDaemonTick(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daemon_meta SET last_tick_at = ? WHERE id = 1`, at)
	if err != nil {
		return fmt.Errorf("touching daemon tick: %w", err)
	}
	return nil
}

// GetDaemonMeta returns the daemon row, or nil if the daemon never ran.
func (s *Store) GetDaemonMeta(ctx context.Context) (*types.DaemonMeta, error) {
	var m types.DaemonMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT pid, instance_id, started_at, last_tick_at FROM daemon_meta WHERE id = 1`).
		Scan(&m.PID, &m.InstanceID, &m.StartedAt, &m.LastTickAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading daemon meta: %w", err)
	}
	return &m, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// RecordUsageSample stores one presence observation.
func (s *Store) RecordUsageSample(ctx context.Context, at time.Time, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_samples (timestamp, active) VALUES (?, ?)`, at, active)
	if err != nil {
		return fmt.Errorf("recording usage sample: %w", err)
	}
	return nil
}

// SamplesSince returns presence samples at or after since, oldest first.
func (s *Store) SamplesSince(ctx context.Context, since time.Time) ([]types.UsageSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, active FROM usage_samples
		WHERE timestamp >= ? ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []types.UsageSample
	for rows.Next() {
		var smp types.UsageSample
		if err := rows.Scan(&smp.Timestamp, &smp.Active); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// LastActiveAt returns the timestamp of the most recent active sample.
// ok is false when no active sample has ever been recorded.
func (s *Store) LastActiveAt(ctx context.Context) (at time.Time, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM usage_samples
		WHERE active = 1 ORDER BY timestamp DESC LIMIT 1`).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last active sample: %w", err)
	}
	return at, true, nil
}

// PruneSamplesBefore deletes samples older than the cutoff. Callers must
// keep at least 14 days for pattern learning.
func (s *Store) PruneSamplesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned samples: %w", err)
	}
	return int(n), nil
}

// RecordUsage stores one assistant invocation's accounting row.
func (s *Store) RecordUsage(ctx context.Context, r types.UsageRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (timestamp, model, input_tokens, output_tokens, cost_usd, task_id, autonomous)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Model, r.InputTokens, r.OutputTokens, r.CostUSD, r.TaskID, r.Autonomous)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// UsageSince returns usage records at or after since, newest first.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]types.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, task_id, autonomous
		FROM usage_records WHERE timestamp >= ? ORDER BY timestamp DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	var records []types.UsageRecord
	for rows.Next() {
		var r types.UsageRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.CostUSD, &r.TaskID, &r.Autonomous); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DailyAutonomousCost sums autonomous spend for the UTC day containing t.
func (s *Store) DailyAutonomousCost(ctx context.Context, t time.Time) (float64, error) {
	day := t.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(cost_usd) FROM usage_records
		WHERE autonomous = 1 AND timestamp >= ? AND timestamp < ?`,
		start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing daily cost: %w", err)
	}
	return total.Float64, nil
}

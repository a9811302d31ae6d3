package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// GetQuotaWindow returns the current window, creating it if absent.
func (s *Store) GetQuotaWindow(ctx context.Context) (*types.QuotaWindow, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO quota_window (id, started_at) VALUES (1, ?)`,
		time.Now()); err != nil {
		return nil, fmt.Errorf("ensuring quota window: %w", err)
	}

	w := &types.QuotaWindow{Consumed: map[types.Model]int{}}
	var lastCorrection sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, last_correction_at FROM quota_window WHERE id = 1`).
		Scan(&w.StartedAt, &lastCorrection)
	if err != nil {
		return nil, fmt.Errorf("reading quota window: %w", err)
	}
	if lastCorrection.Valid {
		w.LastCorrectionAt = &lastCorrection.Time
	}

	rows, err := s.db.QueryContext(ctx, `SELECT model, consumed FROM quota_counts`)
	if err != nil {
		return nil, fmt.Errorf("reading quota counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var model types.Model
		var consumed int
		if err := rows.Scan(&model, &consumed); err != nil {
			return nil, fmt.Errorf("scanning quota count: %w", err)
		}
		w.Consumed[model] = consumed
	}
	return w, rows.Err()
}

// RollQuotaWindowIfDue rolls the window when windowLen has elapsed: counts
// reset and the start advances by whole windows until it covers now.
// Returns true if the window rolled.
func (s *Store) RollQuotaWindowIfDue(ctx context.Context, now time.Time, windowLen time.Duration) (bool, error) {
	w, err := s.GetQuotaWindow(ctx)
	if err != nil {
		return false, err
	}
	elapsed := now.Sub(w.StartedAt)
	if elapsed < windowLen {
		return false, nil
	}

	// Advance by whole windows so the new window still contains now.
	windows := elapsed / windowLen
	newStart := w.StartedAt.Add(windows * windowLen)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning roll transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE quota_window SET started_at = ?, last_correction_at = NULL WHERE id = 1`,
		newStart); err != nil {
		return false, fmt.Errorf("advancing quota window: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quota_counts`); err != nil {
		return false, fmt.Errorf("resetting quota counts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing quota roll: %w", err)
	}
	return true, nil
}

// RecordQuotaConsumption adjusts a model's consumed count by n. Negative n
// refunds; the count never drops below zero.
func (s *Store) RecordQuotaConsumption(ctx context.Context, model types.Model, n int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counts (model, consumed) VALUES (?, MAX(0, ?))
		ON CONFLICT(model) DO UPDATE SET consumed = MAX(0, consumed + ?)`,
		model, n, n)
	if err != nil {
		return fmt.Errorf("recording quota consumption for %s: %w", model, err)
	}
	return nil
}

// SetQuotaCorrection overwrites a model's consumed count and records the
// correction time on the window.
func (s *Store) SetQuotaCorrection(ctx context.Context, model types.Model, consumed int, at time.Time) error {
	if consumed < 0 {
		consumed = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning correction transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quota_counts (model, consumed) VALUES (?, ?)
		ON CONFLICT(model) DO UPDATE SET consumed = excluded.consumed`,
		model, consumed); err != nil {
		return fmt.Errorf("setting quota correction for %s: %w", model, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quota_window (id, started_at, last_correction_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_correction_at = excluded.last_correction_at`,
		at, at); err != nil {
		return fmt.Errorf("recording correction time: %w", err)
	}
	return tx.Commit()
}

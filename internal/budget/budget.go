// Package budget enforces the USD spending caps on autonomous work: a
// per-task ceiling and a rolling daily total.
package budget

import (
	"context"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// Tracker gates dispatch on the configured USD limits.
type Tracker struct {
	store *store.Store
	cfg   *config.Config
}

// New builds a tracker over the store.
func New(s *store.Store, cfg *config.Config) *Tracker {
	return &Tracker{store: s, cfg: cfg}
}

// DailySpent returns today's autonomous spend in USD.
func (t *Tracker) DailySpent(ctx context.Context, now time.Time) (float64, error) {
	return t.store.DailyAutonomousCost(ctx, now)
}

// AdmitsTask reports whether a task with the given estimated cost fits both
// the per-task cap and what is left of today's budget. The second return
// names the violated cap for skip-reason logging, empty when admitted.
func (t *Tracker) AdmitsTask(ctx context.Context, now time.Time, estimatedUSD float64) (bool, string, error) {
	if estimatedUSD > t.cfg.Budget.MaxTaskUSD {
		return false, "task cost cap", nil
	}
	spent, err := t.DailySpent(ctx, now)
	if err != nil {
		return false, "", err
	}
	if spent+estimatedUSD > t.cfg.Budget.MaxDailyUSD {
		return false, "daily budget", nil
	}
	return true, "", nil
}

// Record books an assistant invocation's actual cost and token usage.
func (t *Tracker) Record(ctx context.Context, rec types.UsageRecord) error {
	return t.store.RecordUsage(ctx, rec)
}

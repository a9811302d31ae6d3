// Package quota tracks per-model message consumption against the rolling
// subscription window and keeps a safety margin in reserve for the operator.
package quota

import (
	"context"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// Accountant answers "can we afford a message on this model" and records
// consumption, refunds, and upstream corrections.
type Accountant struct {
	store *store.Store
	cfg   *config.Config
}

// New builds an accountant over the store.
func New(s *store.Store, cfg *config.Config) *Accountant {
	return &Accountant{store: s, cfg: cfg}
}

// EffectiveLimit is the per-window allowance after the safety margin:
// floor(limit * (1 - margin)). The margin stays reserved for interactive use.
func (a *Accountant) EffectiveLimit(m types.Model) int {
	return int(float64(a.cfg.ModelLimit(m)) * (1 - a.cfg.Quota.SafetyMargin))
}

// Remaining returns the messages still available on a model in the current
// window, never negative.
func (a *Accountant) Remaining(ctx context.Context, m types.Model) (int, error) {
	w, err := a.store.GetQuotaWindow(ctx)
	if err != nil {
		return 0, err
	}
	remaining := a.EffectiveLimit(m) - w.Consumed[m]
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RemainingFraction returns Remaining as a fraction of the effective limit,
// in [0, 1]. A zero effective limit yields 0.
func (a *Accountant) RemainingFraction(ctx context.Context, m types.Model) (float64, error) {
	limit := a.EffectiveLimit(m)
	if limit <= 0 {
		return 0, nil
	}
	remaining, err := a.Remaining(ctx, m)
	if err != nil {
		return 0, err
	}
	return float64(remaining) / float64(limit), nil
}

// Admits reports whether at least one message remains on the model.
func (a *Accountant) Admits(ctx context.Context, m types.Model) (bool, error) {
	remaining, err := a.Remaining(ctx, m)
	if err != nil {
		return false, err
	}
	return remaining >= 1, nil
}

// Consume records one message against the model. Called before dispatch;
// pair with Refund when the run fails.
func (a *Accountant) Consume(ctx context.Context, m types.Model) error {
	return a.store.RecordQuotaConsumption(ctx, m, 1)
}

// Refund returns one message to the model's allowance.
func (a *Accountant) Refund(ctx context.Context, m types.Model) error {
	return a.store.RecordQuotaConsumption(ctx, m, -1)
}

// RollIfDue rolls the window when its length has elapsed. Returns true when
// a new window opened.
func (a *Accountant) RollIfDue(ctx context.Context, now time.Time) (bool, error) {
	return a.store.RollQuotaWindowIfDue(ctx, now, a.cfg.WindowLength())
}

// Window returns the current quota window.
func (a *Accountant) Window(ctx context.Context) (*types.QuotaWindow, error) {
	return a.store.GetQuotaWindow(ctx)
}

// WindowEnd returns when the current window closes.
func (a *Accountant) WindowEnd(ctx context.Context) (time.Time, error) {
	w, err := a.store.GetQuotaWindow(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return w.StartedAt.Add(a.cfg.WindowLength()), nil
}

// TimeLeftInWindow returns how long the current window has left, floored
// at zero.
func (a *Accountant) TimeLeftInWindow(ctx context.Context, now time.Time) (time.Duration, error) {
	end, err := a.WindowEnd(ctx)
	if err != nil {
		return 0, err
	}
	left := end.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, nil
}

// CorrectRemaining overwrites local accounting so that the model shows the
// given remaining count, used when the operator knows the true figure.
func (a *Accountant) CorrectRemaining(ctx context.Context, m types.Model, remaining int, at time.Time) error {
	consumed := a.EffectiveLimit(m) - remaining
	return a.store.SetQuotaCorrection(ctx, m, consumed, at)
}

// ApplyUtilization corrects every model's consumed count from an upstream
// window utilization percentage. Utilization is measured against the raw
// subscription limit, not the margin-reduced one.
func (a *Accountant) ApplyUtilization(ctx context.Context, utilizationPct float64, at time.Time) error {
	if utilizationPct < 0 {
		utilizationPct = 0
	}
	if utilizationPct > 100 {
		utilizationPct = 100
	}
	for _, m := range types.Tiers() {
		consumed := int(utilizationPct / 100 * float64(a.cfg.ModelLimit(m)))
		if err := a.store.SetQuotaCorrection(ctx, m, consumed, at); err != nil {
			return err
		}
	}
	return nil
}

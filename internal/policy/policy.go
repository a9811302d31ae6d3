// Package policy picks the model for a task: difficulty sets the base tier,
// quota headroom and the predicted idle stretch justify upgrades, and quota
// exhaustion forces downgrades.
package policy

import (
	"context"
	"strings"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/predict"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/sources"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// complexKeywords push a task to the opus tier.
var complexKeywords = []string{
	"security", "vulnerability", "architecture", "migration", "performance",
}

// simpleKeywords pull a task down to the haiku tier.
var simpleKeywords = []string{
	"docs", "lint", "format", "typo", "clean", "dead code", "changelog",
}

// Classify estimates how hard a task is. Auto-template tasks carry their
// template's declared difficulty; everything else is classified by keyword,
// complex markers winning over simple ones.
func Classify(task *types.Task) types.Difficulty {
	if task.Source == types.SourceAutoTemplate {
		taskType := task.SourceRef
		if i := strings.IndexByte(taskType, ':'); i > 0 {
			taskType = taskType[:i]
		}
		if d, ok := sources.TemplateDifficulty(taskType); ok {
			return d
		}
	}

	text := strings.ToLower(task.Title + "\n" + task.Description)
	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			return types.DifficultyComplex
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(text, kw) {
			return types.DifficultySimple
		}
	}
	return types.DifficultyMedium
}

const (
	// windowCrunch is how little window time triggers the use-it-or-lose-it
	// upgrade.
	windowCrunch = 90 * time.Minute
	// crunchUpgradeMinRemaining gates the end-of-window upgrade.
	crunchUpgradeMinRemaining = 0.30
	// idleUpgradeMinRemaining gates the long-idle upgrade.
	idleUpgradeMinRemaining = 0.40
	// idleForUpgrade is the predicted idle stretch that justifies a
	// bigger model.
	idleForUpgrade = 6 * time.Hour
	// idleHorizonHours is how far ahead the idle prediction looks.
	idleHorizonHours = 8
	// maxDowngradeSteps bounds how far quota pressure may push a task
	// below its base tier.
	maxDowngradeSteps = 2
)

// Decision is the outcome of model selection for one task.
type Decision struct {
	Model      types.Model
	Difficulty types.Difficulty
	Upgraded   bool
	Downgraded int    // tiers below the initial candidate
	Reason     string // set when the task cannot be dispatched
}

// Selector chooses models from quota state and the idle forecast.
type Selector struct {
	cfg       *config.Config
	acct      *quota.Accountant
	predictor *predict.Predictor
}

// NewSelector builds a selector.
func NewSelector(cfg *config.Config, acct *quota.Accountant, p *predict.Predictor) *Selector {
	return &Selector{cfg: cfg, acct: acct, predictor: p}
}

// Select picks the model for a task. Forced models (an explicit request on
// the task, or auto-selection disabled) never upgrade but still downgrade
// under quota pressure. A nil model with a reason means the task cannot run
// this tick.
func (s *Selector) Select(ctx context.Context, now time.Time, task *types.Task) (*Decision, error) {
	d := &Decision{Difficulty: Classify(task)}

	forced := false
	switch {
	case !s.cfg.Assistant.AutoSelectModel:
		d.Model = s.cfg.DefaultTaskModel()
		forced = true
	case task.RequestedModel != "":
		m, err := types.ResolveModel(task.RequestedModel)
		if err != nil {
			return nil, err
		}
		d.Model = m
		forced = true
	default:
		d.Model = d.Difficulty.BaseModel()
	}

	if !forced {
		upgraded, err := s.shouldUpgrade(ctx, now, d.Model)
		if err != nil {
			return nil, err
		}
		if upgraded {
			d.Model = d.Model.Upgrade()
			d.Upgraded = true
		}
	}

	// Quota pressure pushes down at most two tiers.
	for step := 0; step <= maxDowngradeSteps; step++ {
		admits, err := s.acct.Admits(ctx, d.Model)
		if err != nil {
			return nil, err
		}
		if admits {
			return d, nil
		}
		lower := d.Model.Downgrade()
		if lower == d.Model || step == maxDowngradeSteps {
			break
		}
		d.Model = lower
		d.Downgraded++
	}

	d.Reason = "quota exhausted on " + d.Model.Alias() + " and below"
	d.Model = ""
	return d, nil
}

// shouldUpgrade applies the two upgrade rules to the base model: spend
// expiring quota at the end of a window, or use the capacity a long idle
// stretch frees up. Both demand headroom on the current tier; an exhausted
// target falls back through the downgrade loop.
func (s *Selector) shouldUpgrade(ctx context.Context, now time.Time, base types.Model) (bool, error) {
	if base.Upgrade() == base {
		return false, nil
	}
	frac, err := s.acct.RemainingFraction(ctx, base)
	if err != nil {
		return false, err
	}

	left, err := s.acct.TimeLeftInWindow(ctx, now)
	if err != nil {
		return false, err
	}
	if left < windowCrunch && frac >= crunchUpgradeMinRemaining {
		return true, nil
	}

	idleMinutes, err := s.predictor.LongestPredictedIdleWithin(ctx, now, idleHorizonHours)
	if err != nil {
		return false, err
	}
	if time.Duration(idleMinutes)*time.Minute >= idleForUpgrade && frac >= idleUpgradeMinRemaining {
		return true, nil
	}
	return false, nil
}

// Package predict learns the operator's weekly activity pattern from
// recorded presence samples and forecasts return times and idle windows.
package predict

import (
	"context"
	"sync"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

const (
	// retention is how far back samples feed the pattern.
	retention = 14 * 24 * time.Hour
	// patternTTL bounds how stale the cached pattern may get.
	patternTTL = 15 * time.Minute

	// step is the forecast resolution.
	step = 15 * time.Minute
	// returnHorizon bounds the return search.
	returnHorizon = 8 * time.Hour

	// activeThreshold marks a bucket as "user likely active".
	activeThreshold = 0.5
	// idleThreshold marks a bucket as "user likely away".
	idleThreshold = 0.3
)

// Pattern is the learned weekly heatmap: probability of the user being
// active per (weekday, hour), Sunday = 0.
type Pattern [7][24]float64

// At returns the activity probability for a point in time.
func (p *Pattern) At(t time.Time) float64 {
	return p[int(t.Weekday())][t.Hour()]
}

// Learn computes a pattern from samples with Laplace smoothing (α = 1):
// an unobserved bucket sits at 0.5, mildly idle with low confidence.
func Learn(samples []types.UsageSample) *Pattern {
	var actives, totals [7][24]int
	for _, s := range samples {
		d := int(s.Timestamp.Weekday())
		h := s.Timestamp.Hour()
		totals[d][h]++
		if s.Active {
			actives[d][h]++
		}
	}

	var p Pattern
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			p[d][h] = (float64(actives[d][h]) + 1) / (float64(totals[d][h]) + 2)
		}
	}
	return &p
}

// Predictor answers scheduling queries against the learned pattern,
// recomputing it lazily and caching it per process.
type Predictor struct {
	store *store.Store

	mu         sync.Mutex
	pattern    *Pattern
	computedAt time.Time
}

// New builds a predictor over the sample store.
func New(s *store.Store) *Predictor {
	return &Predictor{store: s}
}

// Pattern returns the current learned pattern, recomputing when stale.
func (p *Predictor) Pattern(ctx context.Context) (*Pattern, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.pattern != nil && now.Sub(p.computedAt) < patternTTL {
		return p.pattern, nil
	}
	samples, err := p.store.SamplesSince(ctx, now.Add(-retention))
	if err != nil {
		return nil, err
	}
	p.pattern = Learn(samples)
	p.computedAt = now
	return p.pattern, nil
}

// Invalidate drops the cached pattern; the next query relearns.
func (p *Predictor) Invalidate() {
	p.mu.Lock()
	p.pattern = nil
	p.mu.Unlock()
}

// MinutesUntilLikelyReturn finds the smallest Δ, in 15-minute steps up to
// 8 hours ahead, at which the user is likely active (probability ≥ 0.5).
// ok is false when no such bucket exists within the horizon (treat as ∞).
func (p *Predictor) MinutesUntilLikelyReturn(ctx context.Context, now time.Time) (minutes int, ok bool, err error) {
	pat, err := p.Pattern(ctx)
	if err != nil {
		return 0, false, err
	}
	for d := step; d <= returnHorizon; d += step {
		if pat.At(now.Add(d)) >= activeThreshold {
			return int(d / time.Minute), true, nil
		}
	}
	return 0, false, nil
}

// LongestPredictedIdleWithin returns, in minutes, the largest run of
// contiguous 15-minute buckets with activity probability < 0.3 within the
// next horizon hours.
func (p *Predictor) LongestPredictedIdleWithin(ctx context.Context, now time.Time, horizonHours int) (int, error) {
	pat, err := p.Pattern(ctx)
	if err != nil {
		return 0, err
	}

	buckets := horizonHours * int(time.Hour/step)
	longest, run := 0, 0
	for i := 0; i < buckets; i++ {
		if pat.At(now.Add(time.Duration(i)*step)) < idleThreshold {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest * int(step / time.Minute), nil
}

// IdleWindow is one contiguous predicted-idle span, for display.
type IdleWindow struct {
	Start      time.Time
	End        time.Time
	Confidence float64 // mean of (1 - activity probability) over the span
}

// IdleWindows lists the predicted idle windows within the next horizon
// hours, for the schedule predict command.
func (p *Predictor) IdleWindows(ctx context.Context, now time.Time, horizonHours int) ([]IdleWindow, error) {
	pat, err := p.Pattern(ctx)
	if err != nil {
		return nil, err
	}

	var windows []IdleWindow
	buckets := horizonHours * int(time.Hour/step)
	i := 0
	for i < buckets {
		t := now.Add(time.Duration(i) * step)
		if pat.At(t) >= idleThreshold {
			i++
			continue
		}
		start := t
		sum := 0.0
		n := 0
		for i < buckets {
			t = now.Add(time.Duration(i) * step)
			if pat.At(t) >= idleThreshold {
				break
			}
			sum += 1 - pat.At(t)
			n++
			i++
		}
		windows = append(windows, IdleWindow{
			Start:      start,
			End:        start.Add(time.Duration(n) * step),
			Confidence: sum / float64(n),
		})
	}
	return windows, nil
}

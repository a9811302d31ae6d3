// Package activity samples user presence. Presence detection is delegated
// to a pluggable probe; the default probe treats the operator as present
// exactly when an assistant CLI process is running.
package activity

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/store"
)

// PresenceProbe answers "is the user at the keyboard right now?".
type PresenceProbe interface {
	Active(ctx context.Context) bool
}

// ProcessProbe reports the user active when any process command line
// contains the assistant identifier. On hosts without pgrep (headless or
// stripped-down environments) it reports inactive: such machines are
// always available for autonomous work.
type ProcessProbe struct {
	// Identifier is the substring matched against process command lines.
	Identifier string
}

// Active runs pgrep -f against the identifier with a short timeout.
func (p *ProcessProbe) Active(ctx context.Context) bool {
	ident := p.Identifier
	if ident == "" {
		ident = "claude"
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cctx, "pgrep", "-f", ident).Output()
	if err != nil {
		// pgrep exits 1 with no matches, and is absent on some hosts.
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// Monitor classifies the operator as active or idle and records samples
// for pattern learning. It caches the probe result for the duration of a
// tick so the gates and the sample recorder agree on one observation.
type Monitor struct {
	probe  PresenceProbe
	store  *store.Store
	cached *bool
}

// NewMonitor builds a monitor around a probe.
func NewMonitor(probe PresenceProbe, s *store.Store) *Monitor {
	return &Monitor{probe: probe, store: s}
}

// BeginTick discards the cached observation; the next IsActive probes anew.
func (m *Monitor) BeginTick() {
	m.cached = nil
}

// IsActive returns the (tick-cached) presence observation.
func (m *Monitor) IsActive(ctx context.Context) bool {
	if m.cached == nil {
		active := m.probe.Active(ctx)
		m.cached = &active
	}
	return *m.cached
}

// RecordSample persists the current observation for pattern learning.
func (m *Monitor) RecordSample(ctx context.Context, now time.Time) error {
	return m.store.RecordUsageSample(ctx, now, m.IsActive(ctx))
}

// IdleDuration returns how long the user has been idle, measured from the
// last active sample. known is false when no active sample exists, which
// callers treat as idle-forever.
func (m *Monitor) IdleDuration(ctx context.Context, now time.Time) (d time.Duration, known bool, err error) {
	at, ok, err := m.store.LastActiveAt(ctx)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	d = now.Sub(at)
	if d < 0 {
		d = 0
	}
	return d, true, nil
}

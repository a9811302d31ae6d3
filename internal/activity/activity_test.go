package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/store"
)

// fakeProbe counts calls so tests can verify tick caching.
type fakeProbe struct {
	active bool
	calls  int
}

func (f *fakeProbe) Active(ctx context.Context) bool {
	f.calls++
	return f.active
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "magpie.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsActiveCachesWithinTick(t *testing.T) {
	probe := &fakeProbe{active: true}
	m := NewMonitor(probe, newTestStore(t))
	ctx := context.Background()

	m.BeginTick()
	if !m.IsActive(ctx) || !m.IsActive(ctx) || !m.IsActive(ctx) {
		t.Fatal("IsActive should be true")
	}
	if probe.calls != 1 {
		t.Errorf("probe called %d times within one tick, want 1", probe.calls)
	}

	probe.active = false
	m.BeginTick()
	if m.IsActive(ctx) {
		t.Fatal("IsActive should reflect the new tick's observation")
	}
	if probe.calls != 2 {
		t.Errorf("probe called %d times across two ticks, want 2", probe.calls)
	}
}

func TestIdleDuration(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(&fakeProbe{}, s)
	ctx := context.Background()
	now := time.Now()

	// No samples at all: idle duration is unknown.
	_, known, err := m.IdleDuration(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Error("idle duration should be unknown with no samples")
	}

	if err := s.RecordUsageSample(ctx, now.Add(-45*time.Minute), true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUsageSample(ctx, now.Add(-31*time.Minute), true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUsageSample(ctx, now.Add(-10*time.Minute), false); err != nil {
		t.Fatal(err)
	}

	d, known, err := m.IdleDuration(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("idle duration should be known")
	}
	// Measured from the last *active* sample, not the last sample.
	if d < 30*time.Minute || d > 32*time.Minute {
		t.Errorf("idle duration = %v, want ~31m", d)
	}
}

func TestRecordSampleUsesTickObservation(t *testing.T) {
	s := newTestStore(t)
	probe := &fakeProbe{active: true}
	m := NewMonitor(probe, s)
	ctx := context.Background()
	now := time.Now()

	m.BeginTick()
	if err := m.RecordSample(ctx, now); err != nil {
		t.Fatal(err)
	}

	at, ok, err := s.LastActiveAt(ctx)
	if err != nil || !ok {
		t.Fatalf("LastActiveAt = %v, %v", ok, err)
	}
	if at.Unix() != now.Unix() {
		t.Errorf("recorded sample at %v, want %v", at, now)
	}
}

// Package daemon is the long-running scheduler: it samples user presence,
// rolls the quota window, and dispatches at most one task at a time when
// the operator is away and quota and budget allow it.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wisemagpie/wise-magpie/internal/activity"
	"github.com/wisemagpie/wise-magpie/internal/budget"
	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/executor"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/policy"
	"github.com/wisemagpie/wise-magpie/internal/predict"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

const (
	// sampleRetention is how long presence samples are kept. Pattern
	// learning reads the last 14 days; the extra margin absorbs clock
	// skew and downtime.
	sampleRetention = 28 * 24 * time.Hour
	// shutdownGrace is how long a running task may finish after a stop
	// signal before it is killed.
	shutdownGrace = 30 * time.Minute
)

// AlreadyRunningError reports a live daemon holding the lock.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// Daemon owns the scheduler loop.
type Daemon struct {
	cfg       *config.Config
	store     *store.Store
	acct      *quota.Accountant
	budget    *budget.Tracker
	monitor   *activity.Monitor
	predictor *predict.Predictor
	selector  *policy.Selector
	exec      *executor.Executor
	syncer    *quota.Syncer
	logger    *log.Logger

	lock       *flock.Flock
	instanceID string
}

// New wires a daemon from its parts. The logger receives tick decisions and
// task outcomes; pass log output for foreground runs or the log file writer
// for background ones.
func New(cfg *config.Config, s *store.Store, git *gitx.Git, logOut io.Writer) *Daemon {
	acct := quota.New(s, cfg)
	predictor := predict.New(s)
	return &Daemon{
		cfg:        cfg,
		store:      s,
		acct:       acct,
		budget:     budget.New(s, cfg),
		monitor:    activity.NewMonitor(&activity.ProcessProbe{}, s),
		predictor:  predictor,
		selector:   policy.NewSelector(cfg, acct, predictor),
		exec:       executor.New(git, cfg),
		syncer:     quota.NewSyncer(acct),
		logger:     log.New(logOut, "", log.LstdFlags),
		instanceID: uuid.NewString(),
	}
}

// acquireLock takes the singleton lock and records our pid in it.
func (d *Daemon) acquireLock() error {
	d.lock = flock.New(d.cfg.PidPath())
	got, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", d.cfg.PidPath(), err)
	}
	if !got {
		pid, _ := ReadPid(d.cfg.PidPath())
		return &AlreadyRunningError{PID: pid}
	}
	// A stale pid file without a lock holder is reclaimed by overwriting.
	if err := os.WriteFile(d.cfg.PidPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		d.lock.Unlock() //nolint:errcheck
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// releaseLock drops the lock and the pid file.
func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	d.lock.Unlock()            //nolint:errcheck
	os.Remove(d.cfg.PidPath()) //nolint:errcheck
}

// Run executes the scheduler until the context is canceled. It returns
// AlreadyRunningError when another instance holds the lock.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	swept, err := d.store.SweepOrphanRunning(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		d.logger.Printf("requeued %d task(s) orphaned by an earlier shutdown", swept)
	}
	now := time.Now()
	if err := d.store.SetDaemonMeta(ctx, types.DaemonMeta{
		PID:        os.Getpid(),
		InstanceID: d.instanceID,
		StartedAt:  now,
		LastTickAt: now,
	}); err != nil {
		return err
	}
	d.logger.Printf("daemon started (pid %d, poll %s)", os.Getpid(), d.cfg.PollInterval())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.tickLoop(gctx) })
	if interval := d.cfg.AutoSyncInterval(); interval > 0 {
		g.Go(func() error { return d.syncLoop(gctx, interval) })
	}

	err = g.Wait()
	d.logger.Printf("daemon stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

// tickLoop runs one tick immediately, then on every poll interval. A tick
// in progress always completes; cancellation is observed between ticks.
func (d *Daemon) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if err := d.tick(ctx); err != nil {
			d.logger.Printf("tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syncLoop periodically corrects local quota accounting from the provider.
func (d *Daemon) syncLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		report, err := d.syncer.Sync(ctx, time.Now())
		switch {
		case err == quota.ErrNoCredentials, err == quota.ErrSyncThrottled:
			// Nothing to do; stay on local accounting.
		case err != nil:
			d.logger.Printf("usage sync failed: %v", err)
		default:
			d.logger.Printf("usage sync: five-hour window at %.1f%%", report.FiveHour.Utilization)
		}
	}
}

// ReadPid reads a daemon pid file.
func ReadPid(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

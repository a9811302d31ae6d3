package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/daemon"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			fail(exitPrecondition, "creating %s: %v", cfg.Dir, err)
		}

		if startForeground {
			runForeground()
			return
		}

		if pid, ok := daemon.ReadPid(cfg.PidPath()); ok && processAlive(pid) {
			fail(exitPrecondition, "daemon already running (pid %d)", pid)
		}

		// Re-exec ourselves detached, with output going to the log file.
		self, err := os.Executable()
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fail(exitPrecondition, "opening log file: %v", err)
		}
		defer logFile.Close()

		child := exec.Command(self, "start", "--foreground")
		child.Stdout = logFile
		child.Stderr = logFile
		child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := child.Start(); err != nil {
			fail(exitPrecondition, "starting daemon: %v", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Daemon started (pid %d), logging to %s\n",
			green("✓"), child.Process.Pid, cfg.LogPath())
	},
}

// runForeground runs the daemon in this process until interrupted.
func runForeground() {
	cfg := mustConfig()
	s := mustStore(cfg)
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	git, err := gitx.New(ctx)
	if err != nil {
		fail(exitMissingTool, "%v", err)
	}

	d := daemon.New(cfg, s, git, os.Stdout)
	err = d.Run(ctx)
	var already *daemon.AlreadyRunningError
	if errors.As(err, &already) {
		fail(exitPrecondition, "%v", already)
	}
	if err != nil && err != context.Canceled {
		fail(exitPrecondition, "%v", err)
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		pid, ok := daemon.ReadPid(cfg.PidPath())
		if !ok || !processAlive(pid) {
			fail(exitPrecondition, "daemon is not running")
		}

		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			fail(exitPrecondition, "signaling pid %d: %v", pid, err)
		}
		fmt.Printf("Stopping daemon (pid %d)", pid)

		// A running task gets a grace period, so this can take a while.
		for i := 0; i < 600; i++ {
			if !processAlive(pid) {
				green := color.New(color.FgGreen).SprintFunc()
				fmt.Printf("\n%s Daemon stopped\n", green("✓"))
				return
			}
			if i%10 == 0 {
				fmt.Print(".")
			}
			time.Sleep(500 * time.Millisecond)
		}
		fmt.Println()
		fail(exitPrecondition, "daemon (pid %d) did not stop; a task may still be finishing", pid)
	},
}

// processAlive reports whether a pid refers to a live process.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, queue, quota, and budget status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("%s\n", yellow("Daemon"))
		pid, ok := daemon.ReadPid(cfg.PidPath())
		if ok && processAlive(pid) {
			fmt.Printf("  %s running (pid %d)\n", green("●"), pid)
			if meta, err := s.GetDaemonMeta(ctx); err == nil && meta != nil {
				fmt.Printf("  started:   %s\n", meta.StartedAt.Format("2006-01-02 15:04:05"))
				fmt.Printf("  last tick: %s %s\n", meta.LastTickAt.Format("15:04:05"),
					gray(fmt.Sprintf("(%s ago)", time.Since(meta.LastTickAt).Round(time.Second))))
			}
		} else {
			fmt.Printf("  %s stopped\n", red("○"))
		}

		fmt.Printf("\n%s\n", yellow("Tasks"))
		for _, status := range []types.TaskStatus{
			types.StatusPending, types.StatusRunning, types.StatusAwaitingReview,
			types.StatusFailed, types.StatusMerged,
		} {
			tasks, err := s.ListTasks(ctx, store.TaskFilter{Status: status})
			if err != nil {
				fail(exitPrecondition, "%v", err)
			}
			if len(tasks) > 0 {
				fmt.Printf("  %-16s %d\n", status, len(tasks))
			}
		}

		fmt.Printf("\n%s\n", yellow("Quota"))
		acct := quota.New(s, cfg)
		if _, err := acct.RollIfDue(ctx, time.Now()); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		for _, m := range types.Tiers() {
			remaining, err := acct.Remaining(ctx, m)
			if err != nil {
				fail(exitPrecondition, "%v", err)
			}
			fmt.Printf("  %-8s %d/%d available\n", m.Alias(), remaining, acct.EffectiveLimit(m))
		}

		spent, err := s.DailyAutonomousCost(ctx, time.Now())
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		fmt.Printf("\n%s\n  $%.2f of $%.2f spent today\n", yellow("Budget"), spent, cfg.Budget.MaxDailyUSD)
	},
}

func init() {
	startCmd.Flags().BoolVar(&startForeground, "foreground", false, "run in the foreground instead of daemonizing")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

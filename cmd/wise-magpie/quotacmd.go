package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and correct quota accounting",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current window's per-model quota",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		acct := quota.New(s, cfg)

		if _, err := acct.RollIfDue(ctx, time.Now()); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		w, err := acct.Window(ctx)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		end, _ := acct.WindowEnd(ctx)

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("Window: %s → %s (%s left)\n\n",
			w.StartedAt.Format("15:04"), end.Format("15:04"),
			time.Until(end).Round(time.Minute))

		for _, m := range types.Tiers() {
			remaining, err := acct.Remaining(ctx, m)
			if err != nil {
				fail(exitPrecondition, "%v", err)
			}
			limit := acct.EffectiveLimit(m)
			bar := quotaBar(remaining, limit)
			fmt.Printf("  %-8s %s %d/%d available\n", cyan(m.Alias()), bar, remaining, limit)
		}

		if w.LastCorrectionAt != nil {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("\n%s\n", gray("last corrected "+w.LastCorrectionAt.Format("2006-01-02 15:04")))
		}
	},
}

// quotaBar renders a 20-cell availability bar.
func quotaBar(remaining, limit int) string {
	const cells = 20
	filled := 0
	if limit > 0 {
		filled = remaining * cells / limit
	}
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	bar := ""
	for i := 0; i < cells; i++ {
		if i < filled {
			bar += green("█")
		} else {
			bar += gray("░")
		}
	}
	return bar
}

var quotaSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Correct local accounting from the provider's usage API",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		syncer := quota.NewSyncer(quota.New(s, cfg))
		report, err := syncer.Sync(context.Background(), time.Now())
		if errors.Is(err, quota.ErrNoCredentials) {
			fail(exitPrecondition, "no assistant credentials found; log in with the assistant CLI first")
		}
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Synced: five-hour window at %.1f%% (resets %s)\n",
			green("✓"), report.FiveHour.Utilization,
			report.FiveHour.ResetsAt.Local().Format("15:04"))
	},
}

var quotaCorrectCmd = &cobra.Command{
	Use:   "correct <model> <remaining>",
	Short: "Manually set a model's remaining messages this window",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		model, err := types.ResolveModel(args[0])
		if err != nil {
			fail(exitUserError, "%v", err)
		}
		remaining, err := strconv.Atoi(args[1])
		if err != nil || remaining < 0 {
			fail(exitUserError, "remaining must be a non-negative integer, got %q", args[1])
		}

		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		acct := quota.New(s, cfg)
		if err := acct.CorrectRemaining(context.Background(), model, remaining, time.Now()); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s corrected to %d remaining\n", green("✓"), model.Alias(), remaining)
	},
}

var quotaHistoryDays int

var quotaHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent assistant usage",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()

		records, err := s.UsageSince(ctx, time.Now().AddDate(0, 0, -quotaHistoryDays))
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if len(records) == 0 {
			fmt.Println("No usage recorded.")
			return
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		var total float64
		for _, r := range records {
			kind := "interactive"
			if r.Autonomous {
				kind = "autonomous"
			}
			line := fmt.Sprintf("%s  %-8s %-11s $%.4f  in:%d out:%d",
				r.Timestamp.Format("01-02 15:04"), r.Model.Alias(), kind,
				r.CostUSD, r.InputTokens, r.OutputTokens)
			if r.TaskID != 0 {
				line += fmt.Sprintf("  task #%d", r.TaskID)
			}
			fmt.Println(line)
			total += r.CostUSD
		}
		fmt.Printf("\n%s\n", gray(fmt.Sprintf("total: $%.2f over %d day(s)", total, quotaHistoryDays)))
	},
}

func init() {
	quotaHistoryCmd.Flags().IntVar(&quotaHistoryDays, "days", 7, "how many days back to show")
	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaSyncCmd)
	quotaCmd.AddCommand(quotaCorrectCmd)
	quotaCmd.AddCommand(quotaHistoryCmd)
	rootCmd.AddCommand(quotaCmd)
}

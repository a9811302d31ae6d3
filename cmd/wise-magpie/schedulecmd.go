package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/predict"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect the learned activity pattern",
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the weekly activity heatmap",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		pattern, err := predict.New(s).Pattern(context.Background())
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}

		fmt.Println("Activity by weekday and hour (darker = more likely active):")
		fmt.Print("     ")
		for h := 0; h < 24; h += 3 {
			fmt.Printf("%-3d", h)
		}
		fmt.Println()

		days := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
		for d := 0; d < 7; d++ {
			fmt.Printf("%s  ", days[d])
			for h := 0; h < 24; h++ {
				fmt.Print(heatCell(pattern[d][h]))
			}
			fmt.Println()
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s\n", gray("cells: ' ' unknown/idle, ░ sometimes, ▒ often, █ usually active"))
	},
}

// heatCell maps an activity probability to a shade.
func heatCell(p float64) string {
	switch {
	case p >= 0.75:
		return color.New(color.FgGreen).Sprint("█")
	case p >= 0.5:
		return color.New(color.FgGreen).Sprint("▒")
	case p >= 0.3:
		return color.New(color.FgHiBlack).Sprint("░")
	default:
		return " "
	}
}

var predictHorizonHours int

var schedulePredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict upcoming idle windows",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		now := time.Now()
		p := predict.New(s)

		minutes, ok, err := p.MinutesUntilLikelyReturn(ctx, now)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		cyan := color.New(color.FgCyan).SprintFunc()
		if ok {
			fmt.Printf("Likely back at the keyboard in %s (around %s)\n\n",
				cyan(fmt.Sprintf("%d min", minutes)),
				now.Add(time.Duration(minutes)*time.Minute).Format("15:04"))
		} else {
			fmt.Printf("No likely return within the next %d hours\n\n", predictHorizonHours)
		}

		windows, err := p.IdleWindows(ctx, now, predictHorizonHours)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if len(windows) == 0 {
			fmt.Println("No confident idle windows predicted. The pattern needs more data;")
			fmt.Println("leave the daemon running and check back in a few days.")
			return
		}

		fmt.Printf("Predicted idle windows (next %dh):\n", predictHorizonHours)
		for _, w := range windows {
			fmt.Printf("  %s → %s  (%s, %.0f%% confident)\n",
				w.Start.Format("Mon 15:04"), w.End.Format("15:04"),
				w.End.Sub(w.Start).Round(time.Minute), w.Confidence*100)
		}

		// Quota still unspent when the current window closes is quota lost.
		acct := quota.New(s, cfg)
		if _, err := acct.RollIfDue(ctx, now); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		end, err := acct.WindowEnd(ctx)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		parts := make([]string, 0, 3)
		for _, m := range types.Tiers() {
			remaining, err := acct.Remaining(ctx, m)
			if err != nil {
				fail(exitPrecondition, "%v", err)
			}
			parts = append(parts, fmt.Sprintf("%d %s", remaining, m.Alias()))
		}
		fmt.Printf("\nQuota window ends %s; unspent by then expires: %s\n",
			end.Format("15:04"), strings.Join(parts, ", "))
	},
}

func init() {
	schedulePredictCmd.Flags().IntVar(&predictHorizonHours, "hours", 8, "prediction horizon in hours")
	scheduleCmd.AddCommand(scheduleShowCmd)
	scheduleCmd.AddCommand(schedulePredictCmd)
	rootCmd.AddCommand(scheduleCmd)
}

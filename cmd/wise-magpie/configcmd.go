package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml",
	Run: func(cmd *cobra.Command, args []string) {
		dir, err := config.Dir()
		if err != nil {
			fail(exitUserError, "%v", err)
		}
		path, err := config.Init(dir, configInitForce)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Wrote %s\n", green("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		cyan := color.New(color.FgCyan).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("Config dir: %s\n\n", cyan(cfg.Dir))

		fmt.Printf("%s\n", yellow("Quota"))
		fmt.Printf("  window:        %s\n", cfg.WindowLength())
		fmt.Printf("  safety margin: %.0f%%\n", cfg.Quota.SafetyMargin*100)
		for _, m := range types.Tiers() {
			fmt.Printf("  %-8s limit: %d msgs/window\n", m.Alias(), cfg.ModelLimit(m))
		}

		fmt.Printf("\n%s\n", yellow("Budget"))
		fmt.Printf("  per task: $%.2f\n", cfg.Budget.MaxTaskUSD)
		fmt.Printf("  per day:  $%.2f\n", cfg.Budget.MaxDailyUSD)

		fmt.Printf("\n%s\n", yellow("Activity"))
		fmt.Printf("  idle threshold: %d min\n", cfg.Activity.IdleThresholdMinutes)
		fmt.Printf("  return buffer:  %d min\n", cfg.Activity.ReturnBufferMinutes)

		fmt.Printf("\n%s\n", yellow("Daemon"))
		fmt.Printf("  poll interval: %s\n", cfg.PollInterval())
		if cfg.AutoSyncInterval() > 0 {
			fmt.Printf("  usage sync:    every %s\n", cfg.AutoSyncInterval())
		} else {
			fmt.Printf("  usage sync:    disabled\n")
		}

		fmt.Printf("\n%s\n", yellow("Assistant"))
		fmt.Printf("  model:       %s\n", cfg.DefaultTaskModel().Alias())
		fmt.Printf("  auto select: %v\n", cfg.Assistant.AutoSelectModel)

		fmt.Printf("\n%s\n", yellow("Auto tasks"))
		fmt.Printf("  enabled:  %v\n", cfg.AutoTasks.Enabled)
		fmt.Printf("  work dir: %s\n", cfg.AutoTasks.WorkDir)
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config.toml in $EDITOR",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		path := cfg.ConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fail(exitPrecondition, "no config file at %s (run 'wise-magpie config init' first)", path)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		edit := exec.Command(editor, path)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		if err := edit.Run(); err != nil {
			fail(exitMissingTool, "running %s: %v", editor, err)
		}

		// Reject edits that would break the next load.
		if _, err := config.Load(); err != nil {
			fail(exitUserError, "%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

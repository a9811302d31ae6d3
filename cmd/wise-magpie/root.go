package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/store"
)

// Exit codes: 1 for bad input, 2 for unmet preconditions (daemon state,
// dirty tree, missing config), 3 for missing external tools.
const (
	exitUserError    = 1
	exitPrecondition = 2
	exitMissingTool  = 3
)

var rootCmd = &cobra.Command{
	Use:   "wise-magpie",
	Short: "Background agent that spends idle assistant quota on your task backlog",
	Long: `wise-magpie watches when you are away from your assistant, learns your
weekly activity pattern, and uses quota that would otherwise expire to work
through a queue of maintenance tasks. Every change lands on an isolated git
branch and waits for your review.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUserError)
	}
}

// fail prints an error and exits with the given code.
func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}

// mustConfig loads the configuration or exits.
func mustConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fail(exitUserError, "%v", err)
	}
	return cfg
}

// mustStore opens the task database, creating the config directory on
// first use.
func mustStore(cfg *config.Config) *store.Store {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		fail(exitPrecondition, "creating %s: %v", cfg.Dir, err)
	}
	s, err := store.Open(cfg.DBPath())
	if err != nil {
		fail(exitPrecondition, "opening database: %v", err)
	}
	return s
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/priority"
	"github.com/wisemagpie/wise-magpie/internal/sources"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task queue",
}

var (
	tasksListStatus string
	tasksListSource string
	tasksListLimit  int
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, highest priority first",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		filter := store.TaskFilter{Limit: tasksListLimit}
		if tasksListStatus != "" {
			filter.Status = types.TaskStatus(tasksListStatus)
			if err := filter.Status.Validate(); err != nil {
				fail(exitUserError, "%v", err)
			}
		}
		if tasksListSource != "" {
			filter.Source = types.TaskSource(tasksListSource)
			if err := filter.Source.Validate(); err != nil {
				fail(exitUserError, "%v", err)
			}
		}

		tasks, err := s.ListTasks(context.Background(), filter)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}
		for _, t := range tasks {
			printTaskLine(t)
		}
	},
}

// printTaskLine renders one task as a list row.
func printTaskLine(t *types.Task) {
	statusColor := map[types.TaskStatus]*color.Color{
		types.StatusPending:        color.New(color.FgYellow),
		types.StatusRunning:        color.New(color.FgCyan),
		types.StatusCompleted:      color.New(color.FgGreen),
		types.StatusAwaitingReview: color.New(color.FgMagenta),
		types.StatusMerged:         color.New(color.FgGreen),
		types.StatusFailed:         color.New(color.FgRed),
		types.StatusRejected:       color.New(color.FgHiBlack),
	}
	c, ok := statusColor[t.Status]
	if !ok {
		c = color.New(color.FgWhite)
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("#%-4d %-16s p%-3d %-13s %s\n",
		t.ID, c.Sprint(t.Status), t.Priority, gray(t.Source), t.Title)
}

var (
	addDescription string
	addModel       string
	addWorkDir     string
	addPriority    int
)

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Queue a task by hand",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title := strings.Join(args, " ")
		if addModel != "" {
			if _, err := types.ResolveModel(addModel); err != nil {
				fail(exitUserError, "%v", err)
			}
		}
		workDir := addWorkDir
		if workDir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fail(exitUserError, "%v", err)
			}
			workDir = cwd
		}

		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		task := types.Task{
			Title:          title,
			Description:    addDescription,
			Source:         types.SourceManual,
			RequestedModel: addModel,
			WorkDir:        workDir,
			Status:         types.StatusPending,
		}
		if cmd.Flags().Changed("priority") {
			if addPriority < 0 || addPriority > 100 {
				fail(exitUserError, "priority must be in [0, 100], got %d", addPriority)
			}
			task.Priority = addPriority
		} else {
			task.Priority = priority.Score(&task)
		}

		if err := s.CreateTask(context.Background(), &task); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Queued task #%d (priority %d)\n", green("✓"), task.ID, task.Priority)
	},
}

var tasksScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the work directory for new tasks",
	Long: `Scan discovers tasks from TODO-style code comments, queue files
(.wise-magpie-tasks, wise-magpie-tasks.md), unchecked markdown checkboxes,
and, when enabled, the recurring maintenance templates. Scanning is
idempotent: already-known items are skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()

		git, err := gitx.New(ctx)
		if err != nil {
			fail(exitMissingTool, "%v", err)
		}

		result, err := sources.NewAggregator(s, cfg, git).Scan(ctx)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s Found %d candidate(s): %d new, %s\n",
			green("✓"), result.Found, result.Added,
			gray(fmt.Sprintf("%d already tracked", result.Duplicates)))
	},
}

var tasksPrioritizeCmd = &cobra.Command{
	Use:   "prioritize <id> <priority>",
	Short: "Override a task's priority",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fail(exitUserError, "invalid task id %q", args[0])
		}
		p, err := strconv.Atoi(args[1])
		if err != nil {
			fail(exitUserError, "invalid priority %q", args[1])
		}

		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		err = s.UpdateTaskPriority(context.Background(), id, p)
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			fail(exitUserError, "no task #%d", id)
		case err != nil:
			fail(exitUserError, "%v", err)
		}
		fmt.Printf("Task #%d priority set to %d\n", id, p)
	},
}

var tasksRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a task from the queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fail(exitUserError, "invalid task id %q", args[0])
		}

		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		err = s.DeleteTask(context.Background(), id)
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			fail(exitUserError, "no task #%d", id)
		case errors.Is(err, store.ErrTaskBusy):
			fail(exitPrecondition, "task #%d is running; stop the daemon first", id)
		case err != nil:
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Removed task #%d\n", green("✓"), id)
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksListStatus, "status", "", "filter by status")
	tasksListCmd.Flags().StringVar(&tasksListSource, "source", "", "filter by source")
	tasksListCmd.Flags().IntVar(&tasksListLimit, "limit", 0, "limit the number of rows")

	tasksAddCmd.Flags().StringVarP(&addDescription, "description", "d", "", "longer task description")
	tasksAddCmd.Flags().StringVarP(&addModel, "model", "m", "", "force a model (opus, sonnet, haiku)")
	tasksAddCmd.Flags().StringVarP(&addWorkDir, "work-dir", "w", "", "repository to work in (default: current directory)")
	tasksAddCmd.Flags().IntVarP(&addPriority, "priority", "p", 0, "override the computed priority (0-100)")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksScanCmd)
	tasksCmd.AddCommand(tasksPrioritizeCmd)
	tasksCmd.AddCommand(tasksRemoveCmd)
	rootCmd.AddCommand(tasksCmd)
}

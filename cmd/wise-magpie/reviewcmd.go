package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review, merge, or reject finished work",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work awaiting review",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()

		tasks, err := s.ListTasks(context.Background(),
			store.TaskFilter{Status: types.StatusAwaitingReview})
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if len(tasks) == 0 {
			fmt.Println("Nothing awaiting review.")
			return
		}
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, t := range tasks {
			fmt.Printf("#%-4d %s\n", t.ID, t.Title)
			fmt.Printf("      %s %s\n", gray("branch:"), t.BranchName)
			if t.FinishedAt != nil {
				fmt.Printf("      %s %s, $%.2f\n", gray("finished:"),
					t.FinishedAt.Format("2006-01-02 15:04"), t.ActualCostUSD)
			}
		}
	},
}

// loadReviewTask fetches a task and checks it is reviewable.
func loadReviewTask(ctx context.Context, s *store.Store, arg string) *types.Task {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fail(exitUserError, "invalid task id %q", arg)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		fail(exitUserError, "%v", err)
	}
	if task.Status != types.StatusAwaitingReview {
		fail(exitPrecondition, "task #%d is %s, not awaiting review", id, task.Status)
	}
	return task
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a finished task's summary, commits, and diff",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		task := loadReviewTask(ctx, s, args[0])

		cyan := color.New(color.FgCyan).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("#%d %s\n", task.ID, cyan(task.Title))
		fmt.Printf("branch: %s  cost: $%.2f\n\n", task.BranchName, task.ActualCostUSD)
		fmt.Printf("%s\n%s\n", yellow("Summary"), task.ResultSummary)

		git, err := gitx.New(ctx)
		if err != nil {
			fail(exitMissingTool, "%v", err)
		}
		base, err := git.BaseBranch(ctx, task.WorkDir)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		log, err := git.BranchLog(ctx, task.WorkDir, task.BranchName, base)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		fmt.Printf("\n%s\n%s\n", yellow("Commits"), log)

		diff, err := git.BranchDiff(ctx, task.WorkDir, task.BranchName, base)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		fmt.Printf("\n%s\n%s\n", yellow("Diff"), diff)
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Merge a finished task's branch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		task := loadReviewTask(ctx, s, args[0])

		git, err := gitx.New(ctx)
		if err != nil {
			fail(exitMissingTool, "%v", err)
		}
		clean, err := git.IsClean(ctx, task.WorkDir)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if !clean {
			fail(exitPrecondition, "working tree in %s has uncommitted changes", task.WorkDir)
		}

		base, err := git.BaseBranch(ctx, task.WorkDir)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		original, err := git.CurrentBranch(ctx, task.WorkDir)
		if err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if original != base {
			if err := git.Checkout(ctx, task.WorkDir, base); err != nil {
				fail(exitPrecondition, "%v", err)
			}
		}
		msg := fmt.Sprintf("Merge assistant work: %s (task #%d)", task.Title, task.ID)
		if err := git.Merge(ctx, task.WorkDir, task.BranchName, msg); err != nil {
			if original != base {
				git.Checkout(ctx, task.WorkDir, original) //nolint:errcheck
			}
			fail(exitPrecondition, "%v", err)
		}
		if original != base {
			if err := git.Checkout(ctx, task.WorkDir, original); err != nil {
				fail(exitPrecondition, "%v", err)
			}
		}
		git.DeleteBranch(ctx, task.WorkDir, task.BranchName) //nolint:errcheck

		if err := s.UpdateTaskStatus(ctx, task.ID, types.StatusMerged); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Merged %s into %s\n", green("✓"), task.BranchName, base)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a finished task and delete its branch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		task := loadReviewTask(ctx, s, args[0])

		git, err := gitx.New(ctx)
		if err != nil {
			fail(exitMissingTool, "%v", err)
		}
		git.DeleteBranch(ctx, task.WorkDir, task.BranchName) //nolint:errcheck

		if err := s.UpdateTaskStatus(ctx, task.ID, types.StatusRejected); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		fmt.Printf("Rejected task #%d and deleted %s\n", task.ID, task.BranchName)
	},
}

var reviewRespondCmd = &cobra.Command{
	Use:   "respond <id> <guidance...>",
	Short: "Send a task back with guidance for another attempt",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		s := mustStore(cfg)
		defer s.Close()
		ctx := context.Background()
		task := loadReviewTask(ctx, s, args[0])
		guidance := strings.Join(args[1:], " ")

		// The old branch goes away; the retry starts from a clean base
		// with the reviewer's feedback folded into the description.
		git, err := gitx.New(ctx)
		if err != nil {
			fail(exitMissingTool, "%v", err)
		}
		git.DeleteBranch(ctx, task.WorkDir, task.BranchName) //nolint:errcheck

		if err := s.AppendTaskDescription(ctx, task.ID,
			"Reviewer feedback on a previous attempt:\n"+guidance); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		if err := s.UpdateTaskStatus(ctx, task.ID, types.StatusPending); err != nil {
			fail(exitPrecondition, "%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Task #%d requeued with your feedback\n", green("✓"), task.ID)
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewRespondCmd)
	rootCmd.AddCommand(reviewCmd)
}

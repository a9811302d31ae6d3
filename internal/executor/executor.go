// Package executor runs one task end to end: sandbox branch, assistant CLI
// subprocess, result parsing, and branch restore. It never touches the task
// store; the daemon owns lifecycle transitions.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

const (
	defaultCLI    = "claude"
	maxTurns      = 50
	branchPrefix  = "assistant/"
	maxSlugLen    = 40
	stderrTailLen = 4 << 10
)

// ErrAssistantNotFound means the assistant CLI is not installed.
var ErrAssistantNotFound = errors.New("assistant CLI not found in PATH")

// Result is a finished assistant run.
type Result struct {
	Summary      string
	Branch       string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
}

// cliOutput is the assistant CLI's JSON result envelope.
type cliOutput struct {
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Executor dispatches tasks to the assistant CLI.
type Executor struct {
	git *gitx.Git
	cfg *config.Config

	// CLI is the assistant binary to invoke.
	CLI string
}

// New builds an executor.
func New(git *gitx.Git, cfg *config.Config) *Executor {
	return &Executor{git: git, cfg: cfg, CLI: defaultCLI}
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a task title into a branch-safe slug.
func slugify(title string) string {
	slug := slugCleaner.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}

// BranchName returns the sandbox branch for a task.
func BranchName(task *types.Task) string {
	return branchPrefix + slugify(task.Title) + "-" + strconv.FormatInt(task.ID, 10)
}

// buildPrompt renders the task into the assistant prompt. All work happens
// on the sandbox branch, so the prompt insists on committed results.
func buildPrompt(task *types.Task) string {
	var b strings.Builder
	b.WriteString("You are working autonomously on a background maintenance task.\n\n")
	b.WriteString("Task: " + task.Title + "\n")
	if task.Description != "" {
		b.WriteString("\n" + task.Description + "\n")
	}
	b.WriteString(`
Rules:
- Make focused changes that address only this task.
- Commit your changes with clear commit messages.
- Run the project's tests if there are any and make sure they pass.
- If the task cannot be completed safely, explain why instead of guessing.
- End with a short summary of what you changed.
`)
	return b.String()
}

// Run executes a task on the given model. The repository gets a fresh
// sandbox branch; the original branch is checked out again on every path
// out of this function. The sandbox branch is always left in place: on
// success it holds the work for review, on failure it keeps whatever was
// committed before the error.
func (e *Executor) Run(ctx context.Context, task *types.Task, model types.Model) (*Result, error) {
	if _, err := exec.LookPath(e.CLI); err != nil {
		return nil, ErrAssistantNotFound
	}
	if !e.git.IsRepo(ctx, task.WorkDir) {
		return nil, fmt.Errorf("%w: %s", gitx.ErrNotARepo, task.WorkDir)
	}
	clean, err := e.git.IsClean(ctx, task.WorkDir)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, gitx.ErrDirtyWorkingTree
	}

	original, err := e.git.CurrentBranch(ctx, task.WorkDir)
	if err != nil {
		return nil, err
	}
	branch := BranchName(task)
	if exists, err := e.git.BranchExists(ctx, task.WorkDir, branch); err != nil {
		return nil, err
	} else if exists {
		// Leftover from an interrupted earlier attempt.
		if err := e.git.DeleteBranch(ctx, task.WorkDir, branch); err != nil {
			return nil, err
		}
	}
	if err := e.git.CreateBranch(ctx, task.WorkDir, branch); err != nil {
		return nil, err
	}

	out, runErr := e.invoke(ctx, task, model)

	if err := e.git.Checkout(ctx, task.WorkDir, original); err != nil {
		return nil, fmt.Errorf("restoring branch %s: %w", original, err)
	}
	if runErr != nil {
		return nil, runErr
	}

	cost := out.TotalCostUSD
	if cost == 0 {
		cost = model.AverageTaskCostUSD()
	}
	return &Result{
		Summary:      out.Result,
		Branch:       branch,
		CostUSD:      cost,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// invoke runs the assistant CLI in the task's work directory.
func (e *Executor) invoke(ctx context.Context, task *types.Task, model types.Model) (*cliOutput, error) {
	args := []string{
		"-p", buildPrompt(task),
		"--output-format", "json",
		"--max-turns", strconv.Itoa(maxTurns),
		"--model", string(model),
		"--max-budget-usd", strconv.FormatFloat(e.cfg.Budget.MaxTaskUSD, 'f', 2, 64),
	}
	args = append(args, e.cfg.Assistant.ExtraFlags...)

	cmd := exec.CommandContext(ctx, e.CLI, args...)
	cmd.Dir = task.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("assistant exited: %w\n%s", err, stderrTail(stderr.Bytes()))
	}

	var out cliOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parsing assistant output: %w", err)
	}
	if out.IsError {
		return nil, fmt.Errorf("assistant reported an error: %s", out.Result)
	}
	return &out, nil
}

// stderrTail keeps the last 4 KiB of stderr for failure summaries.
func stderrTail(b []byte) string {
	if len(b) > stderrTailLen {
		b = b[len(b)-stderrTailLen:]
	}
	return strings.TrimSpace(string(b))
}

package sources

import (
	"context"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// Template is one recurring maintenance task definition.
type Template struct {
	Type        string
	Title       string
	Description string

	IntervalHours    int // 0 means no time gate
	MinCommits       int // commits against main/master required, 0 disables
	NeedsNewCommits  bool
	NeedsCodeChanges bool

	Difficulty types.Difficulty
}

// builtinTemplates is the recurring maintenance catalog. Intervals and
// trigger conditions are overridable per template in [auto_tasks].
var builtinTemplates = []Template{
	{
		Type:             "run_tests",
		Title:            "Run the test suite and fix failures",
		Description:      "Run the project's test suite. If any tests fail, diagnose and fix them. Do not change test expectations unless a test is clearly wrong.",
		IntervalHours:    24,
		NeedsNewCommits:  true,
		Difficulty:       types.DifficultySimple,
	},
	{
		Type:             "update_docs",
		Title:            "Update documentation for recent changes",
		Description:      "Review recent code changes and update README, doc comments, and usage examples that they made stale.",
		IntervalHours:    48,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultySimple,
	},
	{
		Type:             "lint_check",
		Title:            "Run linters and fix warnings",
		Description:      "Run the project's linters and formatters and fix every warning they report.",
		IntervalHours:    12,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultySimple,
	},
	{
		Type:        "clean_commits",
		Title:       "Tidy the branch commit history",
		Description: "Review the commits on this branch against the base branch. Squash fixups, reword unclear messages, and split unrelated changes.",
		MinCommits:  10,
		Difficulty:  types.DifficultyMedium,
	},
	{
		Type:          "dependency_check",
		Title:         "Check dependencies for updates and advisories",
		Description:   "Review the project's dependencies for available updates and known security advisories. Apply safe minor and patch updates.",
		IntervalHours: 168,
		Difficulty:    types.DifficultyMedium,
	},
	{
		Type:             "security_audit",
		Title:            "Audit recent changes for security issues",
		Description:      "Audit recently changed code for security problems: injection, path traversal, secrets in code, unsafe deserialization, missing input validation.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultyComplex,
	},
	{
		Type:             "test_coverage",
		Title:            "Improve test coverage of recent changes",
		Description:      "Identify recently changed code paths without test coverage and add focused tests for them.",
		IntervalHours:    48,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultyMedium,
	},
	{
		Type:             "dead_code_detection",
		Title:            "Remove dead code",
		Description:      "Find unused functions, variables, and files and remove them. Verify nothing references them before deleting.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultySimple,
	},
	{
		Type:        "changelog_generation",
		Title:       "Update the changelog",
		Description: "Summarize the commits since the last changelog entry into a new changelog section.",
		MinCommits:  5,
		Difficulty:  types.DifficultySimple,
	},
	{
		Type:             "deprecation_cleanup",
		Title:            "Migrate off deprecated APIs",
		Description:      "Find usages of deprecated APIs, both in dependencies and in this project's own code, and migrate them to the supported replacements.",
		IntervalHours:    336,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultyComplex,
	},
	{
		Type:             "type_coverage",
		Title:            "Tighten loose types",
		Description:      "Find loosely typed interfaces, any-typed values, and unchecked type assertions in recently changed code and tighten them.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
		Difficulty:       types.DifficultyMedium,
	},
}

// TemplateDifficulty returns the declared difficulty of a template type.
func TemplateDifficulty(taskType string) (types.Difficulty, bool) {
	for _, tpl := range builtinTemplates {
		if tpl.Type == taskType {
			return tpl.Difficulty, true
		}
	}
	return "", false
}

// Templates returns the built-in catalog.
func Templates() []Template {
	out := make([]Template, len(builtinTemplates))
	copy(out, builtinTemplates)
	return out
}

// TemplateSource emits recurring maintenance tasks when their trigger
// conditions hold.
type TemplateSource struct {
	store *store.Store
	cfg   *config.Config
	git   *gitx.Git

	// now is swappable in tests.
	now func() time.Time
}

// NewTemplateSource builds the source.
func NewTemplateSource(s *store.Store, cfg *config.Config, git *gitx.Git) *TemplateSource {
	return &TemplateSource{store: s, cfg: cfg, git: git, now: time.Now}
}

// Name implements Source.
func (t *TemplateSource) Name() string { return "auto_template" }

// effective applies the config override for one template.
func (t *TemplateSource) effective(tpl Template) (Template, bool) {
	ov, ok := t.cfg.AutoTasks.Templates[tpl.Type]
	if !ok {
		return tpl, true
	}
	enabled := true
	if ov.Enabled != nil {
		enabled = *ov.Enabled
	}
	if ov.IntervalHours != nil {
		tpl.IntervalHours = *ov.IntervalHours
	}
	if ov.MinCommits != nil {
		tpl.MinCommits = *ov.MinCommits
	}
	return tpl, enabled
}

// Scan checks every template's conditions in order: enabled, interval
// elapsed, enough commits on the branch, new commits present, code changes
// present, and not already emitted today. A template passing all checks
// yields exactly one candidate, keyed by type and local date.
func (t *TemplateSource) Scan(ctx context.Context, workDir string) ([]types.Task, error) {
	if !t.git.IsRepo(ctx, workDir) {
		return nil, nil
	}
	now := t.now()

	var tasks []types.Task
	for _, builtin := range builtinTemplates {
		tpl, enabled := t.effective(builtin)
		if !enabled {
			continue
		}

		lastDone, hasRun, err := t.store.LastTemplateCompletion(ctx, tpl.Type)
		if err != nil {
			return nil, err
		}
		interval := time.Duration(tpl.IntervalHours) * time.Hour
		if interval > 0 && hasRun && now.Sub(lastDone) < interval {
			continue
		}

		if tpl.MinCommits > 0 {
			n, err := t.git.CommitCountAgainstBase(ctx, workDir)
			if err != nil {
				return nil, err
			}
			if n < tpl.MinCommits {
				continue
			}
		}

		// Activity checks look back to the last completion, or one
		// interval when the template has never run.
		since := lastDone
		if !hasRun {
			lookback := interval
			if lookback == 0 {
				lookback = 24 * time.Hour
			}
			since = now.Add(-lookback)
		}
		if tpl.NeedsNewCommits {
			has, err := t.git.HasCommitsSince(ctx, workDir, since)
			if err != nil {
				return nil, err
			}
			if !has {
				continue
			}
		}
		if tpl.NeedsCodeChanges {
			has, err := t.git.HasCodeChangesSince(ctx, workDir, since)
			if err != nil {
				return nil, err
			}
			if !has {
				continue
			}
		}

		ref := tpl.Type + ":" + now.Format("2006-01-02")
		exists, err := t.store.HasTaskWithSourceRef(ctx, types.SourceAutoTemplate, ref)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		tasks = append(tasks, types.Task{
			Title:       tpl.Title,
			Description: tpl.Description,
			Source:      types.SourceAutoTemplate,
			SourceRef:   ref,
		})
	}
	return tasks, nil
}

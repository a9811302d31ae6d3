// Package sources discovers candidate tasks: TODO-style code comments,
// queue-file entries, unchecked markdown checkboxes, and recurring
// maintenance templates. The aggregator scores candidates and inserts them
// through the store's dedup index, so repeated scans are idempotent.
package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/priority"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// Source is one task discovery mechanism.
type Source interface {
	// Name identifies the source in logs and scan summaries.
	Name() string
	// Scan returns candidate tasks found in the work directory. Candidates
	// carry Title, Description, Source, SourceRef, and RequestedModel;
	// the aggregator fills in the rest.
	Scan(ctx context.Context, workDir string) ([]types.Task, error)
}

// ScanResult summarizes one aggregator pass.
type ScanResult struct {
	Found      int // candidates discovered
	Added      int // new tasks created
	Duplicates int // candidates already tracked
}

// Aggregator runs all sources and persists new candidates.
type Aggregator struct {
	store   *store.Store
	cfg     *config.Config
	sources []Source
}

// NewAggregator wires the standard sources. The template source is only
// included when auto tasks are enabled.
func NewAggregator(s *store.Store, cfg *config.Config, git *gitx.Git) *Aggregator {
	srcs := []Source{
		NewCommentScanner(git),
		NewQueueFileScanner(),
		NewMarkdownScanner(git),
	}
	if cfg.AutoTasks.Enabled {
		srcs = append(srcs, NewTemplateSource(s, cfg, git))
	}
	return &Aggregator{store: s, cfg: cfg, sources: srcs}
}

// Scan runs every source against the configured work directory and inserts
// the candidates it finds. Duplicates are counted, not errors.
func (a *Aggregator) Scan(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{}
	workDir := a.cfg.AutoTasks.WorkDir

	for _, src := range a.sources {
		candidates, err := src.Scan(ctx, workDir)
		if err != nil {
			return result, fmt.Errorf("scanning %s: %w", src.Name(), err)
		}
		result.Found += len(candidates)

		for i := range candidates {
			task := candidates[i]
			if task.WorkDir == "" {
				task.WorkDir = workDir
			}
			task.Status = types.StatusPending
			task.Priority = priority.Score(&task)

			if err := a.store.CreateTask(ctx, &task); err != nil {
				if errors.Is(err, store.ErrDuplicateTask) {
					result.Duplicates++
					continue
				}
				return result, fmt.Errorf("creating task from %s: %w", src.Name(), err)
			}
			result.Added++
		}
	}
	return result, nil
}

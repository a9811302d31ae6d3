// Package priority scores tasks so the scheduler always picks the most
// valuable pending work first.
package priority

import (
	"regexp"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// sourceBase weights task origins: explicit operator intent scores highest,
// speculative scanner finds lowest.
var sourceBase = map[types.TaskSource]int{
	types.SourceManual:       40,
	types.SourceQueueFile:    35,
	types.SourceIssue:        30,
	types.SourceAutoTemplate: 25,
	types.SourceCodeComment:  20,
	types.SourceMarkdown:     15,
}

// keywordBoost adds points when the pattern matches title or description.
// Each category counts at most once.
type keywordBoost struct {
	pattern *regexp.Regexp
	points  int
}

var keywordBoosts = []keywordBoost{
	{regexp.MustCompile(`(?i)security|vulnerability`), 30},
	{regexp.MustCompile(`(?i)bug|fix|crash|error`), 25},
	{regexp.MustCompile(`FIXME`), 20},
	{regexp.MustCompile(`(?i)performance`), 15},
	{regexp.MustCompile(`HACK|XXX`), 15},
	{regexp.MustCompile(`(?i)refactor|cleanup`), 10},
	{regexp.MustCompile(`(?i)test`), 8},
	{regexp.MustCompile(`(?i)docs`), 5},
}

const (
	shortDescThreshold = 200
	shortDescMaxBonus  = 15
)

// Score computes a task's scheduling priority in [0, 100]: the source base
// weight, plus keyword boosts over title and description, plus a bonus for
// short well-scoped descriptions.
func Score(task *types.Task) int {
	score := sourceBase[task.Source]

	text := task.Title + "\n" + task.Description
	for _, b := range keywordBoosts {
		if b.pattern.MatchString(text) {
			score += b.points
		}
	}

	// Short descriptions tend to be concrete and finishable in one pass:
	// the bonus scales linearly from +15 at empty down to 0 at 200 chars.
	if n := len(task.Description); n < shortDescThreshold {
		score += shortDescMaxBonus * (shortDescThreshold - n) / shortDescThreshold
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

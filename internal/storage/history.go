package storage

import (
	"time"

	"github.com/knusbaum/robby/internal/runner"
	"github.com/knusbaum/robby/internal/stats"
)

// HistoryItem is one finished run as saved to disk.
type HistoryItem struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Scenario  string        `json:"scenario"`
	Config    runner.Config `json:"config"`
	Summary   RunSummary    `json:"summary"`
}

type RunSummary struct {
	Duration time.Duration        `json:"duration"`
	Total    stats.EntrySummary   `json:"total"`
	Entries  []stats.EntrySummary `json:"entries"`
	Errors   map[string]uint64    `json:"errors,omitempty"`
}

// Summarize copies the runner's current stats into a RunSummary.
func Summarize(r *runner.Runner) RunSummary {
	entries := r.Stats.Entries()
	sum := RunSummary{
		Duration: r.Snapshot().Elapsed,
		Total:    r.Stats.Total().Summary(),
		Entries:  make([]stats.EntrySummary, 0, len(entries)),
		Errors:   r.Stats.ErrorCounts(),
	}
	for _, e := range entries {
		sum.Entries = append(sum.Entries, e.Summary())
	}
	return sum
}

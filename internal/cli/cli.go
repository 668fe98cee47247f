package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/knusbaum/robby/internal/runner"
	"github.com/knusbaum/robby/internal/stats"
	"github.com/knusbaum/robby/internal/styles"
)

const rule = "======================================================================"

// Start runs r headless, printing a progress line every tick and a summary
// at the end. Reports are written when Cfg.OutPrefix is set.
func Start(ctx context.Context, r *runner.Runner, out io.Writer, tick time.Duration) error {
	printHeader(out, r)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			snap := r.Snapshot()
			printProgress(out, r.Cfg, snap)
			printSummary(out, r.Stats, snap.Elapsed)
			return handleAutoReport(out, r)
		case <-ticker.C:
			printProgress(out, r.Cfg, r.Snapshot())
		}
	}
}

func printHeader(out io.Writer, r *runner.Runner) {
	cfg := r.Cfg
	fmt.Fprintf(out, "\n%s\n", styles.Title.Render("STARTING ROBBY LOAD TEST"))
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Scenario   : %s\n", r.Scenario.Name)
	fmt.Fprintf(out, "Host       : %s\n", cfg.Host)
	fmt.Fprintf(out, "Users      : %d (spawn rate %g/s)\n", cfg.NumUsers, cfg.SpawnRate)
	fmt.Fprintf(out, "Wait       : %s - %s\n", r.Scenario.MinWait, r.Scenario.MaxWait)
	fmt.Fprintf(out, "Run time   : %s\n", cfg.RunTime)
	fmt.Fprintf(out, "Timeout    : %ds\n", cfg.TimeoutSec)
	fmt.Fprintf(out, "%s\n\n", rule)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printProgress(out io.Writer, cfg runner.Config, snap runner.Snapshot) {
	pct := 0.0
	if cfg.RunTime > 0 {
		pct = snap.Elapsed.Seconds() / cfg.RunTime.Seconds()
	}
	if pct > 1.0 {
		pct = 1.0
	}
	rps := 0.0
	if snap.Elapsed.Seconds() > 0 {
		rps = float64(snap.Requests) / snap.Elapsed.Seconds()
	}

	fmt.Fprintf(out, "\r%s %3.0f%% | %s/%s | Users: %3d | Inf: %3d | RPS: %.1f | Reqs: %d | Fail: %d",
		progressBar(pct, 20), pct*100,
		snap.Elapsed.Round(time.Second), cfg.RunTime,
		snap.ActiveUsers,
		snap.Inflight,
		rps,
		snap.Requests,
		snap.Fail,
	)
}

func printSummary(out io.Writer, s *stats.Stats, elapsed time.Duration) {
	fmt.Fprintf(out, "\n\n%s\n", styles.Title.Render("LOAD TEST RESULTS"))
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "%s\n", styles.Header.Render(fmt.Sprintf("%-24s %8s %8s %9s %9s %9s %9s %9s",
		"Name", "# reqs", "# fails", "Avg", "Min", "Max", "P50", "P99")))

	rows := make([]stats.EntrySummary, 0)
	for _, e := range s.Entries() {
		rows = append(rows, e.Summary())
	}
	for _, row := range rows {
		fmt.Fprintln(out, formatRow(row))
	}
	fmt.Fprintln(out, strings.Repeat("-", len(rule)))
	total := s.Total().Summary()
	fmt.Fprintln(out, formatRow(total))

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total.Requests) / elapsed.Seconds()
	}
	fmt.Fprintf(out, "\n%s\n", styles.Label("Total Duration", elapsed.Round(time.Millisecond).String()))
	fmt.Fprintf(out, "%s\n", styles.Label("Actual RPS", fmt.Sprintf("%.2f", rps)))
	fmt.Fprintf(out, "%s\n", styles.Label("Failure Rate", fmt.Sprintf("%.2f%%", s.ErrorRate())))

	errCounts := s.ErrorCounts()
	if len(errCounts) > 0 {
		fmt.Fprintf(out, "\n%s\n", styles.Error.Render("FAILURE SUMMARY"))
		keys := make([]string, 0, len(errCounts))
		for k := range errCounts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return errCounts[keys[i]] > errCounts[keys[j]] })
		for _, k := range keys {
			fmt.Fprintf(out, "   %d x %s\n", errCounts[k], k)
		}
	}
	fmt.Fprintln(out, rule)
}

func formatRow(e stats.EntrySummary) string {
	return fmt.Sprintf("%-24s %8d %8d %9.1f %9.1f %9.1f %9.1f %9.1f",
		e.Name, e.Requests, e.Fail, e.AvgMs, e.MinMs, e.MaxMs, e.P50Ms, e.P99Ms)
}

func handleAutoReport(out io.Writer, r *runner.Runner) error {
	prefix := r.Cfg.OutPrefix
	if prefix == "" {
		return nil
	}

	fmt.Fprintf(out, "\nGenerating reports with prefix: %s\n", prefix)
	if err := ExportStatsCSV(r.Stats, prefix+"_stats.csv"); err != nil {
		return fmt.Errorf("write stats csv: %w", err)
	}
	if err := ExportRequestsCSV(r.Results(), prefix+"_requests.csv"); err != nil {
		return fmt.Errorf("write requests csv: %w", err)
	}
	if err := ExportRequestsJSON(r.Results(), prefix+"_requests.json"); err != nil {
		return fmt.Errorf("write requests json: %w", err)
	}
	if err := ExportSummary(r, prefix+"_summary.json"); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	log.Info().Str("prefix", prefix).Msg("reports written")
	fmt.Fprintf(out, "%s\n", styles.Success.Render(fmt.Sprintf("Reports saved to %s{_stats.csv,_requests.csv,_requests.json,_summary.json}", prefix)))
	return nil
}

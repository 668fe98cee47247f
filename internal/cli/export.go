package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/knusbaum/robby/internal/runner"
	"github.com/knusbaum/robby/internal/stats"
	"github.com/knusbaum/robby/internal/storage"
)

// ExportStatsCSV writes one row per request name plus the aggregate row.
func ExportStatsCSV(s *stats.Stats, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"Name", "Request Count", "Failure Count",
		"Average Response Time", "Min Response Time", "Max Response Time",
		"50%", "90%", "95%", "99%", "Total Content Size",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	rows := make([]stats.EntrySummary, 0)
	for _, e := range s.Entries() {
		rows = append(rows, e.Summary())
	}
	rows = append(rows, s.Total().Summary())

	for _, e := range rows {
		record := []string{
			e.Name,
			strconv.FormatUint(e.Requests, 10),
			strconv.FormatUint(e.Fail, 10),
			fmt.Sprintf("%.2f", e.AvgMs),
			fmt.Sprintf("%.2f", e.MinMs),
			fmt.Sprintf("%.2f", e.MaxMs),
			fmt.Sprintf("%.2f", e.P50Ms),
			fmt.Sprintf("%.2f", e.P90Ms),
			fmt.Sprintf("%.2f", e.P95Ms),
			fmt.Sprintf("%.2f", e.P99Ms),
			strconv.FormatUint(e.Bytes, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportRequestsCSV writes every recorded request, JMeter style.
func ExportRequestsCSV(results []runner.RequestResult, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"threadName", "success", "failureMessage", "bytes", "URL",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		record := []string{
			strconv.FormatInt(res.TimeStamp.UnixMilli(), 10),
			strconv.FormatInt(res.Latency.Milliseconds(), 10),
			res.Method + " " + res.Path,
			strconv.Itoa(res.Status),
			http.StatusText(res.Status),
			"User-" + res.UserID,
			strconv.FormatBool(res.Success),
			res.Err,
			strconv.FormatInt(res.Bytes, 10),
			res.Path,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportRequestsJSON writes every recorded request as a JSON array.
func ExportRequestsJSON(results []runner.RequestResult, filename string) error {
	if results == nil {
		results = []runner.RequestResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ExportSummary writes the run config and per-name summary as JSON.
func ExportSummary(r *runner.Runner, filename string) error {
	doc := struct {
		Scenario string             `json:"scenario"`
		Config   runner.Config      `json:"config"`
		Summary  storage.RunSummary `json:"summary"`
	}{
		Scenario: r.Scenario.Name,
		Config:   r.Cfg,
		Summary:  storage.Summarize(r),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ExportCSV writes one row per target.
func ExportCSV(s Summary, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"target", "started_at", "duration_ms", "ops", "errors", "error_pct",
		"ops_per_sec", "remaining", "workers", "failed_workers",
		"p50_ms", "p90_ms", "p99_ms", "max_ms", "failure",
		"searches", "search_errors", "search_p99_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range s.Targets {
		remaining := ""
		if r.Remaining != nil {
			remaining = strconv.FormatInt(*r.Remaining, 10)
		}
		started := ""
		if !r.StartedAt.IsZero() {
			started = strconv.FormatInt(r.StartedAt.UnixMilli(), 10)
		}
		record := []string{
			r.Target,
			started,
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			strconv.FormatInt(r.Ops, 10),
			strconv.FormatInt(r.Errors, 10),
			fmt.Sprintf("%.4f", r.ErrorPct),
			fmt.Sprintf("%.2f", r.OpsPerSec),
			remaining,
			strconv.Itoa(r.Workers),
			strconv.Itoa(r.FailedWorkers),
			ms(r.Latency.P50),
			ms(r.Latency.P90),
			ms(r.Latency.P99),
			ms(r.Latency.Max),
			r.Error,
			strconv.FormatInt(r.Searches, 10),
			strconv.FormatInt(r.SearchErrors, 10),
			ms(r.SearchLatency.P99),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON writes the full summary.
func ExportJSON(s Summary, filename string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Export writes prefix.json and prefix.csv and returns the paths.
func Export(s Summary, prefix string) ([]string, error) {
	paths := []string{prefix + ".json", prefix + ".csv"}
	if err := ExportJSON(s, paths[0]); err != nil {
		return nil, fmt.Errorf("export json: %w", err)
	}
	if err := ExportCSV(s, paths[1]); err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	return paths, nil
}

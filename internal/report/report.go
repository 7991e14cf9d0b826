// Package report folds run results into a summary and renders it.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"crudstress/internal/runner"
	"crudstress/internal/tui/styles"
)

// Row is one target's line in the summary.
type Row struct {
	runner.Result
	OpsPerSec float64 `json:"ops_per_sec"`
	ErrorPct  float64 `json:"error_pct"`
	Error     string  `json:"error,omitempty"`
}

type Summary struct {
	Targets     []Row         `json:"targets"`
	TotalOps    int64         `json:"total_ops"`
	TotalErrors int64         `json:"total_errors"`
	Wall        time.Duration `json:"wall"`
	OpsPerSec   float64       `json:"ops_per_sec"`
	Failed      int           `json:"failed_targets"`
}

// Aggregate sums results. Throughput is computed over wall time, the span
// in which all targets ran concurrently.
func Aggregate(results []runner.Result, wall time.Duration) Summary {
	s := Summary{Wall: wall, Targets: make([]Row, 0, len(results))}
	for _, r := range results {
		row := Row{Result: r, ErrorPct: r.ErrorRate()}
		if r.Duration > 0 {
			row.OpsPerSec = float64(r.Ops) / r.Duration.Seconds()
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		if r.Failed() {
			s.Failed++
		}
		s.TotalOps += r.Ops
		s.TotalErrors += r.Errors
		s.Targets = append(s.Targets, row)
	}
	if wall > 0 {
		s.OpsPerSec = float64(s.TotalOps) / wall.Seconds()
	}
	return s
}

// AllFailed reports whether no target could run.
func (s Summary) AllFailed() bool {
	return len(s.Targets) > 0 && s.Failed == len(s.Targets)
}

const rule = "======================================================================"

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2f", float64(d.Microseconds())/1000)
}

// Render writes the human-readable report.
func Render(w io.Writer, s Summary) error {
	var b strings.Builder

	b.WriteString("\n" + styles.Title.Render("CRUD STRESS RESULTS") + "\n")
	b.WriteString(rule + "\n")

	for _, r := range s.Targets {
		b.WriteString(styles.Active.Render(strings.ToUpper(r.Target)) + "\n")
		if r.Error != "" {
			fmt.Fprintf(&b, "   %s\n\n", styles.Error.Render("FAILURE: "+r.Error))
			continue
		}

		remaining := "unknown"
		if r.Remaining != nil {
			remaining = fmt.Sprintf("%d", *r.Remaining)
		}
		fmt.Fprintf(&b, "   Duration       : %s\n", r.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "   Operations     : %d (%.1f ops/s)\n", r.Ops, r.OpsPerSec)

		errStyle := styles.Value
		if r.Errors > 0 {
			errStyle = styles.Warn
		}
		fmt.Fprintf(&b, "   Errors         : %s\n", errStyle.Render(fmt.Sprintf("%d (%.2f%%)", r.Errors, r.ErrorPct)))
		fmt.Fprintf(&b, "   Remaining      : %s\n", remaining)
		fmt.Fprintf(&b, "   Workers        : %d (%d failed)\n", r.Workers, r.FailedWorkers)
		fmt.Fprintf(&b, "   Cycle ms       : p50 %s  p90 %s  p99 %s  max %s\n",
			ms(r.Latency.P50), ms(r.Latency.P90), ms(r.Latency.P99), ms(r.Latency.Max))

		if r.Failed() {
			fmt.Fprintf(&b, "   %s\n", styles.Error.Render(fmt.Sprintf("FAILURE: all %d workers failed to connect", r.Workers)))
		}
		if len(r.ErrorSamples) > 0 {
			b.WriteString("   Failure summary:\n")
			for _, e := range topErrors(r.ErrorSamples, 5) {
				fmt.Fprintf(&b, "      %d x %s\n", e.n, e.msg)
			}
		}
		if r.Searches > 0 {
			searchStyle := styles.Value
			if r.SearchErrors > 0 {
				searchStyle = styles.Warn
			}
			fmt.Fprintf(&b, "   Searches       : %d, errors %s\n", r.Searches,
				searchStyle.Render(fmt.Sprintf("%d (%.2f%%)", r.SearchErrors, r.SearchErrorRate())))
			fmt.Fprintf(&b, "   Search ms      : p50 %s  p99 %s  max %s\n",
				ms(r.SearchLatency.P50), ms(r.SearchLatency.P99), ms(r.SearchLatency.Max))
			if len(r.SearchErrorSamples) > 0 {
				b.WriteString("   Search failures:\n")
				for _, e := range topErrors(r.SearchErrorSamples, 3) {
					fmt.Fprintf(&b, "      %d x %s\n", e.n, e.msg)
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Total Operations : %d\n", s.TotalOps)
	fmt.Fprintf(&b, "Total Errors     : %d\n", s.TotalErrors)
	fmt.Fprintf(&b, "Wall Time        : %s\n", s.Wall.Round(time.Millisecond))
	fmt.Fprintf(&b, "Throughput       : %s\n", styles.Success.Render(fmt.Sprintf("%.2f ops/s", s.OpsPerSec)))
	if s.Failed > 0 {
		fmt.Fprintf(&b, "Failed Targets   : %s\n", styles.Error.Render(fmt.Sprintf("%d", s.Failed)))
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

type errCount struct {
	msg string
	n   int64
}

func topErrors(m map[string]int64, limit int) []errCount {
	out := make([]errCount, 0, len(m))
	for k, v := range m {
		out = append(out, errCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].msg < out[j].msg
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Package report prints the end-of-run "Statistics:" block, following
// the layout of the original dnsperf's print_statistics and the
// [Status] lines it prints around the run, per spec.md §6.
package report

import (
	"fmt"
	"io"
	"time"

	"dnsperf-go/internal/dnswire"
	"dnsperf-go/internal/engine"
)

// Params carries everything the report needs beyond the aggregated
// Snapshot and the raw per-worker sample buffers (both passed to
// PrintComplete separately): run identity, wall-clock bounds, and
// whether to print the latency-detail dump.
type Params struct {
	RunID      string
	ServerAddr string
	Mode       string
	NumThreads int
	StartTime  time.Time
	EndTime    time.Time
	Interrupted bool
	VerboseLatencyDump bool
}

// PrintStarting emits the "[Status]" preamble before the run begins.
func PrintStarting(w io.Writer, p Params) {
	fmt.Fprintf(w, "[Status] Run ID: %s\n", p.RunID)
	fmt.Fprintf(w, "[Status] Sending queries (to %s over %s)\n", p.ServerAddr, p.Mode)
	fmt.Fprintf(w, "[Status] Started at: %s\n", p.StartTime.Format(time.RFC3339))
}

// PrintComplete emits the "[Status] Testing complete" line plus the
// full "Statistics:" block.
func PrintComplete(w io.Writer, p Params, total engine.Snapshot, samples [][]uint64) {
	reason := "done sending"
	if p.Interrupted {
		reason = "interrupted"
	}
	fmt.Fprintf(w, "[Status] Testing complete (%s)\n\n", reason)

	fmt.Fprintf(w, "Statistics:\n\n")
	fmt.Fprintf(w, "  Queries sent:         %d\n", total.NumSent)
	lostPct, completedPct := 0.0, 0.0
	if total.NumSent > 0 {
		completedPct = 100 * float64(total.NumCompleted) / float64(total.NumSent)
		lostPct = 100 * float64(total.NumTimedOut) / float64(total.NumSent)
	}
	fmt.Fprintf(w, "  Queries completed:    %d (%.2f%%)\n", total.NumCompleted, completedPct)
	fmt.Fprintf(w, "  Queries lost:         %d (%.2f%%)\n", total.NumTimedOut, lostPct)
	if total.NumInterrupted > 0 {
		interruptedPct := 0.0
		if total.NumSent > 0 {
			interruptedPct = 100 * float64(total.NumInterrupted) / float64(total.NumSent)
		}
		fmt.Fprintf(w, "  Queries interrupted:  %d (%.2f%%)\n", total.NumInterrupted, interruptedPct)
	}
	if total.NumShort > 0 {
		fmt.Fprintf(w, "  Short responses:      %d\n", total.NumShort)
	}
	if total.NumUnexpected > 0 {
		fmt.Fprintf(w, "  Unexpected replies:   %d\n", total.NumUnexpected)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Response codes:       %s\n", formatRcodes(total))
	fmt.Fprintln(w)

	avgReq, avgResp := 0.0, 0.0
	if total.NumSent > 0 {
		avgReq = float64(total.TotalRequestSize) / float64(total.NumSent)
	}
	if total.NumCompleted > 0 {
		avgResp = float64(total.TotalResponseSize) / float64(total.NumCompleted)
	}
	fmt.Fprintf(w, "  Average packet size:  request %.2f, response %.2f\n", avgReq, avgResp)
	fmt.Fprintln(w)

	runTime := p.EndTime.Sub(p.StartTime)
	fmt.Fprintf(w, "  Run time (s):         %.6f\n", runTime.Seconds())
	qps := 0.0
	if runTime > 0 {
		qps = float64(total.NumCompleted) / runTime.Seconds()
	}
	fmt.Fprintf(w, "  Queries per second:   %.6f\n", qps)
	fmt.Fprintln(w)

	if total.NumCompleted > 0 {
		mean := total.Mean() / 1e6
		stddev := total.Stddev() / 1e6
		minS := float64(total.LatencyMin) / 1e6
		maxS := float64(total.LatencyMax) / 1e6
		fmt.Fprintf(w, "  Average latency (s):  %.6f (min %.6f, max %.6f)\n", mean, minS, maxS)
		fmt.Fprintf(w, "  Latency stddev (s):   %.6f\n", stddev)

		all := flatten(samples)
		if p50, p95, p99, err := engine.Percentiles(all); err == nil {
			fmt.Fprintf(w, "  Latency p50/p95/p99 (s): %.6f / %.6f / %.6f\n", p50/1e6, p95/1e6, p99/1e6)
		}
	}
	fmt.Fprintln(w)

	if p.VerboseLatencyDump {
		fmt.Fprintf(w, "  Latency details (threads=%d):\n", p.NumThreads)
		for tid, worker := range samples {
			for _, us := range worker {
				fmt.Fprintf(w, "  %d.%06d (thread=%d)\n", us/1_000_000, us%1_000_000, tid)
			}
		}
	}
}

// formatRcodes prints every rcode bucket, zero counts included, in
// table order (spec.md §10's "always in full 16-entry order"),
// comma-joined.
func formatRcodes(total engine.Snapshot) string {
	out := ""
	first := true
	for i, count := range total.RcodeCounts {
		pct := 0.0
		if total.NumCompleted > 0 {
			pct = 100 * float64(count) / float64(total.NumCompleted)
		}
		if !first {
			out += ", "
		}
		first = false
		out += fmt.Sprintf("%s %d (%.2f%%)", dnswire.RcodeNames[i], count, pct)
	}
	return out
}

func flatten(samples [][]uint64) []uint64 {
	n := 0
	for _, s := range samples {
		n += len(s)
	}
	out := make([]uint64, 0, n)
	for _, s := range samples {
		out = append(out, s...)
	}
	return out
}

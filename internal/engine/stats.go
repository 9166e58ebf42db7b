// Stats aggregator (C7): per-worker counters and latency sample
// buffer, cross-worker summation, and standard-deviation math, per
// spec.md §4.7. Percentiles are an additive expansion (SPEC_FULL.md
// §4.7a) computed read-only over the sample buffers after join.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/montanaflynn/stats"
)

// WorkerStats holds one worker's counters. NumSent/TotalRequestSize
// are written only by the sender and read without synchronization, as
// spec.md §5 allows. Every field below is written only by the
// receiver; NumCompleted is additionally read by the sender's
// anti-flood check (spec.md §4.3a) while the run is still live, so it
// (and everything else the receiver exposes across goroutines) is
// atomic. Latency sums are receiver-exclusive even across that read,
// so they stay plain floats.
type WorkerStats struct {
	NumSent          uint64
	TotalRequestSize uint64

	NumCompleted      atomic.Uint64
	NumTimedOut       atomic.Uint64
	NumInterrupted    atomic.Uint64
	NumShort          atomic.Uint64
	NumUnexpected     atomic.Uint64
	TotalResponseSize atomic.Uint64
	RcodeCounts       [16]atomic.Uint64

	latencySum        float64
	latencySumSquares float64
	latencyMin        uint64
	latencyMax        uint64
	latencyMinSet     bool
}

// recordLatency must only be called by the owning worker's receiver.
func (s *WorkerStats) recordLatency(microseconds uint64) {
	f := float64(microseconds)
	s.latencySum += f
	s.latencySumSquares += f * f
	if !s.latencyMinSet || microseconds < s.latencyMin {
		s.latencyMin = microseconds
		s.latencyMinSet = true
	}
	if microseconds > s.latencyMax {
		s.latencyMax = microseconds
	}
}

// Snapshot is a plain-value copy of WorkerStats safe to hand across
// goroutines once a worker has joined (or, for the interval
// publisher, while it is merely stale-but-harmless to read).
type Snapshot struct {
	NumSent, NumCompleted, NumTimedOut, NumInterrupted uint64
	NumShort, NumUnexpected                             uint64
	TotalRequestSize, TotalResponseSize                 uint64
	RcodeCounts                                         [16]uint64
	LatencySum, LatencySumSquares                       float64
	LatencyMin, LatencyMax                               uint64
}

func (s *WorkerStats) Snapshot() Snapshot {
	var snap Snapshot
	snap.NumSent = s.NumSent
	snap.TotalRequestSize = s.TotalRequestSize
	snap.NumCompleted = s.NumCompleted.Load()
	snap.NumTimedOut = s.NumTimedOut.Load()
	snap.NumInterrupted = s.NumInterrupted.Load()
	snap.NumShort = s.NumShort.Load()
	snap.NumUnexpected = s.NumUnexpected.Load()
	snap.TotalResponseSize = s.TotalResponseSize.Load()
	for i := range s.RcodeCounts {
		snap.RcodeCounts[i] = s.RcodeCounts[i].Load()
	}
	snap.LatencySum = s.latencySum
	snap.LatencySumSquares = s.latencySumSquares
	snap.LatencyMin = s.latencyMin
	snap.LatencyMax = s.latencyMax
	return snap
}

// Sum combines per-worker snapshots. It works on plain-value copies and
// needs no atomicity; Coordinator.Run calls it once after every worker
// has joined, and Coordinator.LiveSnapshot also calls it mid-run.
func Sum(snapshots []Snapshot) Snapshot {
	var total Snapshot
	for _, s := range snapshots {
		total.NumSent += s.NumSent
		total.NumCompleted += s.NumCompleted
		total.NumTimedOut += s.NumTimedOut
		total.NumInterrupted += s.NumInterrupted
		total.NumShort += s.NumShort
		total.NumUnexpected += s.NumUnexpected
		total.TotalRequestSize += s.TotalRequestSize
		total.TotalResponseSize += s.TotalResponseSize
		for i := range s.RcodeCounts {
			total.RcodeCounts[i] += s.RcodeCounts[i]
		}
		total.LatencySum += s.LatencySum
		total.LatencySumSquares += s.LatencySumSquares
		if s.NumCompleted > 0 {
			if total.LatencyMin == 0 || s.LatencyMin < total.LatencyMin {
				total.LatencyMin = s.LatencyMin
			}
			if s.LatencyMax > total.LatencyMax {
				total.LatencyMax = s.LatencyMax
			}
		}
	}
	return total
}

// Mean returns the mean latency in microseconds.
func (s Snapshot) Mean() float64 {
	if s.NumCompleted == 0 {
		return 0
	}
	return s.LatencySum / float64(s.NumCompleted)
}

// Stddev implements spec.md §4.7's formula exactly:
// sqrt((Σx² - (Σx)²/n) / (n-1)) for n >= 2, else 0.
func (s Snapshot) Stddev() float64 {
	n := float64(s.NumCompleted)
	if n < 2 {
		return 0
	}
	variance := (s.LatencySumSquares - (s.LatencySum*s.LatencySum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Percentiles computes p50/p95/p99 latency (microseconds) from the
// raw per-worker sample buffers.
func Percentiles(samples []uint64) (p50, p95, p99 float64, err error) {
	data := make(stats.Float64Data, len(samples))
	for i, v := range samples {
		data[i] = float64(v)
	}
	if p50, err = stats.Percentile(data, 50); err != nil {
		return 0, 0, 0, err
	}
	if p95, err = stats.Percentile(data, 95); err != nil {
		return 0, 0, 0, err
	}
	p99, err = stats.Percentile(data, 99)
	return p50, p95, p99, err
}

// SampleBuffer is the per-worker latency sample buffer from spec.md
// §3, pre-allocated up to a tunable capacity (DESIGN.md decides this
// at 1,000,000 rather than the original's 10^8). Writes past capacity
// are silently dropped, matching spec.md §9's documented behavior.
type SampleBuffer struct {
	samples []uint64
	limit   int
}

func NewSampleBuffer(limit int) *SampleBuffer {
	initial := limit
	if initial > 4096 {
		initial = 4096
	}
	return &SampleBuffer{samples: make([]uint64, 0, initial), limit: limit}
}

func (b *SampleBuffer) Append(v uint64) {
	if len(b.samples) >= b.limit {
		return
	}
	b.samples = append(b.samples, v)
}

// Samples returns the buffer in insertion order, per spec.md §4.7's
// reporting requirement.
func (b *SampleBuffer) Samples() []uint64 { return b.samples }

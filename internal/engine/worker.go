// Worker (C5): owns one thread pair's query table, socket bank, and
// stats; spawns the sender/receiver loops and joins them on shutdown,
// per spec.md §4.5.
package engine

import (
	"sync"
	"time"

	"dnsperf-go/internal/dnswire"
	"dnsperf-go/internal/input"

	"github.com/sirupsen/logrus"
)

// DNSEvent is handed to an optional observer (the dnstap emitter,
// C14) for every sent query and every matched reply. Observers must
// never block; Worker invokes OnEvent synchronously from the hot
// path, so implementations are expected to enqueue onto their own
// bounded, drop-on-overflow channel (see internal/dnstapexport).
type DNSEvent struct {
	WorkerID   int
	Sent       bool // true = outgoing query, false = matched reply
	QID        uint16
	Payload    []byte
	At         time.Time
	ServerAddr string
}

// Config is one worker's share of the global limits plus its DNS
// build options. NewCoordinator fills this in with splitResource per
// spec.md §4.6.
type Config struct {
	MaxOutstanding int
	MaxQPS         float64 // 0 = unlimited
	Timeout        time.Duration
	Verbose        bool
	MaxSamples     int
	DNSOpts        dnswire.Options
	ServerAddr     string
	OnEvent        func(DNSEvent)
}

// Worker owns everything spec.md §3 scopes to a single worker.
type Worker struct {
	id      int
	run     *RunContext
	cfg     Config
	table   *Table
	bank    *SocketBank
	builder *dnswire.Builder
	input   *input.Source
	log     *logrus.Logger

	mu   sync.Mutex
	wake chan struct{} // closed+replaced to wake a blocked sender (spec.md §4.4d "signal the condition variable")

	stats   WorkerStats
	samples *SampleBuffer

	doneSending  bool
	doneSendTime time.Time
	lastArrival  time.Time

	wg   sync.WaitGroup
	done chan struct{}
}

func NewWorker(id int, run *RunContext, cfg Config, bank *SocketBank, src *input.Source, log *logrus.Logger) *Worker {
	w := &Worker{
		id:      id,
		run:     run,
		cfg:     cfg,
		table:   NewTable(),
		bank:    bank,
		builder: dnswire.NewBuilder(cfg.DNSOpts),
		input:   src,
		log:     log,
		wake:    make(chan struct{}),
		samples: NewSampleBuffer(cfg.MaxSamples),
		done:    make(chan struct{}),
	}
	return w
}

// Run starts the sender and receiver goroutines. Finished() closes
// once both have returned.
func (w *Worker) Run() {
	w.wg.Add(2)
	go w.senderLoop()
	go w.receiverLoop()
	go func() {
		w.wg.Wait()
		close(w.done)
	}()
}

// Finished closes once both loops have returned, for any reason:
// natural completion (input exhausted and outstanding drained) or
// forced termination.
func (w *Worker) Finished() <-chan struct{} { return w.done }

// Join blocks until both loops have returned and then closes the
// worker's sockets, per spec.md §5's "sockets are scoped to their
// worker and closed during worker cleanup after both threads have
// joined".
func (w *Worker) Join() {
	w.wg.Wait()
	w.bank.CloseAll()
}

// signalSlotFreed wakes any sender blocked in the concurrency gate.
// Caller must hold w.mu.
func (w *Worker) signalSlotFreed() {
	close(w.wake)
	w.wake = make(chan struct{})
}

// Snapshot returns this worker's stats; the values are final once
// Finished() has closed. The best-effort interval publisher and live
// stats server also call it mid-run: the counters are then read
// atomically, but NumSent, TotalRequestSize and the latency
// sum/min/max fields are plain fields read without synchronization,
// so mid-run values may be stale.
func (w *Worker) Snapshot() Snapshot { return w.stats.Snapshot() }

// Samples returns this worker's latency sample buffer in insertion
// order. Safe to call only after Finished().
func (w *Worker) Samples() []uint64 { return w.samples.Samples() }

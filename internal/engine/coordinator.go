// Coordinator (the other half of C6): applies the resource-split
// rules from spec.md §4.6, builds one Worker per thread, runs the
// start/stop lifecycle, and aggregates the final report, per spec.md
// §4.6–§4.7 and §6.
package engine

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"time"

	"dnsperf-go/internal/dnswire"
	"dnsperf-go/internal/input"
	"dnsperf-go/internal/transport"

	"github.com/sirupsen/logrus"
)

// GlobalConfig is the run-wide configuration the split rules divide
// across workers. The config layer (internal/config) fills this in
// from flags/.ini before handing it to NewCoordinator.
type GlobalConfig struct {
	Clients        int
	Threads        int
	MaxOutstanding int
	MaxQPS         int
	Timeout        time.Duration
	TimeLimit      time.Duration
	MaxPasses      int
	Verbose        bool
	MaxSamples     int
	DNSOpts        dnswire.Options

	Mode       transport.Mode
	ServerAddr string
	LocalAddrs []string // bound round-robin across each worker's sockets; empty = OS-chosen
	BufferSize int
	TLSConfig  *tls.Config

	// IntervalStats, if > 0, spawns the optional interval-QPS publisher
	// (spec.md §5's "eighth thread"): every period it prints the
	// completions-per-second since the previous tick to StatsOut
	// (os.Stdout if nil).
	IntervalStats time.Duration
	StatsOut      io.Writer

	OnEvent func(DNSEvent)
}

// splitResource implements spec.md §4.6's per_thread(R, threads, idx):
// R/threads, plus one extra to the first R mod threads workers.
func splitResource(total, threads, idx int) int {
	if threads <= 0 {
		return total
	}
	share := total / threads
	if idx < total%threads {
		share++
	}
	return share
}

const (
	maxOutstandingCap = 65536
	maxClientsCap     = 256
)

// Coordinator owns every worker for one run plus the run-wide state
// that outlives any single worker (RunContext).
type Coordinator struct {
	cfg     GlobalConfig
	run     *RunContext
	log     *logrus.Logger
	input   *input.Source
	workers []*Worker
}

// NewCoordinator applies the split rules and opens every socket up
// front, so a bind/resolve failure surfaces before the start barrier
// opens rather than mid-run.
func NewCoordinator(cfg GlobalConfig, src *input.Source, log *logrus.Logger) (*Coordinator, error) {
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	if cfg.MaxQPS > 0 && threads > cfg.MaxQPS {
		threads = cfg.MaxQPS
	}
	if cfg.Clients > 0 && threads > cfg.Clients {
		threads = cfg.Clients
	}
	if threads < 1 {
		threads = 1
	}

	run := NewRunContext(cfg.TimeLimit)
	src.SetMaxPasses(cfg.MaxPasses)
	src.SetInterruptChan(run.Done())

	c := &Coordinator{cfg: cfg, run: run, log: log, input: src}

	for i := 0; i < threads; i++ {
		clients := splitResource(cfg.Clients, threads, i)
		if clients < 1 {
			clients = 1
		}
		if clients > maxClientsCap {
			clients = maxClientsCap
		}

		maxOutstanding := splitResource(cfg.MaxOutstanding, threads, i)
		if maxOutstanding < 1 {
			maxOutstanding = 1
		}
		if maxOutstanding > maxOutstandingCap {
			maxOutstanding = maxOutstandingCap
		}

		maxQPS := 0
		if cfg.MaxQPS > 0 {
			maxQPS = splitResource(cfg.MaxQPS, threads, i)
		}

		bank, err := c.openBank(clients)
		if err != nil {
			c.closeOpenedBanks()
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}

		wcfg := Config{
			MaxOutstanding: maxOutstanding,
			MaxQPS:         float64(maxQPS),
			Timeout:        cfg.Timeout,
			Verbose:        cfg.Verbose,
			MaxSamples:     cfg.MaxSamples,
			DNSOpts:        cfg.DNSOpts,
			ServerAddr:     cfg.ServerAddr,
			OnEvent:        cfg.OnEvent,
		}
		c.workers = append(c.workers, NewWorker(i, run, wcfg, bank, src, log))
	}

	return c, nil
}

func (c *Coordinator) openBank(clients int) (*SocketBank, error) {
	sockets := make([]transport.Socket, 0, clients)
	for j := 0; j < clients; j++ {
		local := ""
		if len(c.cfg.LocalAddrs) > 0 {
			local = c.cfg.LocalAddrs[j%len(c.cfg.LocalAddrs)]
		}
		sock, err := transport.Open(transport.Config{
			Mode:       c.cfg.Mode,
			Server:     c.cfg.ServerAddr,
			Local:      local,
			Index:      j,
			BufferSize: c.cfg.BufferSize,
			TLSConfig:  c.cfg.TLSConfig,
		})
		if err != nil {
			for _, s := range sockets {
				_ = s.Close()
			}
			return nil, fmt.Errorf("open socket %d: %w", j, err)
		}
		sockets = append(sockets, sock)
	}
	return NewSocketBank(sockets), nil
}

func (c *Coordinator) closeOpenedBanks() {
	for _, w := range c.workers {
		w.bank.CloseAll()
	}
}

// Run releases the start barrier, runs every worker, waits for
// whichever comes first of the deadline, SIGINT-driven interrupt, or
// every worker finishing naturally, terminates, and joins. It returns
// the cross-worker snapshot plus the per-worker sample buffers needed
// for percentile and per-sample reporting.
func (c *Coordinator) Run() (Snapshot, [][]uint64) {
	for _, w := range c.workers {
		w.Run()
	}
	if c.cfg.IntervalStats > 0 {
		go c.runIntervalPublisher()
	}
	c.run.ReleaseBarrier()

	allDone := make(chan struct{})
	go func() {
		for _, w := range c.workers {
			<-w.Finished()
		}
		close(allDone)
	}()

	var deadlineCh <-chan time.Time
	if dl, ok := c.run.Deadline(); ok {
		deadlineCh = time.After(time.Until(dl))
	}

	select {
	case <-allDone:
	case <-deadlineCh:
	case <-c.run.InterruptedCh():
	}

	c.run.Terminate()
	for _, w := range c.workers {
		w.Join()
	}
	var end time.Time
	for _, w := range c.workers {
		if w.lastArrival.After(end) {
			end = w.lastArrival
		}
	}
	if end.IsZero() {
		end = time.Now()
	}
	c.run.EndTime = end

	snapshots := make([]Snapshot, len(c.workers))
	samples := make([][]uint64, len(c.workers))
	for i, w := range c.workers {
		snapshots[i] = w.Snapshot()
		samples[i] = w.Samples()
	}
	return Sum(snapshots), samples
}

// Interrupt is the only action the SIGINT handler in cmd/dnsperf takes
// (spec.md §9): it never touches a worker directly.
func (c *Coordinator) Interrupt() { c.run.Interrupt() }

// RunID exposes the run's identity for the optional exporters (C14/C15).
func (c *Coordinator) RunID() string { return c.run.ID.String() }

// StartTime/EndTime expose the wall-clock bounds used by the report
// and by the summary exporter.
func (c *Coordinator) StartTime() time.Time { return c.run.StartTime }
func (c *Coordinator) EndTime() time.Time   { return c.run.EndTime }

// LiveSnapshot aggregates the current (possibly mid-run) per-worker
// stats without waiting for join, for the optional interval/live stats
// publisher (C13). May be called while the run is live; see
// Worker.Snapshot for which values are read without synchronization.
func (c *Coordinator) LiveSnapshot() Snapshot {
	snapshots := make([]Snapshot, len(c.workers))
	for i, w := range c.workers {
		snapshots[i] = w.Snapshot()
	}
	return Sum(snapshots)
}

// runIntervalPublisher is the optional eighth thread: it waits for the
// start barrier, then every IntervalStats period prints the QPS
// observed since the previous tick (not the cumulative run average),
// as "<sec>.<microsec>: <qps>", mirroring the original implementation's
// do_interval_stats. It exits when the run terminates.
func (c *Coordinator) runIntervalPublisher() {
	c.run.WaitStart()

	out := c.cfg.StatsOut
	if out == nil {
		out = os.Stdout
	}

	ticker := time.NewTicker(c.cfg.IntervalStats)
	defer ticker.Stop()

	lastCompleted := uint64(0)
	lastMicros := c.run.NowMicros()

	for {
		select {
		case <-ticker.C:
			nowMicros := c.run.NowMicros()
			completed := c.LiveSnapshot().NumCompleted

			elapsedSec := float64(nowMicros-lastMicros) / 1e6
			qps := 0.0
			if elapsedSec > 0 {
				qps = float64(completed-lastCompleted) / elapsedSec
			}
			fmt.Fprintf(out, "%d.%06d: %.6f\n", nowMicros/1_000_000, nowMicros%1_000_000, qps)

			lastCompleted = completed
			lastMicros = nowMicros
		case <-c.run.Done():
			return
		}
	}
}

// NumWorkers reports the thread count actually used, after the split
// rules may have reduced the requested value.
func (c *Coordinator) NumWorkers() int { return len(c.workers) }

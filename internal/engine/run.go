// Run-wide state (part of C6): start time, stop time, interrupted
// flag, start barrier, and the termination channel every worker
// selects on, per spec.md §3 and §5.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunContext is the single run context spec.md §9 calls for in place
// of the original's module-level globals (thread array, interrupted
// flag, signal pipes): one value, passed by reference, owns all of
// it.
type RunContext struct {
	ID        uuid.UUID
	TimeLimit time.Duration // 0 = unbounded

	StartTime time.Time
	StopTime  time.Time // zero until TimeLimit > 0 and the barrier has opened
	EndTime   time.Time // latest arrival across workers (join time if none arrived); set by Coordinator after join

	interruptOnce sync.Once
	interruptCh   chan struct{}

	barrierMu   sync.Mutex
	barrierOpen bool
	barrierCh   chan struct{}

	termOnce sync.Once
	termCh   chan struct{}
}

// NewRunContext builds a run context. timeLimit <= 0 means unbounded.
func NewRunContext(timeLimit time.Duration) *RunContext {
	return &RunContext{
		ID:          uuid.New(),
		TimeLimit:   timeLimit,
		barrierCh:   make(chan struct{}),
		termCh:      make(chan struct{}),
		interruptCh: make(chan struct{}),
	}
}

// ReleaseBarrier opens the start barrier, stamping StartTime and
// (if bounded) StopTime, then wakes every worker blocked in
// WaitStart.
func (rc *RunContext) ReleaseBarrier() {
	rc.barrierMu.Lock()
	defer rc.barrierMu.Unlock()
	if rc.barrierOpen {
		return
	}
	rc.StartTime = time.Now()
	if rc.TimeLimit > 0 {
		rc.StopTime = rc.StartTime.Add(rc.TimeLimit)
	}
	rc.barrierOpen = true
	close(rc.barrierCh)
}

// WaitStart blocks until ReleaseBarrier has been called.
func (rc *RunContext) WaitStart() { <-rc.barrierCh }

// Deadline reports the run's stop time, if bounded.
func (rc *RunContext) Deadline() (time.Time, bool) {
	if rc.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return rc.StopTime, true
}

// NowMicros returns microseconds elapsed since StartTime — the
// "now" referenced throughout spec.md §4.3–4.4. Must only be called
// after the barrier has opened.
func (rc *RunContext) NowMicros() uint64 {
	return uint64(time.Since(rc.StartTime).Microseconds())
}

func (rc *RunContext) Interrupted() bool {
	select {
	case <-rc.interruptCh:
		return true
	default:
		return false
	}
}

// Interrupt flips the run's interrupted flag and wakes InterruptedCh;
// the only legal action of the SIGINT handler per spec.md §9.
func (rc *RunContext) Interrupt() { rc.interruptOnce.Do(func() { close(rc.interruptCh) }) }

// InterruptedCh lets the Coordinator select on interruption alongside
// the deadline timer and the all-workers-done signal.
func (rc *RunContext) InterruptedCh() <-chan struct{} { return rc.interruptCh }

// Terminate broadcasts shutdown exactly once; every blocking select in
// the sender/receiver loops includes Done().
func (rc *RunContext) Terminate() { rc.termOnce.Do(func() { close(rc.termCh) }) }

func (rc *RunContext) Done() <-chan struct{} { return rc.termCh }

func (rc *RunContext) Terminated() bool {
	select {
	case <-rc.termCh:
		return true
	default:
		return false
	}
}

// Sender loop (C3): paces and emits requests, enforcing per-worker
// concurrency and QPS ceilings, and records the send timestamp, per
// spec.md §4.3.
package engine

import (
	"context"
	"errors"
	"runtime"
	"time"

	"dnsperf-go/internal/transport"

	"golang.org/x/time/rate"
)

// The worker condition variable from spec.md §4.3d/§4.4d is
// implemented with a channel that is closed-and-replaced under the
// worker lock (signalSlotFreed in worker.go) rather than sync.Cond,
// because sync.Cond has no timed wait and the sender must wait with
// stop_time as a deadline — select on a timer plus this channel gets
// the same "wait for a slot or a deadline" behavior idiomatically.
func (w *Worker) senderLoop() {
	defer w.wg.Done()
	w.run.WaitStart()

	var limiter *rate.Limiter
	if w.cfg.MaxQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.MaxQPS), 1)
	}

	// ctx is cancelled the instant the run terminates, so a blocked
	// limiter.Wait below never outlives shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.run.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	stopTime, hasDeadline := w.run.Deadline()

	for !w.run.Interrupted() && !w.run.Terminated() && (!hasDeadline || time.Now().Before(stopTime)) {
		// a. anti-flood jitter: smooth the initial burst so the
		// receiver can register before the send queue saturates.
		if w.stats.NumSent < uint64(w.cfg.MaxOutstanding) && w.stats.NumSent%2 == 1 {
			if w.stats.NumCompleted.Load() == 0 {
				time.Sleep(time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}

		// b. QPS gate.
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break // termination fired mid-wait
			}
		}

		if !w.sendOne(stopTime, hasDeadline) {
			break
		}
	}

	w.drainInProgress()

	w.mu.Lock()
	w.doneSending = true
	w.doneSendTime = time.Now()
	w.mu.Unlock()
}

// sendOne runs steps c-h of spec.md §4.3 once. It returns false when
// the sender loop must stop entirely (input exhausted).
func (w *Worker) sendOne(stopTime time.Time, hasDeadline bool) bool {
	w.mu.Lock()
	for w.table.NumOutstanding() >= w.cfg.MaxOutstanding {
		wake := w.wake
		w.mu.Unlock()

		var timerCh <-chan time.Time
		if hasDeadline {
			if d := time.Until(stopTime); d > 0 {
				timerCh = time.After(d)
			} else {
				return true // outer loop will observe the deadline and exit
			}
		}
		select {
		case <-wake:
		case <-timerCh:
		case <-w.run.Done():
		}
		if w.run.Terminated() || w.run.Interrupted() {
			return true
		}
		w.mu.Lock()
	}

	s, err := w.table.Allocate()
	if err != nil {
		// Exhausted: backpressure, not fatal. Retry on the next tick.
		w.mu.Unlock()
		return true
	}

	sock, _, _ := w.bank.Pick(time.Now())
	if sock == nil {
		w.table.Release(s, toFront)
		w.mu.Unlock()
		return true
	}

	s.socket = sock
	now := w.run.NowMicros()
	w.table.Commit(s, now)
	qid := s.id
	w.mu.Unlock()

	text, err := w.input.Next()
	if err != nil {
		// InputExhausted is terminal for the sender loop only.
		w.mu.Lock()
		w.table.Release(s, toFront)
		w.mu.Unlock()
		return false
	}

	buf, err := w.builder.Build(text, qid)
	if err != nil {
		w.log.WithError(err).Warn("dns build failed")
		w.mu.Lock()
		w.table.Release(s, toFront)
		w.mu.Unlock()
		return true
	}

	if w.cfg.Verbose {
		w.mu.Lock()
		s.desc = text
		w.mu.Unlock()
		w.log.Infof("> %s", text)
	}

	n, serr := sock.Send(buf)
	if serr != nil {
		if !errors.Is(serr, transport.ErrWouldBlock) && !errors.Is(serr, transport.ErrNotReady) {
			w.log.WithError(serr).Warn("send failed")
		}
		w.mu.Lock()
		w.table.Release(s, toFront)
		w.mu.Unlock()
		return true
	}
	if n < len(buf) {
		w.log.Warn("partial send")
		w.mu.Lock()
		w.table.Release(s, toFront)
		w.mu.Unlock()
		return true
	}

	w.stats.NumSent++
	w.stats.TotalRequestSize += uint64(len(buf))

	if w.cfg.OnEvent != nil {
		w.cfg.OnEvent(DNSEvent{WorkerID: w.id, Sent: true, QID: qid, Payload: buf, At: time.Now(), ServerAddr: w.cfg.ServerAddr})
	}

	return true
}

// drainInProgress waits for every still-connecting TCP/TLS socket to
// settle before the sender declares itself done, per spec.md §4.3
// step 3.
func (w *Worker) drainInProgress() {
	deadline := time.Now().Add(2 * time.Second)
	for w.bank.AnyInProgress(deadline) {
		if time.Now().After(deadline) || w.run.Terminated() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

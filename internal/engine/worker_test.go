package engine

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"dnsperf-go/internal/input"
	"dnsperf-go/internal/transport"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput(t *testing.T, lines string) *input.Source {
	src, err := input.LoadReader(strings.NewReader(lines))
	require.NoError(t, err)
	return src
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(new(discard))
	return log
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeDNSReply builds a 12-byte DNS header carrying only id and rcode,
// enough for dnswire.ExtractIDAndRcode to classify it.
func fakeDNSReply(id uint16, rcode uint8) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], uint16(rcode)&0x0F)
	return buf
}

func newEchoWorker(t *testing.T, maxOutstanding int, timeout time.Duration) (*Worker, *RunContext) {
	run := NewRunContext(0)
	src := testInput(t, "example.com\nexample.net\nexample.org\n")
	sock := transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		if len(req) < 2 {
			return nil, 0, true
		}
		id := binary.BigEndian.Uint16(req[0:2])
		return fakeDNSReply(id, 0), time.Millisecond, false
	})
	bank := NewSocketBank([]transport.Socket{sock})
	cfg := Config{MaxOutstanding: maxOutstanding, Timeout: timeout, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())
	return w, run
}

func TestWorkerEchoLoopback(t *testing.T) {
	w, run := newEchoWorker(t, 4, time.Second)

	w.Run()
	run.ReleaseBarrier()
	select {
	case <-w.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	w.Join()

	snap := w.Snapshot()
	assert.Equal(t, uint64(3), snap.NumSent)
	assert.Equal(t, uint64(3), snap.NumCompleted)
	assert.Equal(t, uint64(0), snap.NumTimedOut)
}

func TestWorkerTimeoutPath(t *testing.T) {
	run := NewRunContext(0)
	src := testInput(t, "slow.example\n")
	src.SetMaxPasses(1)
	sock := transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return nil, 0, true // always dropped: never replies
	})
	bank := NewSocketBank([]transport.Socket{sock})
	cfg := Config{MaxOutstanding: 4, Timeout: 50 * time.Millisecond, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())

	w.Run()
	run.ReleaseBarrier()
	select {
	case <-w.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	w.Join()

	snap := w.Snapshot()
	assert.Equal(t, uint64(1), snap.NumSent)
	assert.Equal(t, uint64(0), snap.NumCompleted)
	assert.Equal(t, uint64(1), snap.NumTimedOut)
}

func TestWorkerInterrupt(t *testing.T) {
	run := NewRunContext(0)
	src := testInput(t, strings.Repeat("a.example\n", 1000))
	src.SetMaxPasses(0) // unbounded, so the worker never finishes on its own
	sock := transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return nil, time.Hour, false // never actually arrives before we interrupt
	})
	bank := NewSocketBank([]transport.Socket{sock})
	cfg := Config{MaxOutstanding: 4, Timeout: time.Hour, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())

	w.Run()
	run.ReleaseBarrier()
	time.Sleep(20 * time.Millisecond)
	run.Terminate()

	select {
	case <-w.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish after terminate")
	}
	w.Join()

	snap := w.Snapshot()
	assert.Equal(t, snap.NumSent, snap.NumInterrupted+snap.NumCompleted+snap.NumTimedOut)
}

func TestWorkerShortResponse(t *testing.T) {
	run := NewRunContext(0)
	src := testInput(t, "short.example\n")
	src.SetMaxPasses(1)
	sock := transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return []byte{0x01}, 0, false // shorter than a DNS header
	})
	bank := NewSocketBank([]transport.Socket{sock})
	cfg := Config{MaxOutstanding: 4, Timeout: time.Second, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())

	w.Run()
	run.ReleaseBarrier()
	select {
	case <-w.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	w.Join()

	// The slot that received the short reply is still unresolved by id,
	// so it is reclassified as timed out once its deadline (1s) passes —
	// here we only assert the short reply itself was observed and no
	// query was double-counted as completed.
	snap := w.Snapshot()
	assert.Equal(t, uint64(0), snap.NumCompleted)
	assert.Equal(t, uint64(1), snap.NumShort)
}

func TestWorkerQPSCeiling(t *testing.T) {
	run := NewRunContext(300 * time.Millisecond)
	src := testInput(t, strings.Repeat("a.example\n", 1000))
	src.SetMaxPasses(0)
	sock := transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		id := binary.BigEndian.Uint16(req[0:2])
		return fakeDNSReply(id, 0), 0, false
	})
	bank := NewSocketBank([]transport.Socket{sock})
	cfg := Config{MaxOutstanding: 100, MaxQPS: 20, Timeout: time.Second, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())

	w.Run()
	run.ReleaseBarrier()
	select {
	case <-w.Finished():
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not finish within its time limit")
	}
	w.Join()

	snap := w.Snapshot()
	// ~20/s over ~300ms plus one burst token: a generous band avoids
	// flaking on a loaded CI runner while still catching a limiter that
	// isn't pacing at all (which would send hundreds).
	assert.Less(t, snap.NumSent, uint64(30))
	assert.Greater(t, snap.NumSent, uint64(0))
}

func TestWorkerUnexpectedID(t *testing.T) {
	run := NewRunContext(0)
	src := testInput(t, "x.example\n")
	src.SetMaxPasses(1)
	var stub *transport.Stub
	stub = transport.NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return nil, 0, true // drop the real reply, we'll inject a bogus one
	})
	stub.Inject(fakeDNSReply(0xFFFF, 0), 0)
	bank := NewSocketBank([]transport.Socket{stub})
	cfg := Config{MaxOutstanding: 4, Timeout: 200 * time.Millisecond, MaxSamples: 1000}
	w := NewWorker(0, run, cfg, bank, src, testLogger())

	w.Run()
	run.ReleaseBarrier()
	select {
	case <-w.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	w.Join()

	snap := w.Snapshot()
	assert.Equal(t, uint64(1), snap.NumUnexpected)
}

package engine

import (
	"net"
	"strings"
	"testing"
	"time"

	"dnsperf-go/internal/dnswire"
	"dnsperf-go/internal/input"
	"dnsperf-go/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitResourceDistributesRemainder(t *testing.T) {
	// 10 split across 3 threads: 4,3,3.
	assert.Equal(t, 4, splitResource(10, 3, 0))
	assert.Equal(t, 3, splitResource(10, 3, 1))
	assert.Equal(t, 3, splitResource(10, 3, 2))
}

func TestNewCoordinatorReducesThreadsToMaxQPS(t *testing.T) {
	cfg := GlobalConfig{
		Clients: 10, Threads: 8, MaxOutstanding: 100, MaxQPS: 3,
		Mode: transport.UDP, ServerAddr: mustEchoServer(t),
	}
	src := loadLines(t, "a.example\n")
	c, err := NewCoordinator(cfg, src, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumWorkers())
}

func TestNewCoordinatorReducesThreadsToClients(t *testing.T) {
	cfg := GlobalConfig{
		Clients: 2, Threads: 8, MaxOutstanding: 100,
		Mode: transport.UDP, ServerAddr: mustEchoServer(t),
	}
	src := loadLines(t, "a.example\n")
	c, err := NewCoordinator(cfg, src, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, c.NumWorkers())
}

func TestNewCoordinatorCapsPerWorkerLimits(t *testing.T) {
	cfg := GlobalConfig{
		Clients: 1000, Threads: 1, MaxOutstanding: 1_000_000,
		Mode: transport.UDP, ServerAddr: mustEchoServer(t),
	}
	src := loadLines(t, "a.example\n")
	c, err := NewCoordinator(cfg, src, testLogger())
	require.NoError(t, err)
	require.Len(t, c.workers, 1)
	assert.LessOrEqual(t, c.workers[0].bank.Len(), maxClientsCap)
	assert.LessOrEqual(t, c.workers[0].cfg.MaxOutstanding, maxOutstandingCap)
}

func TestCoordinatorRunEndToEnd(t *testing.T) {
	addr := mustEchoServer(t)
	cfg := GlobalConfig{
		Clients: 2, Threads: 2, MaxOutstanding: 10,
		Timeout: time.Second, MaxSamples: 1000,
		Mode: transport.UDP, ServerAddr: addr,
		DNSOpts: dnswire.Options{},
	}
	src := loadLines(t, strings.Repeat("a.example\n", 20))
	src.SetMaxPasses(1)

	c, err := NewCoordinator(cfg, src, testLogger())
	require.NoError(t, err)

	total, samples := c.Run()
	assert.Equal(t, total.NumSent, total.NumCompleted+total.NumTimedOut+total.NumInterrupted)
	assert.NotEmpty(t, samples)
}

func loadLines(t *testing.T, lines string) *input.Source {
	src, err := input.LoadReader(strings.NewReader(lines))
	require.NoError(t, err)
	return src
}

// mustEchoServer starts a UDP server on loopback that mirrors the
// transaction id back with rcode 0, closing over the test's lifetime.
func mustEchoServer(t *testing.T) string {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if n < 4 {
				continue
			}
			reply := make([]byte, n)
			copy(reply, buf[:n])
			reply[3] &^= 0x0F // rcode 0, keep other flag bits
			_, _ = conn.WriteTo(reply, addr)
		}
	}()
	return conn.LocalAddr().String()
}


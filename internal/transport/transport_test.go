package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubEchoRoundTrip(t *testing.T) {
	s := NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return append([]byte("echo:"), req...), 0, false
	})
	n, err := s.Send([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf := make([]byte, 64)
	nr, err := s.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(buf[:nr]))
}

func TestStubRecvWouldBlockWhenEmpty(t *testing.T) {
	s := NewStub(func(req []byte) ([]byte, time.Duration, bool) { return nil, 0, true })
	_, err := s.Recv(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestStubDroppedSendNeverArrives(t *testing.T) {
	s := NewStub(func(req []byte) ([]byte, time.Duration, bool) { return nil, 0, true })
	_, err := s.Send([]byte("gone"))
	require.NoError(t, err)
	_, err = s.Recv(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestStubInjectUnsolicitedReply(t *testing.T) {
	s := NewStub(func(req []byte) ([]byte, time.Duration, bool) { return nil, 0, true })
	s.Inject([]byte("surprise"), 0)

	buf := make([]byte, 16)
	n, err := s.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "surprise", string(buf[:n]))
}

func TestStubDelayedReplyNotYetDue(t *testing.T) {
	s := NewStub(func(req []byte) ([]byte, time.Duration, bool) {
		return []byte("later"), time.Hour, false
	})
	_, _ = s.Send([]byte("x"))
	_, err := s.Recv(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

// TestUDPSocketLoopback exercises the real net.UDPConn path against a
// local listener, verifying the immediate-read-deadline ErrWouldBlock
// translation.
func TestUDPSocketLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	sock, err := Open(Config{Mode: UDP, Server: pc.LocalAddr().String()})
	require.NoError(t, err)
	defer sock.Close()

	res, _ := sock.Probe(time.Time{})
	assert.Equal(t, Ready, res)

	buf := make([]byte, 16)
	_, err = sock.Recv(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)

	_, err = sock.Send([]byte("ping"))
	require.NoError(t, err)

	readBuf := make([]byte, 16)
	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	n, addr, err := pc.ReadFrom(readBuf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(readBuf[:n]))

	_, err = pc.WriteTo([]byte("pong"), addr)
	require.NoError(t, err)

	// Give the datagram a moment to land before the non-blocking read.
	require.Eventually(t, func() bool {
		n, err := sock.Recv(buf)
		return err == nil && string(buf[:n]) == "pong"
	}, time.Second, 5*time.Millisecond)
}

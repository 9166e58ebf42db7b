// Package transport is the UDP/TCP/TLS socket collaborator described
// in spec.md §6: open/probe/send/recv/close primitives that mix
// blocking, non-blocking, and handshake-in-progress states. The core
// engine never imports net/crypto/tls directly; it only sees Socket.
package transport

import (
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Mode selects the wire transport.
type Mode int

const (
	UDP Mode = iota
	TCP
	TLS
)

func (m Mode) String() string {
	switch m {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	case TLS:
		return "tls"
	default:
		return "unknown"
	}
}

// ProbeResult mirrors spec.md §4.2's probe outcomes.
type ProbeResult int

const (
	Ready ProbeResult = iota
	NotReady
	InProgress
	ProbeTimeout
)

// ErrWouldBlock is returned by Recv when no data is currently
// available, the Go equivalent of a non-blocking read hitting EAGAIN.
var ErrWouldBlock = errors.New("transport: would block")

// ErrNotReady is returned by Send/Recv on a socket whose dial/
// handshake has not completed (or failed).
var ErrNotReady = errors.New("transport: socket not ready")

// Socket is one client connection in a worker's socket bank.
type Socket interface {
	// Probe reports readiness without blocking past deadline.
	Probe(deadline time.Time) (ProbeResult, error)
	Send(buf []byte) (int, error)
	Recv(buf []byte) (int, error)
	Close() error
	// Eq reports whether other is the same underlying socket. Used by
	// the receiver to check that a reply arrived on the socket the
	// matching slot recorded at send time (spec.md §4.4d).
	Eq(other Socket) bool
}

// Config bundles the parameters Open needs, one per requested client
// socket; Index is the socket's position within the bank. Open does
// not read Index: the caller picks Local round-robin by index
// (SPEC_FULL.md §10).
type Config struct {
	Mode       Mode
	Server     string
	Local      string // "" = let the OS choose
	Index      int
	BufferSize int // SO_RCVBUF/SO_SNDBUF hint, 0 = OS default
	TLSConfig  *tls.Config
}

// Open opens one client socket. TCP/TLS dial/handshake happens on a
// background goroutine; the returned Socket reports InProgress from
// Probe until it completes.
func Open(cfg Config) (Socket, error) {
	switch cfg.Mode {
	case UDP:
		return openUDP(cfg)
	case TCP, TLS:
		return openStream(cfg)
	default:
		return nil, errors.Errorf("transport: unknown mode %v", cfg.Mode)
	}
}

// --- UDP ---

type udpSocket struct {
	conn *net.UDPConn
}

func openUDP(cfg Config) (Socket, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "resolve udp server address")
	}
	var laddr *net.UDPAddr
	if cfg.Local != "" {
		laddr, err = net.ResolveUDPAddr("udp", cfg.Local)
		if err != nil {
			return nil, errors.Wrap(err, "resolve udp local address")
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial udp")
	}
	if cfg.BufferSize > 0 {
		_ = conn.SetReadBuffer(cfg.BufferSize)
		_ = conn.SetWriteBuffer(cfg.BufferSize)
	}
	return &udpSocket{conn: conn}, nil
}

// Probe: UDP is connectionless, it is Ready the instant it is opened.
func (s *udpSocket) Probe(time.Time) (ProbeResult, error) { return Ready, nil }

func (s *udpSocket) Send(buf []byte) (int, error) { return s.conn.Write(buf) }

func (s *udpSocket) Recv(buf []byte) (int, error) {
	// An immediate deadline turns the blocking net.Conn into the
	// non-blocking primitive spec.md §4.4c assumes.
	_ = s.conn.SetReadDeadline(time.Now())
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s *udpSocket) Close() error { return s.conn.Close() }

func (s *udpSocket) Eq(other Socket) bool {
	o, ok := other.(*udpSocket)
	return ok && o == s
}

// --- TCP / TLS ---

type dialState int32

const (
	dialInProgress dialState = iota
	dialReady
	dialFailed
)

type streamSocket struct {
	mode   Mode
	state  atomic.Int32
	dialed chan struct{}
	conn   net.Conn
	dialErr error

	recvMu  sync.Mutex
	recvBuf []byte
}

func openStream(cfg Config) (Socket, error) {
	s := &streamSocket{mode: cfg.Mode, dialed: make(chan struct{})}
	s.state.Store(int32(dialInProgress))

	dialer := &net.Dialer{}
	if cfg.Local != "" {
		laddr, err := net.ResolveTCPAddr("tcp", cfg.Local)
		if err != nil {
			return nil, errors.Wrap(err, "resolve tcp local address")
		}
		dialer.LocalAddr = laddr
	}

	go func() {
		defer close(s.dialed)
		conn, err := dialer.Dial("tcp", cfg.Server)
		if err == nil && cfg.Mode == TLS {
			tlsConn := tls.Client(conn, cfg.TLSConfig)
			if herr := tlsConn.Handshake(); herr != nil {
				err = herr
			} else {
				conn = tlsConn
			}
		}
		if cfg.BufferSize > 0 {
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetReadBuffer(cfg.BufferSize)
				_ = tc.SetWriteBuffer(cfg.BufferSize)
			}
		}
		if err != nil {
			s.dialErr = err
			s.state.Store(int32(dialFailed))
			return
		}
		s.conn = conn
		s.state.Store(int32(dialReady))
	}()

	return s, nil
}

func (s *streamSocket) Probe(deadline time.Time) (ProbeResult, error) {
	switch dialState(s.state.Load()) {
	case dialReady:
		return Ready, nil
	case dialFailed:
		return NotReady, s.dialErr
	default:
		select {
		case <-s.dialed:
			return s.Probe(deadline)
		default:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return ProbeTimeout, nil
			}
			return InProgress, nil
		}
	}
}

func (s *streamSocket) Send(buf []byte) (int, error) {
	if dialState(s.state.Load()) != dialReady {
		return 0, ErrNotReady
	}
	framed := make([]byte, 2+len(buf))
	binary.BigEndian.PutUint16(framed, uint16(len(buf)))
	copy(framed[2:], buf)
	n, err := s.conn.Write(framed)
	if n >= 2 {
		n -= 2
	}
	return n, err
}

// Recv assembles one length-prefixed DNS-over-stream message,
// returning ErrWouldBlock if a full message isn't buffered yet.
func (s *streamSocket) Recv(buf []byte) (int, error) {
	if dialState(s.state.Load()) != dialReady {
		return 0, ErrNotReady
	}
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	_ = s.conn.SetReadDeadline(time.Now())
	tmp := make([]byte, 4096)
	for {
		if len(s.recvBuf) >= 2 {
			need := int(binary.BigEndian.Uint16(s.recvBuf[:2])) + 2
			if len(s.recvBuf) >= need {
				n := copy(buf, s.recvBuf[2:need])
				s.recvBuf = append([]byte(nil), s.recvBuf[need:]...)
				return n, nil
			}
		}
		n, err := s.conn.Read(tmp)
		if n > 0 {
			s.recvBuf = append(s.recvBuf, tmp[:n]...)
			continue
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return 0, ErrWouldBlock
			}
			return 0, err
		}
	}
}

func (s *streamSocket) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *streamSocket) Eq(other Socket) bool {
	o, ok := other.(*streamSocket)
	return ok && o == s
}

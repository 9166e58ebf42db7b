package transport

import (
	"sync"
	"time"
)

// StubHandler decides what, if anything, a stub socket sends back for
// a given request. Returning drop=true models a lost packet.
type StubHandler func(request []byte) (reply []byte, delay time.Duration, drop bool)

// Stub is an in-process loopback socket for the echo/timeout/short-
// response/unexpected-id scenarios in spec.md §8. It never touches a
// real network socket.
type Stub struct {
	handler StubHandler

	mu      sync.Mutex
	pending []stubReply
}

type stubReply struct {
	data []byte
	at   time.Time
}

func NewStub(handler StubHandler) *Stub {
	return &Stub{handler: handler}
}

func (s *Stub) Probe(time.Time) (ProbeResult, error) { return Ready, nil }

func (s *Stub) Send(buf []byte) (int, error) {
	req := append([]byte(nil), buf...)
	reply, delay, drop := s.handler(req)
	if !drop {
		s.mu.Lock()
		s.pending = append(s.pending, stubReply{data: reply, at: time.Now().Add(delay)})
		s.mu.Unlock()
	}
	return len(buf), nil
}

func (s *Stub) Recv(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i, p := range s.pending {
		if !p.at.After(now) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return copy(buf, p.data), nil
		}
	}
	return 0, ErrWouldBlock
}

func (s *Stub) Close() error { return nil }

func (s *Stub) Eq(other Socket) bool {
	o, ok := other.(*Stub)
	return ok && o == s
}

// Inject enqueues a reply as if it arrived unsolicited, bypassing
// Send — used to fabricate the unexpected-id scenario in spec.md §8.
func (s *Stub) Inject(data []byte, delay time.Duration) {
	s.mu.Lock()
	s.pending = append(s.pending, stubReply{data: data, at: time.Now().Add(delay)})
	s.mu.Unlock()
}

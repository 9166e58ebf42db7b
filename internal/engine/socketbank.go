// Socket bank (C2): a per-worker array of transport handles with a
// round-robin cursor and readiness probing, per spec.md §4.2.
package engine

import (
	"time"

	"dnsperf-go/internal/transport"
)

// SocketBank owns one worker's client sockets.
type SocketBank struct {
	sockets []transport.Socket
	cursor  uint64
}

func NewSocketBank(sockets []transport.Socket) *SocketBank {
	return &SocketBank{sockets: sockets}
}

func (b *SocketBank) Len() int { return len(b.sockets) }

// at returns the socket at a fixed index, used by the receiver's
// fair-rotation scan (spec.md §4.4c). Unlike Pick it never advances
// the send-side cursor.
func (b *SocketBank) at(i int) transport.Socket { return b.sockets[i%len(b.sockets)] }

// Pick scans up to 2N successive sockets starting at the round-robin
// cursor and returns the first Ready one (with N sockets, each is
// probed at most twice). Per spec.md §9's resolution of the
// socket-readiness open question, there is no retry beyond those 2N
// probes: once the scan completes without finding a Ready socket, the
// caller rolls back and tries again on its next iteration. anyInProgress reports whether any scanned socket was
// mid-handshake, so the sender can later drain before declaring done.
func (b *SocketBank) Pick(deadline time.Time) (sock transport.Socket, anyInProgress bool, err error) {
	n := len(b.sockets)
	if n == 0 {
		return nil, false, nil
	}
	for i := 0; i < 2*n; i++ {
		idx := int(b.cursor % uint64(n))
		b.cursor++
		candidate := b.sockets[idx]
		res, perr := candidate.Probe(deadline)
		switch res {
		case transport.Ready:
			return candidate, anyInProgress, nil
		case transport.InProgress:
			anyInProgress = true
		default:
			if perr != nil {
				err = perr
			}
		}
	}
	return nil, anyInProgress, err
}

// AnyInProgress reports whether any socket in the bank is still
// mid-handshake/connect, used by the sender's post-loop drain
// (spec.md §4.3 step 3).
func (b *SocketBank) AnyInProgress(deadline time.Time) bool {
	for _, s := range b.sockets {
		if res, _ := s.Probe(deadline); res == transport.InProgress {
			return true
		}
	}
	return false
}

// CloseAll closes every socket in the bank; called during worker
// cleanup after both loops have joined (spec.md §5).
func (b *SocketBank) CloseAll() {
	for _, s := range b.sockets {
		_ = s.Close()
	}
}

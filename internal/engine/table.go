// Query table (C1): a fixed 65,536-slot pool addressed by DNS
// transaction id, with two intrusive doubly-linked lists threaded
// through the slot array itself so moves between them are O(1) and
// allocation-free. Every method here assumes the caller already holds
// the owning Worker's lock (spec.md §4.1: "All operations must run
// under the worker lock").
package engine

import (
	"math"

	"dnsperf-go/internal/transport"
)

// TableSize is the number of transaction ids a worker's query table
// can track simultaneously — the full 16-bit id space.
const TableSize = 1 << 16

// NoTimestamp is the MAX_U64 sentinel: "allocated but not yet sent".
const NoTimestamp = math.MaxUint64

// ErrExhausted is returned by Allocate when the free list is empty;
// the caller (the sender loop) must treat it as backpressure, not a
// fatal error.
type exhaustedError struct{}

func (exhaustedError) Error() string { return "engine: query table exhausted" }

// ErrExhausted is the sentinel error Allocate returns.
var ErrExhausted error = exhaustedError{}

// slot is one query table entry. Its array index is its DNS
// transaction id for the lifetime of the worker.
type slot struct {
	id       uint16
	sendTime uint64 // microseconds, NoTimestamp until Commit
	socket   transport.Socket
	desc     string // present only in verbose mode

	outstanding bool // membership marker: true iff linked into the outstanding list
	prev, next  *slot
}

// list is an intrusive doubly-linked list of slots. A nil prev/next on
// a linked slot means "list boundary", matched against head/tail.
type list struct {
	head, tail *slot
	length     int
}

func (l *list) pushFront(s *slot) {
	s.prev = nil
	s.next = l.head
	if l.head != nil {
		l.head.prev = s
	}
	l.head = s
	if l.tail == nil {
		l.tail = s
	}
	l.length++
}

func (l *list) pushBack(s *slot) {
	s.next = nil
	s.prev = l.tail
	if l.tail != nil {
		l.tail.next = s
	}
	l.tail = s
	if l.head == nil {
		l.head = s
	}
	l.length++
}

func (l *list) remove(s *slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = nil, nil
	l.length--
}

// Table is one worker's query table: TableSize slots plus the
// outstanding/free list invariants from spec.md §3.
type Table struct {
	slots       [TableSize]slot
	outstanding list
	free        list
}

// NewTable builds a table with every slot on the free list, ids dense
// from 0.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].id = uint16(i)
		t.slots[i].sendTime = NoTimestamp
		t.free.pushBack(&t.slots[i])
	}
	return t
}

// NumOutstanding is the outstanding list's current length — also the
// live value of "num_outstanding" referenced throughout spec.md §4–5.
func (t *Table) NumOutstanding() int { return t.outstanding.length }

// NumFree is the free list's current length, exposed for tests of the
// slot-partition invariant (spec.md §8 property 1).
func (t *Table) NumFree() int { return t.free.length }

// Allocate removes the head of the free list, prepends it to
// outstanding, and stamps it with NoTimestamp. It fails with
// ErrExhausted when no slots remain.
func (t *Table) Allocate() (*slot, error) {
	s := t.free.head
	if s == nil {
		return nil, ErrExhausted
	}
	t.free.remove(s)
	s.sendTime = NoTimestamp
	s.socket = nil
	s.desc = ""
	t.outstanding.pushFront(s)
	s.outstanding = true
	return s, nil
}

// Commit stamps a just-allocated slot with its send timestamp. The
// slot stays at the head of outstanding, preserving send-time order.
func (t *Table) Commit(s *slot, now uint64) {
	s.sendTime = now
}

// toFront / toBack select Release's destination end of the free list.
// toFront keeps ids dense for the next allocation attempt (used when a
// send attempt is rolled back); toBack is used for normal completion,
// timeouts and interruption, which
// must not disturb send-time order among still-outstanding slots.
type releaseTo bool

const (
	toFront releaseTo = true
	toBack  releaseTo = false
)

// Release unlinks s from outstanding and puts it on the free list: at
// the front for toFront, at the back for toBack.
func (t *Table) Release(s *slot, dest releaseTo) {
	if s.outstanding {
		t.outstanding.remove(s)
		s.outstanding = false
	}
	s.socket = nil
	s.desc = ""
	if dest == toFront {
		t.free.pushFront(s)
	} else {
		t.free.pushBack(s)
	}
}

// Oldest returns the tail of outstanding — the longest-outstanding
// request, per the send-time-order invariant in spec.md §3.
func (t *Table) Oldest() *slot { return t.outstanding.tail }

// Lookup returns the slot for a given transaction id. The caller must
// check slot.outstanding and slot.sendTime before trusting the match
// (spec.md §4.4d).
func (t *Table) Lookup(id uint16) *slot { return &t.slots[id] }

// Package dnstapexport is the optional dnstap frame emitter (C14): the
// inverse of collector/collector/dnstap_listener.go's consumer side —
// here the load generator itself is the producer, framing each sent
// query and matched reply as a dnstap Message and writing it to a
// unix socket via github.com/farsightsec/golang-framestream, the same
// wire format that listener decodes. Uses the same bounded,
// drop-on-overflow channel shape (LogChan/Dropped) as the listener.
package dnstapexport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dnsperf-go/internal/engine"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
)

// Exporter dials a unix socket once and encodes every DNSEvent handed
// to it as a dnstap frame. Events are buffered on a bounded channel so
// the hot sender/receiver path (engine.Worker.Config.OnEvent) never
// blocks on socket I/O; a full buffer drops the event and increments
// Dropped, exactly as the listener's handleConn does on LogChan.
type Exporter struct {
	events  chan engine.DNSEvent
	Dropped atomic.Uint64

	conn    net.Conn
	encoder *framestream.Encoder
	log     *logrus.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// Dial connects to socketPath and starts the background encode loop.
// bufferSize bounds how many in-flight events may queue before new
// ones are dropped.
func Dial(socketPath string, bufferSize int, log *logrus.Logger) (*Exporter, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	enc, err := framestream.NewEncoder(conn, &framestream.EncoderOptions{
		ContentType:   []byte("protobuf:dnstap.Dnstap"),
		Bidirectional: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	e := &Exporter{
		events:  make(chan engine.DNSEvent, bufferSize),
		conn:    conn,
		encoder: enc,
		log:     log,
		done:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e, nil
}

// OnEvent is wired directly as an engine.Worker Config.OnEvent.
func (e *Exporter) OnEvent(ev engine.DNSEvent) {
	select {
	case e.events <- ev:
	default:
		e.Dropped.Add(1)
	}
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for ev := range e.events {
		frame, err := encodeFrame(ev)
		if err != nil {
			continue
		}
		if _, err := e.encoder.Write(frame); err != nil {
			if e.log != nil {
				e.log.WithError(err).Warn("dnstap write failed")
			}
			return
		}
	}
}

// Close stops accepting events, flushes, and closes the socket.
func (e *Exporter) Close() {
	close(e.events)
	e.wg.Wait()
	_ = e.encoder.Flush()
	_ = e.encoder.Close()
	_ = e.conn.Close()
}

func encodeFrame(ev engine.DNSEvent) ([]byte, error) {
	msgType := dnstap.Message_CLIENT_QUERY
	if !ev.Sent {
		msgType = dnstap.Message_CLIENT_RESPONSE
	}
	sec := uint64(ev.At.Unix())
	nsec := uint32(ev.At.Nanosecond())

	msg := &dnstap.Message{Type: &msgType}
	if ev.Sent {
		msg.QueryTimeSec = &sec
		msg.QueryTimeNsec = &nsec
		msg.QueryMessage = ev.Payload
	} else {
		msg.ResponseTimeSec = &sec
		msg.ResponseTimeNsec = &nsec
	}

	id := dnstap.Dnstap_MESSAGE
	dt := &dnstap.Dnstap{Type: &id, Message: msg}
	return proto.Marshal(dt)
}

// WaitIdle blocks until the event queue is empty; the last event taken
// off the queue may still be in the middle of encoding when it returns.
// Not used on the hot path.
func (e *Exporter) WaitIdle() {
	for len(e.events) > 0 {
		time.Sleep(time.Millisecond)
	}
}

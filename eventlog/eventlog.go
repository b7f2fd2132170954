// Package eventlog writes NTS session events as a JSON text sequence
// (RFC 7464): one record-separator-prefixed JSON object per event.
package eventlog

import (
	"io"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/nts-go/nts-go/internal/utils"
	"github.com/nts-go/nts-go/logging"
)

const eventChanSize = 50

const recordSeparator = 0x1e

type tracer struct {
	w io.WriteCloser

	events     chan event
	encodeErr  error
	runStopped chan struct{}
}

// NewTracer creates a tracer writing the event log to w. Events are
// encoded on a separate goroutine; the log is flushed and w closed when
// the session is closed.
func NewTracer(w io.WriteCloser) *logging.Tracer {
	t := &tracer{
		w:          w,
		events:     make(chan event, eventChanSize),
		runStopped: make(chan struct{}),
	}
	go t.run()
	return &logging.Tracer{
		StateChanged: func(state logging.State) {
			t.record(eventStateChanged{State: state})
		},
		KeyExchangeCompleted: func(server string, port uint16) {
			t.record(eventKeyExchangeCompleted{Server: server, Port: port})
		},
		SentPacket: func(size int) {
			t.record(eventPacketSent{Size: size})
		},
		ReceivedPacket: func(size int) {
			t.record(eventPacketReceived{Size: size})
		},
		DroppedPacket: func(size int, reason logging.PacketDropReason) {
			t.record(eventPacketDropped{Size: size, Reason: reason})
		},
		RetransmissionTimeout: func(timeout time.Duration) {
			t.record(eventRetransmission{Timeout: timeout})
		},
		RequestRejected: func(code logging.KissCode) {
			t.record(eventRequestRejected{Code: code})
		},
		Completed: func(transmit time.Time) {
			t.record(eventCompleted{Transmit: transmit})
		},
		Close: t.close,
	}
}

func (t *tracer) record(details eventDetails) {
	t.events <- event{Time: time.Now(), eventDetails: details}
}

func (t *tracer) run() {
	defer close(t.runStopped)
	enc := gojay.NewEncoder(t.w)
	for ev := range t.events {
		if t.encodeErr != nil { // if encoding failed, just drain the channel
			continue
		}
		if _, err := t.w.Write([]byte{recordSeparator}); err != nil {
			t.encodeErr = err
			continue
		}
		if err := enc.EncodeObject(ev); err != nil {
			t.encodeErr = err
			continue
		}
		if _, err := t.w.Write([]byte{'\n'}); err != nil {
			t.encodeErr = err
		}
	}
}

func (t *tracer) close() {
	close(t.events)
	<-t.runStopped
	if t.encodeErr != nil {
		utils.Errorf("eventlog: encoding failed: %s", t.encodeErr)
	}
	if err := t.w.Close(); err != nil {
		utils.Errorf("eventlog: closing the log failed: %s", err)
	}
}

// Package logging defines the tracer callbacks of the NTS client.
// Implementations are provided by the metrics and eventlog packages; a
// Tracer with nil callbacks is valid, unset events are simply not reported.
package logging

import "time"

// A Tracer records events of a single NTS client session.
type Tracer struct {
	// StateChanged is called on every state transition.
	StateChanged func(state State)
	// KeyExchangeCompleted is called when NTS-KE finishes, with the
	// negotiated NTP server and port.
	KeyExchangeCompleted func(server string, port uint16)
	// SentPacket is called for every transmitted NTP request.
	SentPacket func(size int)
	// ReceivedPacket is called for every NTP response that passed
	// validation and decryption.
	ReceivedPacket func(size int)
	// DroppedPacket is called for every discarded NTP datagram.
	DroppedPacket func(size int, reason PacketDropReason)
	// RetransmissionTimeout is called when an unanswered request is about
	// to be retransmitted, with the next (already doubled) timeout.
	RetransmissionTimeout func(timeout time.Duration)
	// RequestRejected is called when the server answered with a
	// Kiss-of-Death response.
	RequestRejected func(code KissCode)
	// Completed is called when the session reached its terminal state,
	// with the server's transmit time.
	Completed func(t time.Time)
	// Close is called when the session is torn down.
	Close func()
}

// NewMultiplexedTracer fans events out to all given tracers.
func NewMultiplexedTracer(tracers ...*Tracer) *Tracer {
	if len(tracers) == 0 {
		return nil
	}
	if len(tracers) == 1 {
		return tracers[0]
	}
	return &Tracer{
		StateChanged: func(state State) {
			for _, t := range tracers {
				if t.StateChanged != nil {
					t.StateChanged(state)
				}
			}
		},
		KeyExchangeCompleted: func(server string, port uint16) {
			for _, t := range tracers {
				if t.KeyExchangeCompleted != nil {
					t.KeyExchangeCompleted(server, port)
				}
			}
		},
		SentPacket: func(size int) {
			for _, t := range tracers {
				if t.SentPacket != nil {
					t.SentPacket(size)
				}
			}
		},
		ReceivedPacket: func(size int) {
			for _, t := range tracers {
				if t.ReceivedPacket != nil {
					t.ReceivedPacket(size)
				}
			}
		},
		DroppedPacket: func(size int, reason PacketDropReason) {
			for _, t := range tracers {
				if t.DroppedPacket != nil {
					t.DroppedPacket(size, reason)
				}
			}
		},
		RetransmissionTimeout: func(timeout time.Duration) {
			for _, t := range tracers {
				if t.RetransmissionTimeout != nil {
					t.RetransmissionTimeout(timeout)
				}
			}
		},
		RequestRejected: func(code KissCode) {
			for _, t := range tracers {
				if t.RequestRejected != nil {
					t.RequestRejected(code)
				}
			}
		},
		Completed: func(t time.Time) {
			for _, tr := range tracers {
				if tr.Completed != nil {
					tr.Completed(t)
				}
			}
		},
		Close: func() {
			for _, t := range tracers {
				if t.Close != nil {
					t.Close()
				}
			}
		},
	}
}

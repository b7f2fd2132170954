package eventlog

import (
	"time"

	"github.com/francoispqt/gojay"

	"github.com/nts-go/nts-go/logging"
)

type eventDetails interface {
	Name() string
	gojay.MarshalerJSONObject
}

type event struct {
	Time time.Time
	eventDetails
}

var _ gojay.MarshalerJSONObject = event{}

func (e event) IsNil() bool { return false }
func (e event) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("time", float64(e.Time.UnixNano())/1e6)
	enc.StringKey("event", e.Name())
	enc.ObjectKey("data", e.eventDetails)
}

type eventStateChanged struct {
	State logging.State
}

var _ eventDetails = eventStateChanged{}

func (e eventStateChanged) Name() string { return "state_changed" }
func (e eventStateChanged) IsNil() bool  { return false }
func (e eventStateChanged) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("state", e.State.String())
}

type eventKeyExchangeCompleted struct {
	Server string
	Port   uint16
}

var _ eventDetails = eventKeyExchangeCompleted{}

func (e eventKeyExchangeCompleted) Name() string { return "key_exchange_completed" }
func (e eventKeyExchangeCompleted) IsNil() bool  { return false }
func (e eventKeyExchangeCompleted) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("server", e.Server)
	enc.IntKey("port", int(e.Port))
}

type eventPacketSent struct {
	Size int
}

var _ eventDetails = eventPacketSent{}

func (e eventPacketSent) Name() string { return "packet_sent" }
func (e eventPacketSent) IsNil() bool  { return false }
func (e eventPacketSent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.IntKey("size", e.Size)
}

type eventPacketReceived struct {
	Size int
}

var _ eventDetails = eventPacketReceived{}

func (e eventPacketReceived) Name() string { return "packet_received" }
func (e eventPacketReceived) IsNil() bool  { return false }
func (e eventPacketReceived) MarshalJSONObject(enc *gojay.Encoder) {
	enc.IntKey("size", e.Size)
}

type eventPacketDropped struct {
	Size   int
	Reason logging.PacketDropReason
}

var _ eventDetails = eventPacketDropped{}

func (e eventPacketDropped) Name() string { return "packet_dropped" }
func (e eventPacketDropped) IsNil() bool  { return false }
func (e eventPacketDropped) MarshalJSONObject(enc *gojay.Encoder) {
	enc.IntKey("size", e.Size)
	enc.StringKey("reason", e.Reason.String())
}

type eventRetransmission struct {
	Timeout time.Duration
}

var _ eventDetails = eventRetransmission{}

func (e eventRetransmission) Name() string { return "retransmission_timeout" }
func (e eventRetransmission) IsNil() bool  { return false }
func (e eventRetransmission) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("next_timeout", float64(e.Timeout.Milliseconds()))
}

type eventRequestRejected struct {
	Code logging.KissCode
}

var _ eventDetails = eventRequestRejected{}

func (e eventRequestRejected) Name() string { return "request_rejected" }
func (e eventRequestRejected) IsNil() bool  { return false }
func (e eventRequestRejected) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("kiss_code", e.Code.String())
}

type eventCompleted struct {
	Transmit time.Time
}

var _ eventDetails = eventCompleted{}

func (e eventCompleted) Name() string { return "completed" }
func (e eventCompleted) IsNil() bool  { return false }
func (e eventCompleted) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("transmit_time", e.Transmit.Format(time.RFC3339Nano))
}

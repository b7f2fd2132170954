package wire

import (
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// An NTPHeader is the fixed 48-byte NTPv4 header (RFC 5905, section 7.3).
type NTPHeader struct {
	LeapIndicator  uint8
	Version        uint8
	Mode           uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    uint32
	ReferenceTime  uint64
	OriginTime     uint64
	ReceiveTime    uint64
	TransmitTime   uint64
}

// Append serializes the header and appends it to b.
func (h *NTPHeader) Append(b []byte) []byte {
	builder := cryptobyte.NewBuilder(b)
	builder.AddUint8(h.LeapIndicator<<6 | h.Version<<3 | h.Mode)
	builder.AddUint8(h.Stratum)
	builder.AddUint8(uint8(h.Poll))
	builder.AddUint8(uint8(h.Precision))
	builder.AddUint32(h.RootDelay)
	builder.AddUint32(h.RootDispersion)
	builder.AddUint32(h.ReferenceID)
	builder.AddUint64(h.ReferenceTime)
	builder.AddUint64(h.OriginTime)
	builder.AddUint64(h.ReceiveTime)
	builder.AddUint64(h.TransmitTime)
	return builder.BytesOrPanic()
}

// ParseNTPHeader parses the fixed header at the beginning of b.
func ParseNTPHeader(b []byte) (*NTPHeader, error) {
	s := cryptobyte.String(b)
	var flags, stratum, poll, precision uint8
	h := &NTPHeader{}
	if !s.ReadUint8(&flags) ||
		!s.ReadUint8(&stratum) ||
		!s.ReadUint8(&poll) ||
		!s.ReadUint8(&precision) ||
		!s.ReadUint32(&h.RootDelay) ||
		!s.ReadUint32(&h.RootDispersion) ||
		!s.ReadUint32(&h.ReferenceID) ||
		!s.ReadUint64(&h.ReferenceTime) ||
		!s.ReadUint64(&h.OriginTime) ||
		!s.ReadUint64(&h.ReceiveTime) ||
		!s.ReadUint64(&h.TransmitTime) {
		return nil, qerr.NewErrorf(qerr.InvalidMessage, "packet shorter than the NTP header")
	}
	h.LeapIndicator = flags >> 6
	h.Version = flags >> 3 & 0x7
	h.Mode = flags & 0x7
	h.Stratum = stratum
	h.Poll = int8(poll)
	h.Precision = int8(precision)
	return h, nil
}

// KissCode returns the reference ID interpreted as a kiss code. Only
// meaningful for stratum-0 packets.
func (h *NTPHeader) KissCode() protocol.KissCode {
	return protocol.KissCode(h.ReferenceID)
}

// NTPTime converts a 64-bit NTP timestamp into a time.Time.
func NTPTime(ts uint64) time.Time {
	secs := int64(ts>>32) - ntpEpochOffset
	nanos := int64(ts&0xffffffff) * int64(time.Second) >> 32
	return time.Unix(secs, nanos).UTC()
}

// ToNTPTime converts a time.Time into a 64-bit NTP timestamp.
func ToNTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	nanos := uint64(t.Nanosecond())
	return secs<<32 | nanos<<32/uint64(time.Second)
}

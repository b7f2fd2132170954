package wire

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
)

// criticalBit is the top bit of the NTS-KE record type field.
const criticalBit = 0x8000

// A Record is a single NTS-KE record: a 16-bit type (with the critical
// flag in the top bit), a 16-bit body length and the body, all in network
// byte order.
type Record struct {
	Type     protocol.RecordType
	Critical bool
	Body     []byte
}

// Append serializes the record and appends it to b.
func (r *Record) Append(b []byte) []byte {
	builder := cryptobyte.NewBuilder(b)
	typeField := uint16(r.Type)
	if r.Critical {
		typeField |= criticalBit
	}
	builder.AddUint16(typeField)
	builder.AddUint16LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddBytes(r.Body)
	})
	return builder.BytesOrPanic()
}

// Length returns the serialized length of the record.
func (r *Record) Length() int {
	return protocol.RecordHeaderSize + len(r.Body)
}

// ParseRecordHeader reads the 4-byte record header and returns the type,
// the critical flag and the declared body length.
func ParseRecordHeader(b []byte) (protocol.RecordType, bool, int, error) {
	s := cryptobyte.String(b)
	var typeField, bodyLen uint16
	if !s.ReadUint16(&typeField) || !s.ReadUint16(&bodyLen) {
		return 0, false, 0, qerr.NewErrorf(qerr.InvalidSyntax, "truncated NTS-KE record header")
	}
	critical := typeField&criticalBit != 0
	return protocol.RecordType(typeField &^ criticalBit), critical, int(bodyLen), nil
}

// ParseRecord reads one full record from the beginning of b and returns it
// together with the number of bytes consumed.
func ParseRecord(b []byte) (*Record, int, error) {
	s := cryptobyte.String(b)
	var typeField uint16
	var body cryptobyte.String
	if !s.ReadUint16(&typeField) || !s.ReadUint16LengthPrefixed(&body) {
		return nil, 0, qerr.NewErrorf(qerr.InvalidSyntax, "truncated NTS-KE record")
	}
	r := &Record{
		Type:     protocol.RecordType(typeField &^ criticalBit),
		Critical: typeField&criticalBit != 0,
	}
	if len(body) > 0 {
		r.Body = make([]byte, len(body))
		copy(r.Body, body)
	}
	return r, protocol.RecordHeaderSize + len(body), nil
}

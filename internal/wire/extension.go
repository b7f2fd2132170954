package wire

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
)

// An ExtensionField is a generic NTPv4 extension field. The Length on the
// wire covers the 4-byte header and the padded value; Value holds the
// unpadded bytes.
type ExtensionField struct {
	Type  protocol.ExtensionType
	Value []byte
}

// paddedLen rounds up to the 4-byte extension field alignment.
func paddedLen(n int) int {
	return (n + 3) &^ 3
}

var pad [4]byte

// AppendExtension serializes an extension field, padding the value to a
// 4-byte boundary, and appends it to b.
func AppendExtension(b []byte, typ protocol.ExtensionType, value []byte) []byte {
	builder := cryptobyte.NewBuilder(b)
	builder.AddUint16(uint16(typ))
	builder.AddUint16(uint16(protocol.ExtensionHeaderSize + paddedLen(len(value))))
	builder.AddBytes(value)
	builder.AddBytes(pad[:paddedLen(len(value))-len(value)])
	return builder.BytesOrPanic()
}

// NextExtension parses the extension field at the beginning of b and
// returns it together with the number of bytes consumed. The declared
// length must cover the header and fit within b.
func NextExtension(b []byte) (ExtensionField, int, error) {
	s := cryptobyte.String(b)
	var typeField, length uint16
	if !s.ReadUint16(&typeField) || !s.ReadUint16(&length) {
		return ExtensionField{}, 0, qerr.NewErrorf(qerr.InvalidMessage, "truncated extension field")
	}
	if int(length) < protocol.ExtensionHeaderSize || int(length) > len(b) {
		return ExtensionField{}, 0, qerr.NewErrorf(qerr.InvalidMessage, "invalid extension field length %d", length)
	}
	return ExtensionField{
		Type:  protocol.ExtensionType(typeField),
		Value: b[protocol.ExtensionHeaderSize:length],
	}, int(length), nil
}

// AppendAEADExtension serializes the NTS Authenticator and Encrypted
// Extension Fields extension: the nonce and ciphertext lengths, followed by
// the nonce and the ciphertext, each padded to a 4-byte boundary.
func AppendAEADExtension(b []byte, nonce, ciphertext []byte) []byte {
	builder := cryptobyte.NewBuilder(nil)
	builder.AddUint16(uint16(len(nonce)))
	builder.AddUint16(uint16(len(ciphertext)))
	builder.AddBytes(nonce)
	builder.AddBytes(pad[:paddedLen(len(nonce))-len(nonce)])
	builder.AddBytes(ciphertext)
	builder.AddBytes(pad[:paddedLen(len(ciphertext))-len(ciphertext)])
	return AppendExtension(b, protocol.ExtensionTypeAEAD, builder.BytesOrPanic())
}

// ParseAEADExtension splits the value of an AEAD extension field into nonce
// and ciphertext. The declared lengths must fit within the field, and the
// ciphertext must be at least as long as the AES-SIV synthetic IV.
func ParseAEADExtension(value []byte) (nonce, ciphertext []byte, err error) {
	s := cryptobyte.String(value)
	var nonceLen, ciphertextLen uint16
	if !s.ReadUint16(&nonceLen) || !s.ReadUint16(&ciphertextLen) {
		return nil, nil, qerr.NewErrorf(qerr.InvalidMessage, "truncated AEAD extension")
	}
	if int(ciphertextLen) < protocol.AEADOverhead {
		return nil, nil, qerr.NewErrorf(qerr.InvalidMessage, "AEAD ciphertext shorter than the synthetic IV")
	}
	if !s.ReadBytes(&nonce, int(nonceLen)) ||
		!s.Skip(paddedLen(int(nonceLen))-int(nonceLen)) ||
		!s.ReadBytes(&ciphertext, int(ciphertextLen)) {
		return nil, nil, qerr.NewErrorf(qerr.InvalidMessage, "AEAD extension lengths exceed the field")
	}
	return nonce, ciphertext, nil
}

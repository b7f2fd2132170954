package protocol

// A KissCode is the 4-character ASCII code carried in the reference ID
// field of a stratum-0 (Kiss-of-Death) NTP response, packed big-endian.
type KissCode uint32

// Kiss codes relevant to an NTS client (RFC 5905, section 7.4 and RFC 8915,
// section 5.7).
const (
	KissCodeDeny      KissCode = 0x44454e59 // "DENY"
	KissCodeRestrict  KissCode = 0x52535452 // "RSTR"
	KissCodeRate      KissCode = 0x52415445 // "RATE"
	KissCodeCryptoNAK KissCode = 0x4e54534e // "NTSN"
)

func (k KissCode) String() string {
	return string([]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}

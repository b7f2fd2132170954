package protocol

import "time"

// RecordType identifies an NTS-KE record (RFC 8915, section 4).
// The critical bit is not part of the type; it is handled by the wire codec.
type RecordType uint16

const (
	RecordTypeEndOfMessage  RecordType = 0
	RecordTypeNextProtocol  RecordType = 1
	RecordTypeError         RecordType = 2
	RecordTypeWarning       RecordType = 3
	RecordTypeAEADAlgorithm RecordType = 4
	RecordTypeNewCookie     RecordType = 5
	RecordTypeServer        RecordType = 6
	RecordTypePort          RecordType = 7
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeEndOfMessage:
		return "END_OF_MESSAGE"
	case RecordTypeNextProtocol:
		return "NTS_NEXT_PROTOCOL_NEGOTIATION"
	case RecordTypeError:
		return "ERROR"
	case RecordTypeWarning:
		return "WARNING"
	case RecordTypeAEADAlgorithm:
		return "AEAD_ALGORITHM_NEGOTIATION"
	case RecordTypeNewCookie:
		return "NEW_COOKIE_FOR_NTPV4"
	case RecordTypeServer:
		return "NTPV4_SERVER_NEGOTIATION"
	case RecordTypePort:
		return "NTPV4_PORT_NEGOTIATION"
	default:
		return "UNKNOWN"
	}
}

// ExtensionType identifies an NTPv4 extension field (RFC 8915, section 5).
type ExtensionType uint16

const (
	ExtensionTypeUniqueIdentifier  ExtensionType = 0x0104
	ExtensionTypeCookie            ExtensionType = 0x0204
	ExtensionTypeCookiePlaceholder ExtensionType = 0x0304
	ExtensionTypeAEAD              ExtensionType = 0x0404
)

const (
	// NextProtocolNTPv4 is the only protocol ID this client negotiates.
	NextProtocolNTPv4 uint16 = 0
	// AEADAlgorithmAESSIVCMAC256 is the mandatory-to-implement NTS AEAD
	// algorithm (RFC 5297).
	AEADAlgorithmAESSIVCMAC256 uint16 = 15
)

const (
	// ALPNProtocol is advertised during the NTS-KE TLS handshake.
	ALPNProtocol = "ntske/1"
	// DefaultKeyExchangePort is the NTS-KE TCP port.
	DefaultKeyExchangePort = 4460
	// DefaultNTPPort is used when the server doesn't negotiate a port.
	DefaultNTPPort = 123
)

const (
	// NTPHeaderSize is the size of the fixed NTPv4 header.
	NTPHeaderSize = 48
	// ExtensionHeaderSize is the size of the type / length prefix of an
	// NTP extension field.
	ExtensionHeaderSize = 4
	// RecordHeaderSize is the size of the type / length prefix of an
	// NTS-KE record.
	RecordHeaderSize = 4
	// KeySize is the length of the exported C2S and S2C keys.
	KeySize = 32
	// UniqueIDSize is the length of the Unique Identifier extension body.
	UniqueIDSize = 32
	// NonceSize is the length of the per-request AEAD nonce.
	NonceSize = 16
	// AEADOverhead is the length of the AES-SIV synthetic IV.
	AEADOverhead = 16
	// MaxCookieSize bounds the cookies accepted from a server.
	MaxCookieSize = 256
	// MaxServerNameSize bounds the NTPv4 Server Negotiation body.
	MaxServerNameSize = 255
	// KeyExchangeBufferSize is the staging buffer used for NTS-KE records.
	// Records declaring a larger total length are rejected.
	KeyExchangeBufferSize = 1024
	// MaxDatagramSize is the receive buffer used for NTP responses.
	MaxDatagramSize = 1280
)

const (
	// DefaultTimeout bounds a whole exchange, from key establishment
	// through the last NTP retransmission.
	DefaultTimeout = 30 * time.Second
	// DefaultInitialRetransmitTimeout is the first NTP retransmission
	// timeout. It doubles on every unanswered request.
	DefaultInitialRetransmitTimeout = 2 * time.Second
	// DefaultMaxRetransmitTimeout caps the retransmission backoff.
	DefaultMaxRetransmitTimeout = 15 * time.Second
)

// NTP packet mode values.
const (
	ModeClient    uint8 = 3
	ModeServer    uint8 = 4
	ModeBroadcast uint8 = 5
)

// VersionNTPv4 is the only NTP version this client speaks.
const VersionNTPv4 uint8 = 4

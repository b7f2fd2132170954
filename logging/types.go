package logging

import "github.com/nts-go/nts-go/internal/protocol"

// State is the phase of an NTS client session.
type State = protocol.State

const (
	StateInit                     = protocol.StateInit
	StateKeyExchangeInit          = protocol.StateKeyExchangeInit
	StateKeyExchangeConnecting    = protocol.StateKeyExchangeConnecting
	StateKeyExchangeSending       = protocol.StateKeyExchangeSending
	StateKeyExchangeReceiving     = protocol.StateKeyExchangeReceiving
	StateKeyExchangeDisconnecting = protocol.StateKeyExchangeDisconnecting
	StateResolving                = protocol.StateResolving
	StateNTPInit                  = protocol.StateNTPInit
	StateSending                  = protocol.StateSending
	StateReceiving                = protocol.StateReceiving
	StateComplete                 = protocol.StateComplete
)

// KissCode is the 4-character code of a Kiss-of-Death response.
type KissCode = protocol.KissCode

const (
	KissCodeDeny      = protocol.KissCodeDeny
	KissCodeRestrict  = protocol.KissCodeRestrict
	KissCodeRate      = protocol.KissCodeRate
	KissCodeCryptoNAK = protocol.KissCodeCryptoNAK
)

// A PacketDropReason says why an NTP datagram was discarded. Dropped
// datagrams are not fatal: the client keeps waiting for a valid response.
type PacketDropReason uint8

const (
	// PacketDropHeaderParseError occurs when the datagram is shorter than
	// the fixed NTP header or an extension field is malformed.
	PacketDropHeaderParseError PacketDropReason = iota
	// PacketDropVersionMismatch occurs when the version field isn't 4.
	PacketDropVersionMismatch
	// PacketDropUnexpectedMode occurs when the mode is neither server nor
	// broadcast.
	PacketDropUnexpectedMode
	// PacketDropInvalidTimestamp occurs when the transmit timestamp is
	// zero or the originate timestamp is non-zero.
	PacketDropInvalidTimestamp
	// PacketDropUniqueIDMismatch occurs when the Unique Identifier doesn't
	// match the one sent in the pending request.
	PacketDropUniqueIDMismatch
	// PacketDropMissingExtension occurs when a required extension field is
	// absent or duplicated.
	PacketDropMissingExtension
	// PacketDropPayloadDecryptError occurs when AEAD decryption fails or
	// the AEAD extension is malformed.
	PacketDropPayloadDecryptError
)

func (r PacketDropReason) String() string {
	switch r {
	case PacketDropHeaderParseError:
		return "header_parse_error"
	case PacketDropVersionMismatch:
		return "version_mismatch"
	case PacketDropUnexpectedMode:
		return "unexpected_mode"
	case PacketDropInvalidTimestamp:
		return "invalid_timestamp"
	case PacketDropUniqueIDMismatch:
		return "unique_id_mismatch"
	case PacketDropMissingExtension:
		return "missing_extension"
	case PacketDropPayloadDecryptError:
		return "payload_decrypt_error"
	default:
		return "unknown"
	}
}

package nts

import (
	"bytes"
	"time"

	"github.com/nts-go/nts-go/internal/handshake"
	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/internal/wire"
	"github.com/nts-go/nts-go/logging"
)

type receivedPacket struct {
	transmitTime time.Time
	cookie       []byte
}

// unpackResponse validates and decrypts an NTP response datagram. The
// checks run in a fixed order; any failure means the datagram is discarded
// and the client keeps waiting. Framing and decryption failures share a
// single error code, so a forged datagram is not distinguishable from a
// malformed one.
func (c *Client) unpackResponse(data []byte) (*receivedPacket, logging.PacketDropReason, error) {
	hdr, err := wire.ParseNTPHeader(data)
	if err != nil {
		return nil, logging.PacketDropHeaderParseError, err
	}
	if hdr.Version != protocol.VersionNTPv4 {
		return nil, logging.PacketDropVersionMismatch,
			qerr.NewErrorf(qerr.InvalidMessage, "NTP version %d", hdr.Version)
	}
	// A stratum-0 response is a Kiss-of-Death: it carries a 4-character
	// code in the reference ID field and is never decrypted. The client
	// must stop contacting this server.
	if hdr.Stratum == 0 {
		c.kissCode = hdr.KissCode()
		return nil, 0, qerr.NewErrorf(qerr.RequestRejected, "kiss of death %q", c.kissCode)
	}
	if hdr.TransmitTime == 0 {
		return nil, logging.PacketDropInvalidTimestamp,
			qerr.NewErrorf(qerr.InvalidMessage, "zero transmit timestamp")
	}
	if hdr.Mode != protocol.ModeServer && hdr.Mode != protocol.ModeBroadcast {
		return nil, logging.PacketDropUnexpectedMode,
			qerr.NewErrorf(qerr.InvalidMessage, "unexpected mode %d", hdr.Mode)
	}
	// Requests never echo a timestamp, so a non-zero originate timestamp
	// cannot belong to this association.
	if hdr.OriginTime != 0 {
		return nil, logging.PacketDropInvalidTimestamp,
			qerr.NewErrorf(qerr.InvalidMessage, "unexpected originate timestamp")
	}

	var (
		uniqueID      []byte
		aeadValue     []byte
		uniqueIDCount int
		aeadCount     int
		uniqueIDFirst bool
		associatedLen int
	)
	offset := protocol.NTPHeaderSize
	for offset < len(data) {
		ext, n, err := wire.NextExtension(data[offset:])
		if err != nil {
			return nil, logging.PacketDropHeaderParseError, err
		}
		switch ext.Type {
		case protocol.ExtensionTypeUniqueIdentifier:
			uniqueIDCount++
			uniqueID = ext.Value
			if aeadCount == 0 {
				uniqueIDFirst = true
			}
		case protocol.ExtensionTypeAEAD:
			aeadCount++
			if aeadCount == 1 {
				aeadValue = ext.Value
				// the authenticated span covers everything before
				// this extension
				associatedLen = offset
			}
		}
		offset += n
	}
	if uniqueIDCount != 1 || aeadCount != 1 {
		return nil, logging.PacketDropMissingExtension,
			qerr.NewErrorf(qerr.MissingExtension, "expected one unique identifier and one AEAD extension")
	}
	// The unique identifier is associated data; inside or after the AEAD
	// extension it cannot have been authenticated.
	if !uniqueIDFirst {
		return nil, logging.PacketDropPayloadDecryptError,
			qerr.NewErrorf(qerr.InvalidMessage, "unique identifier after the AEAD extension")
	}
	if !bytes.Equal(uniqueID, c.uniqueID) {
		return nil, logging.PacketDropUniqueIDMismatch,
			qerr.NewErrorf(qerr.InvalidMessage, "unique identifier mismatch")
	}

	nonce, ciphertext, err := wire.ParseAEADExtension(aeadValue)
	if err != nil {
		return nil, logging.PacketDropPayloadDecryptError, err
	}
	opener, err := handshake.NewAEAD(c.s2cKey)
	if err != nil {
		return nil, logging.PacketDropPayloadDecryptError, err
	}
	plaintext, err := opener.Open(nil, nonce, ciphertext, data[:associatedLen])
	if err != nil {
		return nil, logging.PacketDropPayloadDecryptError,
			qerr.NewErrorf(qerr.InvalidMessage, "response rejected")
	}

	// The decrypted payload must contain at least one cookie extension;
	// its value replaces the stored cookie.
	var cookie []byte
	pos := 0
	for pos < len(plaintext) {
		ext, n, err := wire.NextExtension(plaintext[pos:])
		if err != nil {
			return nil, logging.PacketDropPayloadDecryptError, err
		}
		if ext.Type == protocol.ExtensionTypeCookie && cookie == nil {
			if len(ext.Value) > protocol.MaxCookieSize {
				return nil, logging.PacketDropPayloadDecryptError,
					qerr.NewErrorf(qerr.BufferOverflow, "cookie of %d bytes exceeds the cookie buffer", len(ext.Value))
			}
			cookie = append([]byte(nil), ext.Value...)
		}
		pos += n
	}
	if cookie == nil {
		return nil, logging.PacketDropMissingExtension,
			qerr.NewErrorf(qerr.MissingExtension, "no cookie in the encrypted payload")
	}

	return &receivedPacket{
		transmitTime: wire.NTPTime(hdr.TransmitTime),
		cookie:       cookie,
	}, 0, nil
}

package nts

import (
	"io"

	"github.com/nts-go/nts-go/internal/handshake"
	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/internal/wire"
)

// packRequest builds a protected NTP request: the client-mode header
// followed by the Unique Identifier, NTS Cookie and NTS AEAD extension
// fields, in that order. The AEAD operation encrypts an empty plaintext:
// it authenticates the header and the two preceding extensions without
// carrying a payload. A fresh unique identifier and nonce are generated
// for every request, including retransmissions.
func (c *Client) packRequest() ([]byte, error) {
	if len(c.cookie) == 0 {
		return nil, qerr.NewErrorf(qerr.WrongCookie, "no cookie available")
	}
	sealer, err := handshake.NewAEAD(c.c2sKey)
	if err != nil {
		return nil, err
	}

	uniqueID := make([]byte, protocol.UniqueIDSize)
	if _, err := io.ReadFull(c.config.Rand, uniqueID); err != nil {
		return nil, qerr.NewErrorf(qerr.OpenFailed, "generating unique identifier: %s", err)
	}
	nonce := make([]byte, protocol.NonceSize)
	if _, err := io.ReadFull(c.config.Rand, nonce); err != nil {
		return nil, qerr.NewErrorf(qerr.OpenFailed, "generating nonce: %s", err)
	}
	c.uniqueID = uniqueID

	hdr := &wire.NTPHeader{
		Version: protocol.VersionNTPv4,
		Mode:    protocol.ModeClient,
	}
	b := hdr.Append(make([]byte, 0, protocol.NTPHeaderSize+3*protocol.ExtensionHeaderSize+
		protocol.UniqueIDSize+len(c.cookie)+protocol.NonceSize+protocol.AEADOverhead+8))
	b = wire.AppendExtension(b, protocol.ExtensionTypeUniqueIdentifier, uniqueID)
	b = wire.AppendExtension(b, protocol.ExtensionTypeCookie, c.cookie)
	ciphertext := sealer.Seal(nil, nonce, nil, b)
	return wire.AppendAEADExtension(b, nonce, ciphertext), nil
}

package nts

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nts-go/nts-go/internal/handshake"
	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/wire"
	"github.com/nts-go/nts-go/logging"
)

func TestPackRequestLayout(t *testing.T) {
	c, _ := newNTPTestClient(t, &stubDatagramConn{})
	req, err := c.packRequest()
	require.NoError(t, err)

	hdr, err := wire.ParseNTPHeader(req)
	require.NoError(t, err)
	require.Equal(t, protocol.VersionNTPv4, hdr.Version)
	require.Equal(t, protocol.ModeClient, hdr.Mode)
	require.Zero(t, hdr.OriginTime)
	require.Zero(t, hdr.TransmitTime)

	// unique identifier, cookie and AEAD extension, in that order
	ext, n, err := wire.NextExtension(req[protocol.NTPHeaderSize:])
	require.NoError(t, err)
	require.Equal(t, protocol.ExtensionTypeUniqueIdentifier, ext.Type)
	require.Equal(t, c.uniqueID, ext.Value)
	offset := protocol.NTPHeaderSize + n

	ext, n, err = wire.NextExtension(req[offset:])
	require.NoError(t, err)
	require.Equal(t, protocol.ExtensionTypeCookie, ext.Type)
	require.Equal(t, c.cookie, ext.Value)
	offset += n

	ext, n, err = wire.NextExtension(req[offset:])
	require.NoError(t, err)
	require.Equal(t, protocol.ExtensionTypeAEAD, ext.Type)
	require.Equal(t, len(req), offset+n)

	// the AEAD extension authenticates everything before it and carries
	// no plaintext
	nonce, ciphertext, err := wire.ParseAEADExtension(ext.Value)
	require.NoError(t, err)
	opener, err := handshake.NewAEAD(c.c2sKey)
	require.NoError(t, err)
	plaintext, err := opener.Open(nil, nonce, ciphertext, req[:offset])
	require.NoError(t, err)
	require.Empty(t, plaintext)
}

func TestPackRequestWithoutCookie(t *testing.T) {
	c, _ := newNTPTestClient(t, &stubDatagramConn{})
	c.cookie = nil
	_, err := c.packRequest()
	require.ErrorIs(t, err, &Error{Code: WrongCookie})
}

func TestPackRequestFreshRandomness(t *testing.T) {
	c, _ := newNTPTestClient(t, &stubDatagramConn{})
	first, err := c.packRequest()
	require.NoError(t, err)
	firstUniqueID := append([]byte(nil), c.uniqueID...)
	second, err := c.packRequest()
	require.NoError(t, err)
	require.NotEqual(t, firstUniqueID, c.uniqueID)
	require.NotEqual(t, first, second)
}

// unpackTestClient returns a client with a fixed unique identifier, as if a
// request had just been sent.
func unpackTestClient(t *testing.T) *Client {
	t.Helper()
	c, _ := newNTPTestClient(t, &stubDatagramConn{})
	c.uniqueID = bytes.Repeat([]byte{0xaa}, protocol.UniqueIDSize)
	return c
}

func TestUnpackResponse(t *testing.T) {
	c := unpackTestClient(t)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 250000000, time.UTC)
	newCookie := bytes.Repeat([]byte{0x55}, 100)

	pkt, _, err := c.unpackResponse(buildResponse(t, c, transmit, newCookie))
	require.NoError(t, err)
	require.WithinDuration(t, transmit, pkt.transmitTime, time.Microsecond)
	require.Equal(t, newCookie, pkt.cookie)
}

func TestUnpackResponseBroadcastMode(t *testing.T) {
	c := unpackTestClient(t)
	hdr := &wire.NTPHeader{
		Version: 4, Mode: protocol.ModeBroadcast, Stratum: 2,
		TransmitTime: wire.ToNTPTime(time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)),
	}
	b := hdr.Append(nil)
	b = wire.AppendExtension(b, protocol.ExtensionTypeUniqueIdentifier, c.uniqueID)
	sealer, err := handshake.NewAEAD(c.s2cKey)
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{0x44}, protocol.NonceSize)
	payload := wire.AppendExtension(nil, protocol.ExtensionTypeCookie, []byte("cookie"))
	b = wire.AppendAEADExtension(b, nonce, sealer.Seal(nil, nonce, payload, b))

	pkt, _, err := c.unpackResponse(b)
	require.NoError(t, err)
	require.Equal(t, []byte("cookie"), pkt.cookie)
}

func TestUnpackResponseHeaderChecks(t *testing.T) {
	c := unpackTestClient(t)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)

	// truncated datagram
	_, reason, err := c.unpackResponse(make([]byte, protocol.NTPHeaderSize-1))
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropHeaderParseError, reason)

	// wrong version
	hdr := &wire.NTPHeader{Version: 3, Mode: protocol.ModeServer, Stratum: 2, TransmitTime: wire.ToNTPTime(transmit)}
	_, reason, err = c.unpackResponse(hdr.Append(nil))
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropVersionMismatch, reason)

	// zero transmit timestamp
	hdr = &wire.NTPHeader{Version: 4, Mode: protocol.ModeServer, Stratum: 2}
	_, reason, err = c.unpackResponse(hdr.Append(nil))
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropInvalidTimestamp, reason)

	// client mode
	hdr = &wire.NTPHeader{Version: 4, Mode: protocol.ModeClient, Stratum: 2, TransmitTime: wire.ToNTPTime(transmit)}
	_, reason, err = c.unpackResponse(hdr.Append(nil))
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropUnexpectedMode, reason)

	// a request was never echoed, so no originate timestamp can be valid
	hdr = &wire.NTPHeader{
		Version: 4, Mode: protocol.ModeServer, Stratum: 2,
		OriginTime:   wire.ToNTPTime(transmit),
		TransmitTime: wire.ToNTPTime(transmit),
	}
	_, reason, err = c.unpackResponse(hdr.Append(nil))
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropInvalidTimestamp, reason)
}

func TestUnpackResponseKissOfDeathBeforeDecryption(t *testing.T) {
	c := unpackTestClient(t)
	// a bare stratum-0 header, without any extension and with a zero
	// transmit timestamp, is still a rejection
	hdr := &wire.NTPHeader{Version: 4, Mode: protocol.ModeServer, Stratum: 0, ReferenceID: uint32(KissCodeRate)}
	_, _, err := c.unpackResponse(hdr.Append(nil))
	require.ErrorIs(t, err, &Error{Code: RequestRejected})
	require.Equal(t, KissCodeRate, c.KissCode())
}

func TestUnpackResponseExtensionChecks(t *testing.T) {
	c := unpackTestClient(t)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	authentic := buildResponse(t, c, transmit, []byte("cookie"))

	// no extensions at all
	_, reason, err := c.unpackResponse(authentic[:protocol.NTPHeaderSize])
	require.ErrorIs(t, err, &Error{Code: MissingExtension})
	require.Equal(t, logging.PacketDropMissingExtension, reason)

	// a second unique identifier
	dup := append([]byte(nil), authentic...)
	dup = wire.AppendExtension(dup, protocol.ExtensionTypeUniqueIdentifier, c.uniqueID)
	_, reason, err = c.unpackResponse(dup)
	require.ErrorIs(t, err, &Error{Code: MissingExtension})
	require.Equal(t, logging.PacketDropMissingExtension, reason)

	// unique identifier mismatch
	other := append([]byte(nil), authentic...)
	other[protocol.NTPHeaderSize+protocol.ExtensionHeaderSize] ^= 1
	_, reason, err = c.unpackResponse(other)
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropUniqueIDMismatch, reason)

	// truncated extension area
	_, reason, err = c.unpackResponse(authentic[:len(authentic)-2])
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropHeaderParseError, reason)
}

func TestUnpackResponseUniqueIDAfterAEAD(t *testing.T) {
	c := unpackTestClient(t)
	// the unique identifier placed after the AEAD extension is outside the
	// authenticated span and must be rejected
	hdr := &wire.NTPHeader{
		Version: 4, Mode: protocol.ModeServer, Stratum: 2,
		TransmitTime: wire.ToNTPTime(time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)),
	}
	b := hdr.Append(nil)
	sealer, err := handshake.NewAEAD(c.s2cKey)
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{0x44}, protocol.NonceSize)
	payload := wire.AppendExtension(nil, protocol.ExtensionTypeCookie, []byte("cookie"))
	b = wire.AppendAEADExtension(b, nonce, sealer.Seal(nil, nonce, payload, b))
	b = wire.AppendExtension(b, protocol.ExtensionTypeUniqueIdentifier, c.uniqueID)

	_, reason, err := c.unpackResponse(b)
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropPayloadDecryptError, reason)
}

func TestUnpackResponseRejectsForgery(t *testing.T) {
	c := unpackTestClient(t)
	authentic := buildResponse(t, c, time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC), []byte("cookie"))

	// any bit of the authenticated span breaks the tag
	forged := append([]byte(nil), authentic...)
	forged[20] ^= 1
	_, reason, err := c.unpackResponse(forged)
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.EqualError(t, err, "INVALID_MESSAGE: response rejected")
	require.Equal(t, logging.PacketDropPayloadDecryptError, reason)

	// a flipped nonce byte invalidates the synthetic IV as well
	tamperedNonce := append([]byte(nil), authentic...)
	aeadExtStart := protocol.NTPHeaderSize + protocol.ExtensionHeaderSize + protocol.UniqueIDSize
	nonceStart := aeadExtStart + protocol.ExtensionHeaderSize + 4
	tamperedNonce[nonceStart] ^= 1
	_, reason, err = c.unpackResponse(tamperedNonce)
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropPayloadDecryptError, reason)

	// a response sealed with the wrong key is a forgery too
	c.s2cKey = bytes.Repeat([]byte{0x99}, protocol.KeySize)
	_, reason, err = c.unpackResponse(authentic)
	require.ErrorIs(t, err, &Error{Code: InvalidMessage})
	require.Equal(t, logging.PacketDropPayloadDecryptError, reason)
}

func TestUnpackResponseTrailingExtension(t *testing.T) {
	c := unpackTestClient(t)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	// an unauthenticated extension after the AEAD extension doesn't break
	// decryption: the authenticated span ends at the AEAD extension
	b := buildResponse(t, c, transmit, []byte("cookie"))
	b = wire.AppendExtension(b, protocol.ExtensionType(0x0708), []byte("ignored"))

	pkt, _, err := c.unpackResponse(b)
	require.NoError(t, err)
	require.Equal(t, []byte("cookie"), pkt.cookie)
}

func TestUnpackResponsePayloadChecks(t *testing.T) {
	c := unpackTestClient(t)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	hdr := &wire.NTPHeader{Version: 4, Mode: protocol.ModeServer, Stratum: 2, TransmitTime: wire.ToNTPTime(transmit)}
	sealer, err := handshake.NewAEAD(c.s2cKey)
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{0x44}, protocol.NonceSize)

	seal := func(payload []byte) []byte {
		b := hdr.Append(nil)
		b = wire.AppendExtension(b, protocol.ExtensionTypeUniqueIdentifier, c.uniqueID)
		return wire.AppendAEADExtension(b, nonce, sealer.Seal(nil, nonce, payload, b))
	}

	// an empty payload carries no cookie
	_, reason, err := c.unpackResponse(seal(nil))
	require.ErrorIs(t, err, &Error{Code: MissingExtension})
	require.Equal(t, logging.PacketDropMissingExtension, reason)

	// an oversized cookie doesn't fit the cookie buffer
	_, reason, err = c.unpackResponse(seal(
		wire.AppendExtension(nil, protocol.ExtensionTypeCookie, make([]byte, protocol.MaxCookieSize+4))))
	require.ErrorIs(t, err, &Error{Code: BufferOverflow})
	require.Equal(t, logging.PacketDropPayloadDecryptError, reason)

	// the first of several cookies is kept
	payload := wire.AppendExtension(nil, protocol.ExtensionTypeCookie, []byte("head"))
	payload = wire.AppendExtension(payload, protocol.ExtensionTypeCookie, []byte("tail"))
	pkt, _, err := c.unpackResponse(seal(payload))
	require.NoError(t, err)
	require.Equal(t, []byte("head"), pkt.cookie)
}

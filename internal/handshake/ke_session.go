package handshake

import (
	"crypto/tls"
	"encoding/binary"
	"net"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/internal/utils"
	"github.com/nts-go/nts-go/internal/wire"
)

// keyExportLabel is the TLS exporter label of RFC 8915, section 4.3.
const keyExportLabel = "EXPORTER-network-time-security"

// Exporter context direction bytes.
const (
	directionC2S = 0x00
	directionS2C = 0x01
)

// Results of a completed NTS-KE exchange.
type Results struct {
	C2SKey []byte
	S2CKey []byte
	Cookie []byte
	// Server and Port address the NTP service. They default to the
	// NTS-KE server's own host and to port 123 when the server doesn't
	// send the corresponding negotiation records.
	Server string
	Port   uint16
}

// A KeyExchange drives one NTS-KE request/response exchange over TLS 1.3.
// All methods are non-blocking: they return qerr.ErrWouldBlock when the
// underlying stream cannot make progress yet, and are simply retried.
type KeyExchange struct {
	conn StreamConn

	// Staging buffer for the request and for response records.
	// pos counts the bytes transferred so far, length is the target of
	// the current transfer: pos <= length <= len(buf).
	buf    []byte
	pos    int
	length int

	requestSent bool
	headerRead  bool

	gotNextProto bool
	gotAlgo      bool
	eomReceived  bool

	results Results
}

// NewKeyExchange opens the NTS-KE stream to addr ("host:port"). The TLS
// configuration is cloned and restricted to TLS 1.3 with ALPN "ntske/1".
// The session cache persists tickets across exchanges, so a later exchange
// can resume the TLS session.
func NewKeyExchange(addr string, localAddr net.Addr, conf *tls.Config, cache tls.ClientSessionCache) (*KeyExchange, error) {
	if conf == nil {
		return nil, qerr.NewErrorf(qerr.OpenFailed, "no TLS configuration")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, qerr.NewErrorf(qerr.InvalidParameter, "invalid NTS-KE address %q: %s", addr, err)
	}
	conf = conf.Clone()
	conf.MinVersion = tls.VersionTLS13
	conf.MaxVersion = tls.VersionTLS13
	conf.NextProtos = []string{protocol.ALPNProtocol}
	if cache != nil {
		conf.ClientSessionCache = cache
	}
	return newKeyExchange(dialTLS("tcp", addr, localAddr, conf), host), nil
}

func newKeyExchange(conn StreamConn, host string) *KeyExchange {
	return &KeyExchange{
		conn: conn,
		buf:  make([]byte, protocol.KeyExchangeBufferSize),
		results: Results{
			Server: host,
			Port:   protocol.DefaultNTPPort,
		},
	}
}

// Handshake polls the TCP connect and TLS handshake.
func (k *KeyExchange) Handshake() error {
	return k.conn.Handshake()
}

// SendRequest writes the negotiation request. Partial writes advance the
// buffer cursor, so a would-block outcome resumes where it left off.
func (k *KeyExchange) SendRequest() error {
	if !k.requestSent && k.length == 0 {
		k.formatRequest()
	}
	for k.pos < k.length {
		n, err := k.conn.Write(k.buf[k.pos:k.length])
		k.pos += n
		if err != nil {
			return err
		}
	}
	k.requestSent = true
	k.startRecord()
	return nil
}

// formatRequest emits exactly one NTS Next Protocol Negotiation record
// advertising NTPv4, one AEAD Algorithm Negotiation record advertising
// AES-SIV-CMAC-256, and the End of Message record.
func (k *KeyExchange) formatRequest() {
	var proto, algo [2]byte
	binary.BigEndian.PutUint16(proto[:], protocol.NextProtocolNTPv4)
	binary.BigEndian.PutUint16(algo[:], protocol.AEADAlgorithmAESSIVCMAC256)
	b := (&wire.Record{Type: protocol.RecordTypeNextProtocol, Critical: true, Body: proto[:]}).Append(k.buf[:0])
	b = (&wire.Record{Type: protocol.RecordTypeAEADAlgorithm, Critical: true, Body: algo[:]}).Append(b)
	b = (&wire.Record{Type: protocol.RecordTypeEndOfMessage, Critical: true}).Append(b)
	k.pos = 0
	k.length = len(b)
}

func (k *KeyExchange) startRecord() {
	k.headerRead = false
	k.pos = 0
	k.length = protocol.RecordHeaderSize
}

// ReceiveResponse reads and dispatches response records until the End of
// Message record has been processed. Each record is read in two stages:
// first the fixed header, to learn the body length, then the body.
func (k *KeyExchange) ReceiveResponse() error {
	if !k.requestSent {
		return qerr.NewErrorf(qerr.InvalidParameter, "receive before the request was sent")
	}
	for !k.eomReceived {
		if !k.headerRead {
			if err := k.fill(); err != nil {
				return err
			}
			_, _, bodyLen, err := wire.ParseRecordHeader(k.buf[:protocol.RecordHeaderSize])
			if err != nil {
				return err
			}
			total := protocol.RecordHeaderSize + bodyLen
			if total > len(k.buf) {
				return qerr.NewErrorf(qerr.BufferOverflow, "NTS-KE record of %d bytes exceeds the receive buffer", total)
			}
			k.headerRead = true
			k.length = total
		}
		if err := k.fill(); err != nil {
			return err
		}
		rec, _, err := wire.ParseRecord(k.buf[:k.length])
		if err != nil {
			return err
		}
		if err := k.handleRecord(rec); err != nil {
			return err
		}
		k.startRecord()
	}
	return nil
}

func (k *KeyExchange) fill() error {
	for k.pos < k.length {
		n, err := k.conn.Read(k.buf[k.pos:k.length])
		k.pos += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (k *KeyExchange) handleRecord(rec *wire.Record) error {
	utils.Debugf("NTS-KE: received %s record (%d bytes)", rec.Type, len(rec.Body))
	switch rec.Type {
	case protocol.RecordTypeNextProtocol:
		if k.gotNextProto {
			return qerr.NewErrorf(qerr.InvalidSyntax, "duplicate NTS Next Protocol Negotiation record")
		}
		k.gotNextProto = true
		if len(rec.Body) != 2 || binary.BigEndian.Uint16(rec.Body) != protocol.NextProtocolNTPv4 {
			return qerr.NewErrorf(qerr.InvalidProtocol, "server didn't select NTPv4")
		}
	case protocol.RecordTypeAEADAlgorithm:
		if k.gotAlgo {
			return qerr.NewErrorf(qerr.InvalidSyntax, "duplicate AEAD Algorithm Negotiation record")
		}
		k.gotAlgo = true
		// An empty body means the server offered no common algorithm.
		if len(rec.Body) != 2 || binary.BigEndian.Uint16(rec.Body) != protocol.AEADAlgorithmAESSIVCMAC256 {
			return qerr.NewErrorf(qerr.UnsupportedAlgo, "server didn't select AES-SIV-CMAC-256")
		}
	case protocol.RecordTypeNewCookie:
		if len(rec.Body) == 0 {
			return qerr.NewErrorf(qerr.InvalidSyntax, "empty cookie record")
		}
		if len(rec.Body) > protocol.MaxCookieSize {
			return qerr.NewErrorf(qerr.BufferOverflow, "cookie of %d bytes exceeds the cookie buffer", len(rec.Body))
		}
		// Servers typically send several cookies. This client stores a
		// single cookie, so only the first one is kept.
		if k.results.Cookie == nil {
			k.results.Cookie = append([]byte(nil), rec.Body...)
		}
	case protocol.RecordTypeServer:
		if len(rec.Body) == 0 {
			return qerr.NewErrorf(qerr.InvalidSyntax, "empty NTPv4 Server Negotiation record")
		}
		if len(rec.Body) > protocol.MaxServerNameSize {
			return qerr.NewErrorf(qerr.BufferOverflow, "server name of %d bytes exceeds the name buffer", len(rec.Body))
		}
		k.results.Server = string(rec.Body)
	case protocol.RecordTypePort:
		if len(rec.Body) != 2 {
			return qerr.NewErrorf(qerr.InvalidSyntax, "NTPv4 Port Negotiation record with a %d-byte body", len(rec.Body))
		}
		k.results.Port = binary.BigEndian.Uint16(rec.Body)
	case protocol.RecordTypeError:
		k.results = Results{}
		if len(rec.Body) >= 2 {
			return qerr.NewErrorf(qerr.UnexpectedResponse, "server reported error %#x", binary.BigEndian.Uint16(rec.Body))
		}
		return qerr.NewErrorf(qerr.UnexpectedResponse, "server reported an error")
	case protocol.RecordTypeWarning:
		if len(rec.Body) >= 2 {
			utils.Infof("NTS-KE: server reported warning %#x", binary.BigEndian.Uint16(rec.Body))
		}
	case protocol.RecordTypeEndOfMessage:
		if !k.gotNextProto || !k.gotAlgo {
			return qerr.NewErrorf(qerr.InvalidSyntax, "End of Message without both negotiation records")
		}
		if k.results.Cookie == nil {
			return qerr.NewErrorf(qerr.WrongCookie, "no cookie received")
		}
		if err := k.deriveKeys(); err != nil {
			return err
		}
		k.eomReceived = true
	default:
		// Unknown record types are skipped for forward compatibility.
	}
	return nil
}

// deriveKeys exports the C2S and S2C keys from the TLS session using the
// 5-byte per-association context of RFC 8915, section 4.3.
func (k *KeyExchange) deriveKeys() error {
	context := make([]byte, 5)
	binary.BigEndian.PutUint16(context[0:2], protocol.NextProtocolNTPv4)
	binary.BigEndian.PutUint16(context[2:4], protocol.AEADAlgorithmAESSIVCMAC256)

	context[4] = directionC2S
	c2s, err := k.conn.ExportKeyingMaterial(keyExportLabel, context, protocol.KeySize)
	if err != nil {
		return qerr.NewErrorf(qerr.OpenFailed, "exporting C2S key: %s", err)
	}
	context[4] = directionS2C
	s2c, err := k.conn.ExportKeyingMaterial(keyExportLabel, context, protocol.KeySize)
	if err != nil {
		return qerr.NewErrorf(qerr.OpenFailed, "exporting S2C key: %s", err)
	}
	k.results.C2SKey = c2s
	k.results.S2CKey = s2c
	return nil
}

// Results returns the outcome of the exchange. Only valid once
// ReceiveResponse has returned nil.
func (k *KeyExchange) Results() Results {
	return k.results
}

// Shutdown sends the TLS close-notify and releases the connection.
// It is idempotent and safe to call from error paths at any phase.
func (k *KeyExchange) Shutdown() error {
	if k.conn == nil {
		return nil
	}
	k.conn.Shutdown()
	err := k.conn.Close()
	k.conn = nil
	return err
}

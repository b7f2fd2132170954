package handshake

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/internal/utils"
)

// dialTimeout bounds the TCP connect plus TLS handshake. The per-exchange
// timeout check of the caller usually fires first.
const dialTimeout = 30 * time.Second

// writeTimeout bounds a single Write attempt. The NTS-KE request is a few
// dozen bytes, so a write only stalls when the peer's window is closed.
const writeTimeout = time.Second

// A tlsStream adapts a crypto/tls connection to the non-blocking StreamConn
// contract. The dial and handshake run on their own goroutine and are
// polled through Handshake; reads use an immediate deadline so that a
// would-block outcome surfaces instead of blocking the driver.
type tlsStream struct {
	op     *utils.AsyncOp[*tls.Conn]
	conn   *tls.Conn
	closed bool
}

var _ StreamConn = &tlsStream{}

func dialTLS(network, addr string, localAddr net.Addr, conf *tls.Config) *tlsStream {
	op := utils.RunAsync(func() (*tls.Conn, error) {
		dialer := &net.Dialer{Timeout: dialTimeout, LocalAddr: localAddr}
		raw, err := dialer.Dial(network, addr)
		if err != nil {
			return nil, qerr.NewErrorf(qerr.OpenFailed, "connecting to %s: %s", addr, err)
		}
		conn := tls.Client(raw, conf)
		if err := conn.Handshake(); err != nil {
			raw.Close()
			return nil, qerr.NewErrorf(qerr.OpenFailed, "TLS handshake with %s: %s", addr, err)
		}
		if proto := conn.ConnectionState().NegotiatedProtocol; proto != protocol.ALPNProtocol {
			conn.Close()
			return nil, qerr.NewErrorf(qerr.InvalidProtocol, "server negotiated ALPN protocol %q", proto)
		}
		return conn, nil
	})
	return &tlsStream{op: op}
}

func (s *tlsStream) Handshake() error {
	if s.conn != nil {
		return nil
	}
	conn, done, err := s.op.Poll()
	if !done {
		return qerr.ErrWouldBlock
	}
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *tlsStream) Read(p []byte) (int, error) {
	if s.conn == nil {
		return 0, qerr.NewErrorf(qerr.InvalidParameter, "read before handshake completion")
	}
	s.conn.SetReadDeadline(time.Now())
	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, qerr.ErrWouldBlock
	}
	return 0, err
}

func (s *tlsStream) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, qerr.NewErrorf(qerr.InvalidParameter, "write before handshake completion")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := s.conn.Write(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		err = qerr.ErrWouldBlock
	}
	return n, err
}

func (s *tlsStream) NegotiatedProtocol() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.ConnectionState().NegotiatedProtocol
}

func (s *tlsStream) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	if s.conn == nil {
		return nil, qerr.NewErrorf(qerr.InvalidParameter, "key export before handshake completion")
	}
	state := s.conn.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}

func (s *tlsStream) Shutdown() error {
	if s.conn == nil || s.closed {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.CloseWrite()
}

func (s *tlsStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	// The dial may still be in flight. Release the connection once it
	// completes.
	op := s.op
	go func() {
		if conn, err := op.Wait(); err == nil {
			conn.Close()
		}
	}()
	return nil
}

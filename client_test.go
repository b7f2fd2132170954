package nts

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nts-go/nts-go/internal/handshake"
	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/wire"
	"github.com/nts-go/nts-go/logging"
)

// stubDatagramConn queues incoming datagrams and records sent ones.
// An empty queue behaves like an expired read deadline.
type stubDatagramConn struct {
	incoming   [][]byte
	sent       [][]byte
	closeCalls int
}

var _ datagramConn = &stubDatagramConn{}

func (c *stubDatagramConn) Read(p []byte) (int, error) {
	if len(c.incoming) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	pkt := c.incoming[0]
	c.incoming = c.incoming[1:]
	return copy(p, pkt), nil
}

func (c *stubDatagramConn) Write(p []byte) (int, error) {
	c.sent = append(c.sent, append([]byte(nil), p...))
	return len(p), nil
}

func (c *stubDatagramConn) SetReadDeadline(time.Time) error { return nil }
func (c *stubDatagramConn) Close() error                    { c.closeCalls++; return nil }

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time          { return c.now }
func (c *mockClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newNTPTestClient returns a client parked in StateNTPInit, with established
// keys and a cookie, a stubbed NTP socket and a controllable clock.
func newNTPTestClient(t *testing.T, conn *stubDatagramConn) (*Client, *mockClock) {
	t.Helper()
	c, err := NewClient("ke.example.com:4460", &Config{
		TLSConfig: &tls.Config{},
		Rand:      rand.Reader,
	})
	require.NoError(t, err)
	clock := &mockClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	c.nowFunc = clock.Now
	c.dialDatagram = func(*net.UDPAddr, net.Addr) (datagramConn, error) { return conn, nil }
	c.c2sKey = bytes.Repeat([]byte{0x11}, protocol.KeySize)
	c.s2cKey = bytes.Repeat([]byte{0x22}, protocol.KeySize)
	c.cookie = bytes.Repeat([]byte{0x33}, 100)
	c.ntpAddr = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 123}
	c.state = protocol.StateNTPInit
	return c, clock
}

// buildResponse assembles an authentic server response for the client's
// current unique identifier, protected with its S2C key.
func buildResponse(t *testing.T, c *Client, transmit time.Time, newCookie []byte) []byte {
	t.Helper()
	hdr := &wire.NTPHeader{
		Version:      protocol.VersionNTPv4,
		Mode:         protocol.ModeServer,
		Stratum:      2,
		TransmitTime: wire.ToNTPTime(transmit),
	}
	b := hdr.Append(nil)
	b = wire.AppendExtension(b, protocol.ExtensionTypeUniqueIdentifier, c.uniqueID)
	sealer, err := handshake.NewAEAD(c.s2cKey)
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{0x44}, protocol.NonceSize)
	payload := wire.AppendExtension(nil, protocol.ExtensionTypeCookie, newCookie)
	ciphertext := sealer.Seal(nil, nonce, payload, b)
	return wire.AppendAEADExtension(b, nonce, ciphertext)
}

func TestNewClientAddress(t *testing.T) {
	_, err := NewClient("", nil)
	require.ErrorIs(t, err, &Error{Code: InvalidParameter})

	c, err := NewClient("ke.example.com", nil)
	require.NoError(t, err)
	require.Equal(t, "ke.example.com:4460", c.ntskeAddr)
	require.Equal(t, StateInit, c.State())

	c, err = NewClient("ke.example.com:1234", nil)
	require.NoError(t, err)
	require.Equal(t, "ke.example.com:1234", c.ntskeAddr)
}

func TestNTPExchangeCompletes(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.Equal(t, StateSending, c.State())
	require.NoError(t, c.Step())
	require.Equal(t, StateReceiving, c.State())
	require.Len(t, conn.sent, 1)

	transmit := time.Date(2026, 8, 29, 12, 0, 1, 500000000, time.UTC)
	newCookie := bytes.Repeat([]byte{0x55}, 104)
	conn.incoming = append(conn.incoming, buildResponse(t, c, transmit, newCookie))

	require.NoError(t, c.Step())
	require.Equal(t, StateComplete, c.State())
	got, err := c.Time()
	require.NoError(t, err)
	require.WithinDuration(t, transmit, got, time.Microsecond)
	// the cookie from the response replaces the stored one
	require.Equal(t, newCookie, c.cookie)
	require.Equal(t, 1, conn.closeCalls)

	// further steps are no-ops
	require.NoError(t, c.Step())
	require.Equal(t, StateComplete, c.State())
}

func TestTimeBeforeCompletion(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	_, err := c.Time()
	require.ErrorIs(t, err, &Error{Code: InvalidParameter})
}

func TestRetransmissionBackoff(t *testing.T) {
	conn := &stubDatagramConn{}
	c, clock := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	require.Len(t, conn.sent, 1)
	firstUniqueID := append([]byte(nil), c.uniqueID...)

	// nothing arrives before the first timeout
	require.ErrorIs(t, c.Step(), ErrWouldBlock)
	clock.Advance(2 * time.Second)
	require.NoError(t, c.Step())
	require.Equal(t, StateSending, c.State())
	require.NoError(t, c.Step())
	require.Len(t, conn.sent, 2)
	// a retransmission is a fresh request, not a replay
	require.NotEqual(t, firstUniqueID, c.uniqueID)
	require.NotEqual(t, conn.sent[0], conn.sent[1])

	// the timeout doubled to 4s
	clock.Advance(3 * time.Second)
	require.ErrorIs(t, c.Step(), ErrWouldBlock)
	clock.Advance(time.Second)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	require.Len(t, conn.sent, 3)

	// 8s, then capped at the 15s maximum
	clock.Advance(8 * time.Second)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	require.Len(t, conn.sent, 4)
	require.Equal(t, protocol.DefaultMaxRetransmitTimeout, c.retransmitTimeout)
}

func TestExchangeTimeout(t *testing.T) {
	conn := &stubDatagramConn{}
	c, clock := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())

	clock.Advance(protocol.DefaultTimeout)
	require.ErrorIs(t, c.Step(), ErrTimeout)
	// a fatal error releases the socket and rewinds to the initial state
	require.Equal(t, StateInit, c.State())
	require.Equal(t, 1, conn.closeCalls)
}

func TestKissOfDeath(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())

	kod := (&wire.NTPHeader{
		Version:     protocol.VersionNTPv4,
		Mode:        protocol.ModeServer,
		Stratum:     0,
		ReferenceID: uint32(KissCodeDeny),
	}).Append(nil)
	conn.incoming = append(conn.incoming, kod)

	err := c.Step()
	require.ErrorIs(t, err, &Error{Code: RequestRejected})
	require.Equal(t, KissCodeDeny, c.KissCode())
	require.Equal(t, StateInit, c.State())
}

func TestForgedDatagramsAreDropped(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())

	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	newCookie := bytes.Repeat([]byte{0x55}, 100)
	authentic := buildResponse(t, c, transmit, newCookie)

	// a response with a flipped header bit fails authentication
	forged := append([]byte(nil), authentic...)
	forged[12] ^= 1
	conn.incoming = append(conn.incoming, forged)
	require.NoError(t, c.Step())
	require.Equal(t, StateReceiving, c.State())

	// a response to someone else's request is not ours
	other := append([]byte(nil), authentic...)
	copy(other[protocol.NTPHeaderSize+protocol.ExtensionHeaderSize:], bytes.Repeat([]byte{0xff}, 4))
	conn.incoming = append(conn.incoming, other)
	require.NoError(t, c.Step())
	require.Equal(t, StateReceiving, c.State())

	// the session still accepts the authentic response afterwards
	conn.incoming = append(conn.incoming, authentic)
	require.NoError(t, c.Step())
	require.Equal(t, StateComplete, c.State())
}

func TestRateLimiter(t *testing.T) {
	c, err := NewClient("ke.example.com", &Config{
		TLSConfig:   &tls.Config{},
		Rand:        rand.Reader,
		RateLimiter: rate.NewLimiter(0, 0),
	})
	require.NoError(t, err)
	require.ErrorIs(t, c.Step(), ErrWouldBlock)
	require.Equal(t, StateInit, c.State())

	c, err = NewClient("ke.example.com", &Config{
		TLSConfig:   &tls.Config{},
		Rand:        rand.Reader,
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)
	require.NoError(t, c.Step())
	require.Equal(t, StateKeyExchangeInit, c.State())
}

func TestCloseIdempotent(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())

	var closeCalls int
	c.config.Tracer = &logging.Tracer{Close: func() { closeCalls++ }}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, conn.closeCalls)
	require.Equal(t, 1, closeCalls)
}

func TestTracerEvents(t *testing.T) {
	conn := &stubDatagramConn{}
	c, clock := newNTPTestClient(t, conn)
	var (
		states   []logging.State
		sent     int
		dropped  []logging.PacketDropReason
		retrans  int
		received int
		done     int
	)
	c.config.Tracer = &logging.Tracer{
		StateChanged:          func(s logging.State) { states = append(states, s) },
		SentPacket:            func(int) { sent++ },
		ReceivedPacket:        func(int) { received++ },
		DroppedPacket:         func(_ int, r logging.PacketDropReason) { dropped = append(dropped, r) },
		RetransmissionTimeout: func(time.Duration) { retrans++ },
		Completed:             func(time.Time) { done++ },
	}

	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	clock.Advance(2 * time.Second)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())

	conn.incoming = append(conn.incoming, []byte("not even a header"))
	require.NoError(t, c.Step())
	conn.incoming = append(conn.incoming,
		buildResponse(t, c, time.Date(2026, 8, 29, 12, 0, 3, 0, time.UTC), []byte("next cookie")))
	require.NoError(t, c.Step())

	require.Equal(t, []logging.State{
		logging.StateSending, logging.StateReceiving,
		logging.StateSending, logging.StateReceiving,
		logging.StateComplete,
	}, states)
	require.Equal(t, 2, sent)
	require.Equal(t, 1, retrans)
	require.Equal(t, []logging.PacketDropReason{logging.PacketDropHeaderParseError}, dropped)
	require.Equal(t, 1, received)
	require.Equal(t, 1, done)
}

func TestRunCompletes(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	// a deterministic random source makes the unique identifier, and with
	// it the authentic response, known up front
	c.config.Rand = bytes.NewReader(bytes.Repeat([]byte{0x77}, protocol.UniqueIDSize+protocol.NonceSize))
	c.uniqueID = bytes.Repeat([]byte{0x77}, protocol.UniqueIDSize)
	transmit := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	conn.incoming = append(conn.incoming, buildResponse(t, c, transmit, []byte("next cookie")))

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateComplete, c.State())
	got, err := c.Time()
	require.NoError(t, err)
	require.WithinDuration(t, transmit, got, time.Microsecond)
}

func TestRunCanceled(t *testing.T) {
	conn := &stubDatagramConn{}
	c, _ := newNTPTestClient(t, conn)
	require.NoError(t, c.Step())
	require.NoError(t, c.Step())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Run(ctx), context.Canceled)
	require.Equal(t, 1, conn.closeCalls)
}

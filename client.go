// Package nts implements a client for Network Time Security (RFC 8915):
// key establishment over TLS 1.3 followed by an AEAD-protected NTPv4
// exchange.
//
// The client is poll-driven and single-threaded. Step never blocks: every
// socket and TLS operation either completes, fails, or reports
// ErrWouldBlock, in which case the caller re-invokes Step later. Run is a
// blocking convenience wrapper around that loop. A Client must not be
// shared between goroutines; concurrent sessions each get their own Client.
package nts

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/nts-go/nts-go/internal/handshake"
	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/internal/utils"
)

// pollInterval is the retry interval of the Run loop.
const pollInterval = 10 * time.Millisecond

// A Client performs one authenticated time synchronization: it establishes
// keys and a cookie with the NTS-KE server, then queries the negotiated NTP
// server until an authentic response arrives or the exchange times out.
type Client struct {
	config    *Config
	ntskeAddr string

	state        protocol.State
	stateEntered time.Time
	// exchangeStart is set when the NTP exchange begins; the whole
	// exchange, including retransmissions, must finish within the
	// configured timeout.
	exchangeStart     time.Time
	retransmitStart   time.Time
	retransmitTimeout time.Duration

	kex *handshake.KeyExchange
	// sessionCache persists TLS session tickets across key exchanges, so
	// a restarted session can resume the TLS handshake.
	sessionCache tls.ClientSessionCache

	resolveOp *utils.AsyncOp[*net.UDPAddr]
	conn      datagramConn

	ntpServer string
	ntpPort   uint16
	ntpAddr   *net.UDPAddr

	c2sKey   []byte
	s2cKey   []byte
	cookie   []byte
	uniqueID []byte

	kissCode protocol.KissCode
	result   time.Time

	closed bool

	// overridable in tests
	nowFunc      func() time.Time
	dialDatagram func(raddr *net.UDPAddr, laddr net.Addr) (datagramConn, error)
}

// datagramConn is the connected UDP socket used for the NTP exchange.
type datagramConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

func dialUDP(raddr *net.UDPAddr, laddr net.Addr) (datagramConn, error) {
	var local *net.UDPAddr
	if laddr != nil {
		if ua, ok := laddr.(*net.UDPAddr); ok {
			local = ua
		} else if ip, ok := laddr.(*net.IPAddr); ok {
			local = &net.UDPAddr{IP: ip.IP, Zone: ip.Zone}
		}
	}
	conn, err := net.DialUDP("udp", local, raddr)
	if err != nil {
		return nil, qerr.NewErrorf(qerr.OpenFailed, "opening NTP socket: %s", err)
	}
	return conn, nil
}

// NewClient creates a client for the NTS-KE server at address ("host" or
// "host:port"; the NTS-KE default port 4460 is used if none is given).
// The session starts in StateInit and is driven with Step or Run.
func NewClient(address string, config *Config) (*Client, error) {
	if address == "" {
		return nil, qerr.NewErrorf(qerr.InvalidParameter, "no NTS-KE server address")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(protocol.DefaultKeyExchangePort))
	}
	config = populateConfig(config)
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return &Client{
		config:       config,
		ntskeAddr:    address,
		state:        protocol.StateInit,
		sessionCache: tls.NewLRUClientSessionCache(1),
		nowFunc:      time.Now,
		dialDatagram: dialUDP,
	}, nil
}

// State returns the current session phase.
func (c *Client) State() State { return c.state }

// Time returns the server's transmit timestamp. Only valid once the
// session has reached StateComplete.
func (c *Client) Time() (time.Time, error) {
	if c.state != protocol.StateComplete {
		return time.Time{}, qerr.NewErrorf(qerr.InvalidParameter, "session not complete")
	}
	return c.result, nil
}

// KissCode returns the code of the last Kiss-of-Death response, or zero.
func (c *Client) KissCode() KissCode { return c.kissCode }

// Step drives the session one step forward. It returns nil when progress
// was made (the caller re-invokes it, checking State for completion),
// ErrWouldBlock when the step should be retried later, and a fatal error
// otherwise. A fatal error tears down all resources; the session restarts
// from StateInit on the next Step, benefitting from TLS session resumption.
func (c *Client) Step() error {
	err := c.step()
	if err == nil || errors.Is(err, qerr.ErrWouldBlock) {
		return err
	}
	utils.Errorf("session failed in state %s: %s", c.state, err)
	c.teardown()
	c.setState(protocol.StateInit)
	return err
}

func (c *Client) step() error {
	switch c.state {
	case protocol.StateInit:
		return c.stepInit()
	case protocol.StateKeyExchangeInit:
		return c.stepKeyExchangeInit()
	case protocol.StateKeyExchangeConnecting:
		return c.stepKeyExchangeConnecting()
	case protocol.StateKeyExchangeSending:
		return c.stepKeyExchangeSending()
	case protocol.StateKeyExchangeReceiving:
		return c.stepKeyExchangeReceiving()
	case protocol.StateKeyExchangeDisconnecting:
		return c.stepKeyExchangeDisconnecting()
	case protocol.StateResolving:
		return c.stepResolving()
	case protocol.StateNTPInit:
		return c.stepNTPInit()
	case protocol.StateSending:
		return c.stepSending()
	case protocol.StateReceiving:
		return c.stepReceiving()
	case protocol.StateComplete:
		return nil
	default:
		return qerr.NewErrorf(qerr.InvalidParameter, "invalid state %s", c.state)
	}
}

func (c *Client) stepInit() error {
	if lim := c.config.RateLimiter; lim != nil && !lim.Allow() {
		return qerr.ErrWouldBlock
	}
	c.kissCode = 0
	c.setState(protocol.StateKeyExchangeInit)
	return nil
}

func (c *Client) stepKeyExchangeInit() error {
	if c.config.TLSConfig == nil || c.config.Rand == nil {
		return qerr.NewErrorf(qerr.OpenFailed, "a TLS configuration and a random source are required")
	}
	conf := c.config.TLSConfig.Clone()
	conf.Rand = c.config.Rand
	kex, err := handshake.NewKeyExchange(c.ntskeAddr, c.config.LocalAddr, conf, c.sessionCache)
	if err != nil {
		return err
	}
	c.kex = kex
	c.setState(protocol.StateKeyExchangeConnecting)
	return nil
}

func (c *Client) stepKeyExchangeConnecting() error {
	if err := c.kex.Handshake(); err != nil {
		return c.retryOrFail(err)
	}
	c.setState(protocol.StateKeyExchangeSending)
	return nil
}

func (c *Client) stepKeyExchangeSending() error {
	if err := c.kex.SendRequest(); err != nil {
		return c.retryOrFail(err)
	}
	// The request is out: all state from a previous exchange is stale now.
	c.cookie = nil
	c.c2sKey = nil
	c.s2cKey = nil
	c.setState(protocol.StateKeyExchangeReceiving)
	return nil
}

func (c *Client) stepKeyExchangeReceiving() error {
	if err := c.kex.ReceiveResponse(); err != nil {
		return c.retryOrFail(err)
	}
	res := c.kex.Results()
	c.c2sKey = res.C2SKey
	c.s2cKey = res.S2CKey
	c.cookie = res.Cookie
	c.ntpServer = res.Server
	c.ntpPort = res.Port
	utils.Infof("NTS-KE completed, NTP server %s port %d", c.ntpServer, c.ntpPort)
	if t := c.config.Tracer; t != nil && t.KeyExchangeCompleted != nil {
		t.KeyExchangeCompleted(c.ntpServer, c.ntpPort)
	}
	c.setState(protocol.StateKeyExchangeDisconnecting)
	return nil
}

func (c *Client) stepKeyExchangeDisconnecting() error {
	c.kex.Shutdown()
	c.kex = nil
	c.setState(protocol.StateResolving)
	return nil
}

func (c *Client) stepResolving() error {
	if c.resolveOp == nil {
		addr := net.JoinHostPort(c.ntpServer, strconv.Itoa(int(c.ntpPort)))
		c.resolveOp = utils.RunAsync(func() (*net.UDPAddr, error) {
			ua, err := net.ResolveUDPAddr("udp", addr)
			if err != nil {
				return nil, qerr.NewErrorf(qerr.OpenFailed, "resolving NTP server %s: %s", addr, err)
			}
			return ua, nil
		})
	}
	addr, done, err := c.resolveOp.Poll()
	if !done {
		return c.retryOrFail(qerr.ErrWouldBlock)
	}
	c.resolveOp = nil
	if err != nil {
		return err
	}
	c.ntpAddr = addr
	c.setState(protocol.StateNTPInit)
	return nil
}

func (c *Client) stepNTPInit() error {
	conn, err := c.dialDatagram(c.ntpAddr, c.config.LocalAddr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.retransmitTimeout = c.config.InitialRetransmitTimeout
	c.exchangeStart = c.nowFunc()
	c.setState(protocol.StateSending)
	return nil
}

func (c *Client) stepSending() error {
	req, err := c.packRequest()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(req); err != nil {
		return qerr.NewErrorf(qerr.OpenFailed, "sending NTP request: %s", err)
	}
	utils.Debugf("sent NTP request (%d bytes)", len(req))
	if t := c.config.Tracer; t != nil && t.SentPacket != nil {
		t.SentPacket(len(req))
	}
	c.retransmitStart = c.nowFunc()
	c.setState(protocol.StateReceiving)
	return nil
}

func (c *Client) stepReceiving() error {
	buf := make([]byte, protocol.MaxDatagramSize)
	c.conn.SetReadDeadline(time.Now())
	n, err := c.conn.Read(buf)
	if err != nil {
		if !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, qerr.ErrWouldBlock) {
			return qerr.NewErrorf(qerr.OpenFailed, "receiving NTP response: %s", err)
		}
		return c.checkRetransmit()
	}

	pkt, dropReason, err := c.unpackResponse(buf[:n])
	if err != nil {
		var e *qerr.Error
		if errors.As(err, &e) && e.Code == qerr.RequestRejected {
			if t := c.config.Tracer; t != nil && t.RequestRejected != nil {
				t.RequestRejected(c.kissCode)
			}
			return err
		}
		// The datagram could have come from anyone. Drop it and keep
		// waiting for an authentic response.
		utils.Debugf("dropped NTP datagram (%d bytes): %s", n, err)
		if t := c.config.Tracer; t != nil && t.DroppedPacket != nil {
			t.DroppedPacket(n, dropReason)
		}
		return nil
	}

	c.cookie = pkt.cookie
	c.result = pkt.transmitTime
	if t := c.config.Tracer; t != nil && t.ReceivedPacket != nil {
		t.ReceivedPacket(n)
	}
	if t := c.config.Tracer; t != nil && t.Completed != nil {
		t.Completed(c.result)
	}
	c.conn.Close()
	c.conn = nil
	c.setState(protocol.StateComplete)
	return nil
}

// checkRetransmit handles a would-block outcome while waiting for the NTP
// response: give up once the exchange deadline has passed, retransmit with
// a doubled timeout once the retransmission deadline has passed, and wait
// otherwise.
func (c *Client) checkRetransmit() error {
	now := c.nowFunc()
	if now.Sub(c.exchangeStart) >= c.config.Timeout {
		return qerr.ErrTimeout
	}
	if now.Sub(c.retransmitStart) >= c.retransmitTimeout {
		c.retransmitTimeout *= 2
		if c.retransmitTimeout > c.config.MaxRetransmitTimeout {
			c.retransmitTimeout = c.config.MaxRetransmitTimeout
		}
		utils.Debugf("retransmission timeout, next timeout %s", c.retransmitTimeout)
		if t := c.config.Tracer; t != nil && t.RetransmissionTimeout != nil {
			t.RetransmissionTimeout(c.retransmitTimeout)
		}
		c.setState(protocol.StateSending)
		return nil
	}
	return qerr.ErrWouldBlock
}

// retryOrFail converts a would-block outcome into a hard timeout once the
// phase deadline, measured from state entry, has passed.
func (c *Client) retryOrFail(err error) error {
	if !errors.Is(err, qerr.ErrWouldBlock) {
		return err
	}
	if c.nowFunc().Sub(c.stateEntered) >= c.config.Timeout {
		return qerr.ErrTimeout
	}
	return qerr.ErrWouldBlock
}

func (c *Client) setState(state protocol.State) {
	c.state = state
	c.stateEntered = c.nowFunc()
	utils.Debugf("state changed to %s", state)
	if t := c.config.Tracer; t != nil && t.StateChanged != nil {
		t.StateChanged(state)
	}
}

// teardown releases the TLS context and both sockets. It is idempotent:
// both completion and error paths go through it.
func (c *Client) teardown() {
	if c.kex != nil {
		c.kex.Shutdown()
		c.kex = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.resolveOp = nil
}

// Close tears down the session unconditionally. Safe to call repeatedly
// and in any state.
func (c *Client) Close() error {
	c.teardown()
	if !c.closed {
		c.closed = true
		if t := c.config.Tracer; t != nil && t.Close != nil {
			t.Close()
		}
	}
	return nil
}

// Run drives the session to completion, for callers without their own
// polling loop. It returns once the session is complete, a fatal error
// occurred, or the context was canceled.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		err := c.Step()
		switch {
		case err == nil:
			if c.state == protocol.StateComplete {
				return nil
			}
		case errors.Is(err, qerr.ErrWouldBlock):
			select {
			case <-ctx.Done():
				c.teardown()
				return ctx.Err()
			case <-ticker.C:
			}
		default:
			return err
		}
	}
}

package nts

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
	"github.com/nts-go/nts-go/logging"
)

// A Config configures an NTS client session.
type Config struct {
	// TLSConfig configures certificates and trust for the NTS-KE
	// handshake. It is required: the session errors with OpenFailed
	// without it. The config is cloned; the TLS version is pinned to 1.3
	// and the ALPN protocol list is overridden.
	TLSConfig *tls.Config
	// Rand is the source of unique identifiers and AEAD nonces. It is
	// required; crypto/rand.Reader is the usual choice.
	Rand io.Reader
	// LocalAddr binds the NTS-KE and NTP sockets to a local interface.
	// Optional.
	LocalAddr net.Addr
	// Timeout bounds every key-establishment phase and the whole NTP
	// exchange, including retransmissions. Defaults to 30 seconds.
	Timeout time.Duration
	// InitialRetransmitTimeout is the wait before the first NTP
	// retransmission. It doubles on every unanswered request.
	// Defaults to 2 seconds.
	InitialRetransmitTimeout time.Duration
	// MaxRetransmitTimeout caps the retransmission backoff.
	// Defaults to 15 seconds.
	MaxRetransmitTimeout time.Duration
	// RateLimiter throttles session starts. A client that was told RATE
	// by a server should configure one. Optional.
	RateLimiter *rate.Limiter
	// Tracer records session events. Optional.
	Tracer *logging.Tracer
}

// Clone clones a Config.
func (c *Config) Clone() *Config {
	copy := *c
	return &copy
}

// populateConfig fills in default values. It may be called with nil.
func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	config = config.Clone()
	if config.Timeout == 0 {
		config.Timeout = protocol.DefaultTimeout
	}
	if config.InitialRetransmitTimeout == 0 {
		config.InitialRetransmitTimeout = protocol.DefaultInitialRetransmitTimeout
	}
	if config.MaxRetransmitTimeout == 0 {
		config.MaxRetransmitTimeout = protocol.DefaultMaxRetransmitTimeout
	}
	return config
}

func validateConfig(config *Config) error {
	if config.Timeout < 0 || config.InitialRetransmitTimeout < 0 || config.MaxRetransmitTimeout < 0 {
		return qerr.NewErrorf(qerr.InvalidParameter, "negative timeout")
	}
	if config.InitialRetransmitTimeout > config.MaxRetransmitTimeout {
		return qerr.NewErrorf(qerr.InvalidParameter, "initial retransmit timeout exceeds the maximum")
	}
	return nil
}

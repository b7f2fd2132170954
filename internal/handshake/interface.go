package handshake

// A StreamConn is the TLS-wrapped stream used during key establishment.
// Handshake and Read never block: they return qerr.ErrWouldBlock until the
// underlying operation can make progress. Write blocks at most for a short,
// bounded amount of time and may report partial writes.
type StreamConn interface {
	Handshake() error
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	// NegotiatedProtocol returns the ALPN protocol selected during the
	// handshake. Only valid once Handshake has returned nil.
	NegotiatedProtocol() string
	// ExportKeyingMaterial exports key material from the completed TLS
	// session (RFC 8446, section 7.5).
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)
	// Shutdown sends the TLS close-notify alert.
	Shutdown() error
	// Close releases the connection. It is idempotent.
	Close() error
}

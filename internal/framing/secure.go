package framing

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// SecureTransport wraps an accepted raw connection in a secure channel.
type SecureTransport interface {
	Wrap(c net.Conn) (net.Conn, error)
}

// DefaultHandshakeTimeout bounds the server-side TLS handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// TLSTransport is a SecureTransport performing a server TLS handshake.
type TLSTransport struct {
	Config           *tls.Config
	HandshakeTimeout time.Duration
}

// NewTLSTransport returns a TLSTransport for cfg with the default handshake timeout.
func NewTLSTransport(cfg *tls.Config) *TLSTransport {
	return &TLSTransport{Config: cfg, HandshakeTimeout: DefaultHandshakeTimeout}
}

// Wrap completes the handshake before returning. On failure c is closed.
func (t *TLSTransport) Wrap(c net.Conn) (net.Conn, error) {
	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	tc := tls.Server(c, t.Config)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return nil, &IOError{Op: "accepting secure transport", Err: err}
	}
	return tc, nil
}

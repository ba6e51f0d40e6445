// Package relay implements the control and listener session handlers and
// the accept loops that feed them.
package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"time"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/proto"
	"github.com/matst80/cmdrelay/internal/ratelimit"
	"github.com/matst80/cmdrelay/internal/registry"
	"github.com/matst80/cmdrelay/internal/store"
)

// DefaultKeepaliveInterval is the WebSocket ping period for listeners.
const DefaultKeepaliveInterval = 10 * time.Second

var (
	// ErrWrongPassword: the first line did not match the role's credential.
	ErrWrongPassword = registry.ErrWrongPassword
	// ErrConnectionClosed: the peer closed before sending its credential.
	ErrConnectionClosed = errors.New("connection closed")
)

// Options configures a Server. Zero values give plaintext line framing,
// no authentication timeout and listener input discarded.
type Options struct {
	ListenPassword    string
	ControlOnlyPrefix string // empty selects proto.DefaultControlOnlyPrefix
	// WebSocket serves listeners over WebSocket framing instead of lines.
	WebSocket bool
	// Secure wraps accepted listener connections; nil means plaintext.
	Secure framing.SecureTransport
	// KeepaliveInterval between pings on framings that support them.
	// Zero selects DefaultKeepaliveInterval, negative disables pings.
	KeepaliveInterval time.Duration
	// AuthTimeout bounds the wait for the first line. Zero waits forever.
	AuthTimeout time.Duration
	// RelayListenerInput rebroadcasts ordinary listener text to the other listeners.
	RelayListenerInput bool
	Limiter            *ratelimit.RateLimiter
	Mirror             store.CredentialMirror
}

type Server struct {
	reg    *registry.Registry
	opts   Options
	codec  proto.Codec
	mirror *store.Syncer // nil without a Mirror
}

func NewServer(reg *registry.Registry, opts Options) *Server {
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	s := &Server{reg: reg, opts: opts, codec: proto.NewCodec(opts.ControlOnlyPrefix)}
	if opts.Mirror != nil {
		s.mirror = store.NewSyncer(opts.Mirror)
		s.publish()
	}
	return s
}

func (s *Server) Registry() *registry.Registry { return s.reg }

// readCredential reads the first line of a connection.
func (s *Server) readCredential(conn framing.Conn) (string, error) {
	if s.opts.AuthTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.AuthTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	line, err := conn.ReadLine()
	if errors.Is(err, io.EOF) {
		return "", ErrConnectionClosed
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

func (s *Server) checkListenPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.opts.ListenPassword)) == 1
}

// publish hands the current credential to the mirror without waiting for it.
func (s *Server) publish() {
	if s.mirror == nil {
		return
	}
	s.mirror.Offer(s.reg.ControlCredentialVersion())
}

// WaitMirror blocks until the mirror has caught up with the current credential.
func (s *Server) WaitMirror(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.Wait(ctx)
}

// isAuthError reports whether err ended a connection during authentication.
func isAuthError(err error) bool {
	return errors.Is(err, ErrWrongPassword) || errors.Is(err, ErrConnectionClosed)
}

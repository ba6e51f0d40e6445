// Package framing presents raw TCP streams and WebSocket connections as one
// duplex stream of text lines.
package framing

import (
	"errors"
	"fmt"
	"time"
)

// Conn is a bidirectional stream of text lines. ReadLine returns io.EOF once
// the peer has closed the stream cleanly; every other transport failure is an
// *IOError.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Pinger is implemented by framings that carry transport-level keepalives.
type Pinger interface {
	Ping() error
}

// MaxLineLength bounds a single inbound line or WebSocket message.
const MaxLineLength = 64 * 1024

// ErrLineTooLong is returned (wrapped in an *IOError) when a peer exceeds MaxLineLength.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// IOError is a failure of the underlying transport, kept apart from
// authentication and protocol errors.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("I/O error %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err (or anything it wraps) is an *IOError.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

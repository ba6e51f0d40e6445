package framing

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

type lineConn struct {
	c   net.Conn
	rd  *bufio.Reader
	wmu sync.Mutex
}

// NewLineConn frames c as newline-terminated lines. A trailing carriage
// return is stripped from every inbound line.
func NewLineConn(c net.Conn) Conn {
	return &lineConn{c: c, rd: bufio.NewReaderSize(c, 4096)}
}

func (l *lineConn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, more, err := l.rd.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) == 0 {
				return "", io.EOF
			}
			if errors.Is(err, io.EOF) {
				return string(line), nil
			}
			return "", &IOError{Op: "reading data", Err: err}
		}
		line = append(line, chunk...)
		if len(line) > MaxLineLength {
			return "", &IOError{Op: "reading data", Err: ErrLineTooLong}
		}
		if !more {
			return string(line), nil
		}
	}
}

func (l *lineConn) WriteLine(line string) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := io.WriteString(l.c, line+"\n"); err != nil {
		return &IOError{Op: "writing data", Err: err}
	}
	return nil
}

func (l *lineConn) SetReadDeadline(t time.Time) error { return l.c.SetReadDeadline(t) }
func (l *lineConn) RemoteAddr() string                { return l.c.RemoteAddr().String() }
func (l *lineConn) Close() error                      { return l.c.Close() }

// DialLine connects to addr and frames the connection as lines. A non-nil
// tlsConfig wraps the connection in TLS first.
func DialLine(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &IOError{Op: "connecting", Err: err}
	}
	if tlsConfig != nil {
		tc := tls.Client(c, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = c.Close()
			return nil, &IOError{Op: "establishing secure transport", Err: err}
		}
		c = tc
	}
	return NewLineConn(c), nil
}

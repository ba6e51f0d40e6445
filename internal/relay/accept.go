package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/proto"
)

// AcceptControl accepts control connections on ln until ctx is done. Control
// connections always use line framing over plain TCP.
func (s *Server) AcceptControl(ctx context.Context, ln net.Listener) error {
	return s.acceptLoop(ctx, ln, "control", func(c net.Conn) {
		s.handle(ctx, "control", framing.NewLineConn(c), s.ServeControl)
	})
}

// AcceptListeners accepts listener connections on ln until ctx is done,
// applying the secure transport (if any) and the configured framing.
func (s *Server) AcceptListeners(ctx context.Context, ln net.Listener) error {
	if !s.opts.WebSocket {
		return s.acceptLoop(ctx, ln, "listener", func(c net.Conn) {
			c, err := s.wrap(c)
			if err != nil {
				return
			}
			s.handle(ctx, "listener", framing.NewLineConn(c), s.ServeListener)
		})
	}

	queue := newConnQueue(ln.Addr())
	srv := &http.Server{
		Handler:           s.WebSocketHandler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          obs.StdLog("listener.http"),
	}
	go func() { _ = srv.Serve(queue) }()
	defer srv.Close()

	return s.acceptLoop(ctx, ln, "listener", func(c net.Conn) {
		c, err := s.wrap(c)
		if err != nil {
			return
		}
		if !queue.push(c) {
			_ = c.Close()
		}
	})
}

// WebSocketHandler upgrades requests carrying the relay sub-protocol and
// serves them as listener sessions.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	up := framing.NewUpgrader(proto.SubProtocol)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r)
		if err != nil {
			obs.Info("listener.upgrade.rejected", obs.Fields{"remote": r.RemoteAddr, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("listener_upgrade").Inc()
			return
		}
		s.handle(ctx, "listener", conn, s.ServeListener)
	})
}

func (s *Server) wrap(c net.Conn) (net.Conn, error) {
	if s.opts.Secure == nil {
		return c, nil
	}
	wrapped, err := s.opts.Secure.Wrap(c)
	if err != nil {
		obs.Error("listener.secure", obs.Fields{"remote": c.RemoteAddr().String(), "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("listener_tls").Inc()
		_ = c.Close()
		return nil, err
	}
	return wrapped, nil
}

// handle runs serve and logs how the connection ended. Failures stay
// contained to this connection.
func (s *Server) handle(ctx context.Context, role string, conn framing.Conn, serve func(context.Context, framing.Conn) error) {
	f := obs.Fields{"remote": conn.RemoteAddr(), "conn": uuid.NewString()}
	obs.Info(role+".connected", f)
	err := serve(ctx, conn)
	switch {
	case err == nil:
		obs.Info(role+".closed", f)
	case isAuthError(err):
		f["err"] = err.Error()
		obs.Info(role+".auth.failed", f)
	case ctx.Err() != nil:
		obs.Debug(role+".shutdown", f)
	default:
		f["err"] = err.Error()
		obs.Error(role+".error", f)
		obs.ErrorsTotal.WithLabelValues(role + "_io").Inc()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, role string, handle func(net.Conn)) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if retryableAccept(err) {
				d := b.NextBackOff()
				obs.Error("accept."+role+".retry", obs.Fields{"err": err.Error(), "delay": d.String()})
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return fmt.Errorf("accept %s connection: %w", role, err)
		}
		b.Reset()
		if !s.opts.Limiter.AllowConnection(remoteHost(c.RemoteAddr())) {
			obs.Debug("accept."+role+".rate_limited", obs.Fields{"remote": c.RemoteAddr().String()})
			obs.ErrorsTotal.WithLabelValues(role + "_rate_limited").Inc()
			_ = c.Close()
			continue
		}
		go handle(c)
	}
}

func retryableAccept(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.ECONNABORTED)
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// connQueue is a net.Listener fed by push, letting an http.Server serve
// connections that were accepted and wrapped elsewhere.
type connQueue struct {
	addr  net.Addr
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func newConnQueue(addr net.Addr) *connQueue {
	return &connQueue{addr: addr, conns: make(chan net.Conn), done: make(chan struct{})}
}

func (q *connQueue) push(c net.Conn) bool {
	select {
	case q.conns <- c:
		return true
	case <-q.done:
		return false
	}
}

func (q *connQueue) Accept() (net.Conn, error) {
	select {
	case c := <-q.conns:
		return c, nil
	case <-q.done:
		return nil, net.ErrClosed
	}
}

func (q *connQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *connQueue) Addr() net.Addr { return q.addr }

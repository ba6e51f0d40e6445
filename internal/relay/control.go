package relay

import (
	"context"
	"errors"
	"io"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/proto"
)

// ServeControl runs one control connection to completion. Only one control
// session is current at a time: authorizing rotates the control credential,
// pushes it to every listener and evicts the previous controller. An evicted
// session returns nil.
func (s *Server) ServeControl(ctx context.Context, conn framing.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	remote := conn.RemoteAddr()

	first, err := s.readCredential(conn)
	if err != nil {
		if isAuthError(err) {
			obs.AuthFailuresTotal.WithLabelValues("control").Inc()
		}
		return err
	}
	sess, evicted, next, err := s.reg.AuthorizeControl(first)
	if err != nil {
		if errors.Is(err, ErrWrongPassword) {
			obs.AuthFailuresTotal.WithLabelValues("control").Inc()
		}
		return err
	}
	if evicted != nil && evicted.Fire() {
		obs.ControlTakeoversTotal.Inc()
		obs.Info("control.takeover", obs.Fields{"remote": remote, "evicted_session": evicted.ID(), "session": sess.ID()})
	}
	obs.Debug("control.password.rotated", obs.Fields{"password": next})
	s.publish()

	select {
	case <-sess.Evicted():
		obs.Info("control.evicted", obs.Fields{"remote": remote, "session": sess.ID()})
		return nil
	default:
	}
	if err := conn.WriteLine(proto.Authorized); err != nil {
		s.reg.EndControlSession(sess)
		return err
	}
	obs.Info("control.authorized", obs.Fields{"remote": remote, "session": sess.ID()})

	readDone := make(chan error, 1)
	go func() { readDone <- s.relayControl(conn, remote) }()

	select {
	case <-sess.Evicted():
		_ = conn.Close()
		<-readDone
		obs.Info("control.evicted", obs.Fields{"remote": remote, "session": sess.ID()})
		return nil
	case err := <-readDone:
		s.reg.EndControlSession(sess)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}

// relayControl fans ordinary controller lines out to every listener until
// the connection ends. Reserved and control-only lines stop here.
func (s *Server) relayControl(conn framing.Conn, remote string) error {
	for {
		line, err := conn.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		class := s.codec.Classify(line)
		if class != proto.Ordinary {
			obs.FilteredLinesTotal.WithLabelValues("control", class.String()).Inc()
			obs.Debug("control.line.filtered", obs.Fields{"remote": remote, "class": class.String()})
			continue
		}
		n := s.reg.Broadcast(line, "")
		obs.BroadcastLinesTotal.WithLabelValues("control").Inc()
		obs.Debug("control.line", obs.Fields{"remote": remote, "line": line, "listeners": n})
	}
}

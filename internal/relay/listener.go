package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/proto"
	"github.com/matst80/cmdrelay/internal/registry"
)

// ServeListener runs one listener connection to completion. After the
// static listener credential is accepted the connection is registered and
// receives the current control credential, then everything broadcast until
// either direction fails.
func (s *Server) ServeListener(ctx context.Context, conn framing.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	addr := conn.RemoteAddr()

	first, err := s.readCredential(conn)
	if err != nil {
		if isAuthError(err) {
			obs.AuthFailuresTotal.WithLabelValues("listener").Inc()
		}
		return err
	}
	if !s.checkListenPassword(first) {
		obs.AuthFailuresTotal.WithLabelValues("listener").Inc()
		return ErrWrongPassword
	}

	out := s.reg.RegisterListener(addr)
	start := time.Now()
	obs.Info("listener.authorized", obs.Fields{"remote": addr})

	errs := make(chan error, 2)
	go func() { errs <- s.writeListener(conn, out) }()
	go func() { errs <- s.readListener(conn, addr) }()

	err = <-errs
	s.reg.UnregisterListenerOutbox(addr, out)
	_ = conn.Close()
	<-errs
	obs.ListenerSessionSeconds.Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// writeListener copies the outbox to the connection and, for framings with
// transport pings, keeps the connection alive.
func (s *Server) writeListener(conn framing.Conn, out *registry.Outbox) error {
	var (
		tick   <-chan time.Time
		pinger framing.Pinger
	)
	if p, ok := conn.(framing.Pinger); ok && s.opts.KeepaliveInterval > 0 {
		t := time.NewTicker(s.opts.KeepaliveInterval)
		defer t.Stop()
		tick, pinger = t.C, p
	}
	for {
		select {
		case <-out.Ready():
			for _, line := range out.Drain() {
				if err := conn.WriteLine(line); err != nil {
					return err
				}
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				return err
			}
		case <-out.Done():
			return nil
		}
	}
}

// readListener consumes listener input until the connection ends. Ordinary
// text is rebroadcast to the other listeners only when enabled; reserved and
// control-only lines are never forwarded.
func (s *Server) readListener(conn framing.Conn, addr string) error {
	for {
		line, err := conn.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.opts.RelayListenerInput {
			continue
		}
		class := s.codec.Classify(line)
		if class != proto.Ordinary {
			obs.FilteredLinesTotal.WithLabelValues("listener", class.String()).Inc()
			obs.Debug("listener.line.filtered", obs.Fields{"remote": addr, "class": class.String()})
			continue
		}
		s.reg.Broadcast(line, addr)
		obs.BroadcastLinesTotal.WithLabelValues("listener").Inc()
	}
}

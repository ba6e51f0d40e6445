package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/proto"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// stdout carries relayed lines; logs go to stderr.
	obs.SetOutput(os.Stderr)
	obs.EnableDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		obs.Error("client.fatal", obs.Fields{"err": err.Error(), "mode": cfg.Mode})
		_ = obs.Sync()
		os.Exit(1)
	}
	_ = obs.Sync()
}

func dial(ctx context.Context, cfg Config) (framing.Conn, error) {
	if cfg.WebSocket {
		u, err := cfg.wsURL()
		if err != nil {
			return nil, err
		}
		return framing.DialWebSocket(ctx, u, cfg.SubProtocol, cfg.tlsConfig())
	}
	return framing.DialLine(ctx, cfg.Addr, cfg.tlsConfig())
}

func run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()
	defer conn.Close()

	obs.Info("client.connected", obs.Fields{"addr": cfg.Addr, "mode": cfg.Mode})
	if err := conn.WriteLine(cfg.Password); err != nil {
		return err
	}
	if cfg.Mode == modeControl {
		return runControl(ctx, conn, in)
	}
	return runListen(ctx, conn, out)
}

// runControl waits for the ack, then forwards input lines until input ends or the relay hangs up.
func runControl(ctx context.Context, conn framing.Conn, in io.Reader) error {
	ack, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("relay refused the control password: %w", err)
	}
	if ack != proto.Authorized {
		return fmt.Errorf("unexpected reply %q", ack)
	}
	obs.Info("client.authorized", obs.Fields{})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, err := conn.ReadLine(); err != nil {
				return
			}
		}
	}()

	lines := make(chan string)
	inErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 4096), framing.MaxLineLength)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-closed:
				return
			}
		}
		inErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			obs.Info("client.disconnected", obs.Fields{"reason": "relay closed the control session"})
			return nil
		case err := <-inErr:
			return err
		case line := <-lines:
			if err := conn.WriteLine(line); err != nil {
				return err
			}
		}
	}
}

// runListen prints every relayed line.
func runListen(ctx context.Context, conn framing.Conn, out io.Writer) error {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				obs.Info("client.disconnected", obs.Fields{})
				return nil
			}
			return err
		}
		if cred, ok := proto.ParseControlCredential(line); ok {
			obs.Debug("client.control_password", obs.Fields{"password": cred})
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/matst80/cmdrelay/internal/credential"
	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/ratelimit"
	"github.com/matst80/cmdrelay/internal/registry"
	"github.com/matst80/cmdrelay/internal/relay"
	"github.com/matst80/cmdrelay/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		obs.Error("server.fatal", obs.Fields{"err": err.Error()})
		_ = obs.Sync()
		os.Exit(1)
	}
	_ = obs.Sync()
}

func run(args []string) error {
	fl, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(fl.configPath)
	if err != nil {
		return fmt.Errorf("error reading the config: %w", err)
	}
	fl.apply(&cfg)
	if cfg.Debug {
		obs.EnableDebug(true)
	}

	var secure framing.SecureTransport
	if cfg.ListenTLS {
		tlsConfig, err := loadTLSConfig(cfg)
		if err != nil {
			return fmt.Errorf("could not set up secure transport: %w", err)
		}
		secure = framing.NewTLSTransport(tlsConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, err := store.New(ctx, store.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisKey:      cfg.RedisKey,
	})
	if err != nil {
		return fmt.Errorf("could not set up the credential mirror: %w", err)
	}
	defer mirror.Close()

	controlLn, err := bindSocket(cfg.ControlPort)
	if err != nil {
		return fmt.Errorf("could not bind the control socket: %w", err)
	}
	defer controlLn.Close()
	listenLn, err := bindSocket(cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("could not bind the listen socket: %w", err)
	}
	defer listenLn.Close()

	initial, err := credential.Generate()
	if err != nil {
		return fmt.Errorf("could not generate the control password: %w", err)
	}
	obs.Info("control.password", obs.Fields{"password": initial})
	reg := registry.New(initial)

	var limiter *ratelimit.RateLimiter
	if cfg.AcceptRate > 0 || cfg.AcceptHostRate > 0 {
		limiter = ratelimit.NewRateLimiter(cfg.AcceptRate, cfg.AcceptHostRate, cfg.AcceptBurst)
		go runCleanupLoop(ctx, limiter, time.Minute, 10*time.Minute)
	}

	srv := relay.NewServer(reg, relay.Options{
		ListenPassword:     cfg.ListenPassword,
		ControlOnlyPrefix:  cfg.ControlOnlyPrefix,
		WebSocket:          cfg.WebSocket(),
		Secure:             secure,
		KeepaliveInterval:  cfg.KeepaliveInterval,
		AuthTimeout:        cfg.AuthTimeout,
		RelayListenerInput: cfg.RelayListenerInput,
		Limiter:            limiter,
		Mirror:             mirror,
	})

	rd := &readiness{}
	if cfg.MetricsAddr != "" {
		go startMetricsServer(ctx, cfg.MetricsAddr, reg, rd)
	}

	obs.Info("server.start", obs.Fields{
		"control":   controlLn.Addr().String(),
		"listen":    listenLn.Addr().String(),
		"tls":       cfg.ListenTLS,
		"websocket": cfg.WebSocket(),
		"metrics":   cfg.MetricsAddr,
	})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errs <- srv.AcceptControl(ctx, controlLn) }()
	go func() { defer wg.Done(); errs <- srv.AcceptListeners(ctx, listenLn) }()
	rd.ready.Store(true)
	obs.Info("server.ready", obs.Fields{})

	var runErr error
	select {
	case <-ctx.Done():
		obs.Info("server.shutdown.signal", obs.Fields{})
	case err := <-errs:
		if err != nil {
			runErr = fmt.Errorf("error running the relay: %w", err)
		}
	}
	rd.closing.Store(true)
	stop()
	wg.Wait()
	mctx, cancel := context.WithTimeout(context.Background(), store.PublishTimeout)
	if err := srv.WaitMirror(mctx); err != nil {
		obs.Error("mirror.flush", obs.Fields{"err": err.Error()})
	}
	cancel()
	obs.Info("server.shutdown.complete", obs.Fields{})
	return runErr
}

func bindSocket(port uint16) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("could not bind a socket to port %d: %w", port, err)
	}
	return ln, nil
}

func runCleanupLoop(ctx context.Context, limiter *ratelimit.RateLimiter, interval, maxIdle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := limiter.Cleanup(maxIdle); n > 0 {
				obs.Debug("ratelimit.cleanup", obs.Fields{"removed": n})
			}
		}
	}
}

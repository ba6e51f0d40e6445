package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/pflag"

	"github.com/matst80/cmdrelay/internal/proto"
)

const (
	modeControl = "control"
	modeListen  = "listen"
)

// Config holds client runtime configuration.
type Config struct {
	Mode        string
	Addr        string
	Password    string
	WebSocket   bool
	TLS         bool
	Insecure    bool
	SubProtocol string
	Debug       bool
}

func parseConfig(args []string) (Config, error) {
	var cfg Config
	fs := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	fs.StringVarP(&cfg.Mode, "mode", "m", modeListen, "role to connect as: control or listen")
	fs.StringVarP(&cfg.Addr, "addr", "a", "127.0.0.1:9001", "relay address (host:port, or a ws:// / wss:// URL with --websocket)")
	fs.StringVarP(&cfg.Password, "password", "p", "", "control or listen password")
	fs.BoolVar(&cfg.WebSocket, "websocket", false, "use WebSocket framing")
	fs.BoolVar(&cfg.TLS, "tls", false, "connect over TLS")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "skip TLS certificate verification")
	fs.StringVar(&cfg.SubProtocol, "subprotocol", proto.SubProtocol, "WebSocket sub-protocol to request")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Mode != modeControl && c.Mode != modeListen {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Password == "" {
		return errors.New("--password is required")
	}
	if c.Addr == "" {
		return errors.New("--addr is required")
	}
	return nil
}

func (c Config) tlsConfig() *tls.Config {
	if !c.TLS {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.Insecure} //nolint:gosec // opt-in via --insecure
}

// wsURL turns Addr into a WebSocket URL, keeping an explicit ws:// or wss:// scheme.
func (c Config) wsURL() (string, error) {
	if u, err := url.Parse(c.Addr); err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return c.Addr, nil
	}
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Addr, Path: "/"}
	if u.Host == "" {
		return "", fmt.Errorf("invalid address %q", c.Addr)
	}
	return u.String(), nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/matst80/cmdrelay/internal/proto"
	"github.com/matst80/cmdrelay/internal/relay"
)

// Config is the relay configuration file.
type Config struct {
	ListenPassword string `yaml:"listen_password"`
	ListenPort     uint16 `yaml:"listen_port"`
	ControlPort    uint16 `yaml:"control_port"`

	ListenTLS bool `yaml:"listen_tls"`
	// ListenWebSocket defaults to ListenTLS when unset.
	ListenWebSocket  *bool  `yaml:"listen_websocket"`
	IdentityFile     string `yaml:"identity_file"` // PKCS#12
	IdentityPassword string `yaml:"identity_password"`
	TLSCertFile      string `yaml:"tls_cert_file"` // PEM alternative to IdentityFile
	TLSKeyFile       string `yaml:"tls_key_file"`

	ControlOnlyPrefix  string        `yaml:"control_only_prefix"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	AuthTimeout        time.Duration `yaml:"auth_timeout"`
	RelayListenerInput bool          `yaml:"relay_listener_input"`

	AcceptRate     int `yaml:"accept_rate"`      // global connections/s, 0 = unlimited
	AcceptHostRate int `yaml:"accept_host_rate"` // per remote host connections/s, 0 = unlimited
	AcceptBurst    int `yaml:"accept_burst"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`

	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

func defaultConfig() Config {
	return Config{
		ListenPort:        9001,
		ControlPort:       9000,
		ControlOnlyPrefix: proto.DefaultControlOnlyPrefix,
		KeepaliveInterval: relay.DefaultKeepaliveInterval,
		AcceptBurst:       10,
		MetricsAddr:       ":9100",
	}
}

// WebSocket reports whether listeners use WebSocket framing.
func (c Config) WebSocket() bool {
	if c.ListenWebSocket != nil {
		return *c.ListenWebSocket
	}
	return c.ListenTLS
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenPassword == "" {
		errs = append(errs, errors.New("listen_password must be set"))
	}
	if c.ListenPort == 0 || c.ControlPort == 0 {
		errs = append(errs, errors.New("listen_port and control_port must be set"))
	} else if c.ListenPort == c.ControlPort {
		errs = append(errs, fmt.Errorf("listen_port and control_port are both %d", c.ListenPort))
	}
	if c.ListenTLS && c.IdentityFile == "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		errs = append(errs, errors.New("listen_tls requires identity_file or tls_cert_file and tls_key_file"))
	}
	if c.AcceptRate < 0 || c.AcceptHostRate < 0 || c.AcceptBurst < 0 {
		errs = append(errs, errors.New("accept rates must not be negative"))
	}
	return errors.Join(errs...)
}

// loadConfig reads and validates the YAML file at path on top of the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

type flags struct {
	configPath  string
	debug       bool
	metricsAddr string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("cmdrelay", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logs (overrides the config file)")
	fs.StringVar(&f.metricsAddr, "metrics", "", "metrics and health listen address (overrides the config file, \"off\" disables)")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

// apply merges command-line overrides into cfg.
func (f flags) apply(cfg *Config) {
	if f.debug {
		cfg.Debug = true
	}
	switch f.metricsAddr {
	case "":
	case "off":
		cfg.MetricsAddr = ""
	default:
		cfg.MetricsAddr = f.metricsAddr
	}
}

package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/cmdrelay/internal/framing"
	"github.com/matst80/cmdrelay/internal/proto"
	"github.com/matst80/cmdrelay/internal/registry"
	"github.com/matst80/cmdrelay/internal/relay"
)

const (
	controlSecret = "ctrlpassword0000"
	listenSecret  = "listen"
)

func startRelay(t *testing.T) (reg *registry.Registry, controlAddr, listenAddr string) {
	t.Helper()
	reg = registry.New(controlSecret)
	srv := relay.NewServer(reg, relay.Options{ListenPassword: listenSecret})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cl, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.AcceptControl(ctx, cl) }()
	go func() { _ = srv.AcceptListeners(ctx, ll) }()
	return reg, cl.Addr().String(), ll.Addr().String()
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"--mode", "control", "-p", "x", "--addr", "relay:9000"})
	require.NoError(t, err)
	assert.Equal(t, modeControl, cfg.Mode)
	assert.Equal(t, "relay:9000", cfg.Addr)
	assert.Nil(t, cfg.tlsConfig())

	_, err = parseConfig([]string{"--mode", "spy", "-p", "x"})
	assert.Error(t, err)
	_, err = parseConfig([]string{"--mode", "listen"})
	assert.Error(t, err)
}

func TestWebSocketURL(t *testing.T) {
	u, err := Config{Addr: "relay:9001"}.wsURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://relay:9001/", u)

	u, err = Config{Addr: "relay:9001", TLS: true}.wsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay:9001/", u)

	u, err = Config{Addr: "wss://relay.example/feed"}.wsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/feed", u)
}

func TestControlForwardsInput(t *testing.T) {
	_, controlAddr, listenAddr := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l, err := framing.DialLine(ctx, listenAddr, nil)
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.WriteLine(listenSecret))
	require.NoError(t, l.SetReadDeadline(time.Now().Add(5*time.Second)))
	first, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, proto.EncodeControlCredential(controlSecret), first)

	cfg := Config{Mode: modeControl, Addr: controlAddr, Password: controlSecret}
	require.NoError(t, run(ctx, cfg, strings.NewReader("hello\nhost skip\n"), io.Discard))

	rotated, err := l.ReadLine()
	require.NoError(t, err)
	assert.True(t, proto.IsReserved(rotated))
	line, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
}

func TestControlWrongPassword(t *testing.T) {
	_, controlAddr, _ := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := run(ctx, Config{Mode: modeControl, Addr: controlAddr, Password: "nope"}, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestListenPrintsLines(t *testing.T) {
	reg, _, listenAddr := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- run(ctx, Config{Mode: modeListen, Addr: listenAddr, Password: listenSecret}, nil, pw) }()

	sc := bufio.NewScanner(pr)
	require.True(t, sc.Scan())
	assert.Equal(t, proto.EncodeControlCredential(controlSecret), sc.Text())

	reg.Broadcast("ls -la", "")
	require.True(t, sc.Scan())
	assert.Equal(t, "ls -la", sc.Text())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen mode did not stop")
	}
}

package framing

import (
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConnReadsLines(t *testing.T) {
	server, client := net.Pipe()
	conn := NewLineConn(server)
	go func() {
		_, _ = io.WriteString(client, "first\r\nsecond\n\nlast")
		_ = client.Close()
	}()

	for _, want := range []string{"first", "second", "", "last"} {
		got, err := conn.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := conn.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, IsIOError(err))
}

func TestLineConnWriteLine(t *testing.T) {
	server, client := net.Pipe()
	conn := NewLineConn(server)
	peer := NewLineConn(client)
	go func() { _ = conn.WriteLine("authorized") }()

	got, err := peer.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "authorized", got)
}

func TestLineConnTooLong(t *testing.T) {
	server, client := net.Pipe()
	conn := NewLineConn(server)
	go func() {
		_, _ = io.WriteString(client, strings.Repeat("x", MaxLineLength+10)+"\n")
		_ = client.Close()
	}()

	_, err := conn.ReadLine()
	require.Error(t, err)
	assert.True(t, IsIOError(err))
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestLineConnWriteAfterCloseIsIOError(t *testing.T) {
	server, client := net.Pipe()
	_ = client.Close()
	err := NewLineConn(server).WriteLine("x")
	require.Error(t, err)
	assert.True(t, IsIOError(err))
	assert.Contains(t, err.Error(), "I/O error writing data")
}

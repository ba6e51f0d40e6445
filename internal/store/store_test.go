package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutRedisIsMemory(t *testing.T) {
	m, err := New(context.Background(), Config{})
	require.NoError(t, err)
	_, ok := m.(*MemoryMirror)
	assert.True(t, ok)
	require.NoError(t, m.Close())
}

func TestMemoryMirrorKeepsLast(t *testing.T) {
	m := NewMemoryMirror()
	require.NoError(t, m.Publish(context.Background(), "one"))
	require.NoError(t, m.Publish(context.Background(), "two"))
	last, n := m.Last()
	assert.Equal(t, "two", last)
	assert.Equal(t, 2, n)
}

func TestRedisMirrorUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRedisMirror(ctx, Config{RedisAddr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection failed")
}

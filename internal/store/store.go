// Package store mirrors the rotating control credential to somewhere an
// operator or an external tool can read it.
package store

import (
	"context"
	"sync"

	"github.com/matst80/cmdrelay/internal/obs"
)

// CredentialMirror receives control credentials as the relay installs them.
// Under rapid rotation intermediate values may be skipped, never reordered.
type CredentialMirror interface {
	Publish(ctx context.Context, credential string) error
	Close() error
}

// Config selects a mirror backend. An empty RedisAddr selects the in-memory mirror.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// New creates either an in-memory or Redis-backed mirror based on cfg.
func New(ctx context.Context, cfg Config) (CredentialMirror, error) {
	if cfg.RedisAddr == "" {
		obs.Info("mirror.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryMirror(), nil
	}
	obs.Info("mirror.backend", obs.Fields{"type": "redis", "addr": cfg.RedisAddr, "key": cfg.RedisKey})
	return NewRedisMirror(ctx, cfg)
}

// MemoryMirror remembers the last published credential.
type MemoryMirror struct {
	mu        sync.Mutex
	last      string
	published int
}

func NewMemoryMirror() *MemoryMirror { return &MemoryMirror{} }

var _ CredentialMirror = (*MemoryMirror)(nil)

func (m *MemoryMirror) Publish(_ context.Context, credential string) error {
	m.mu.Lock()
	m.last = credential
	m.published++
	m.mu.Unlock()
	return nil
}

// Last returns the most recent credential and how many have been published.
func (m *MemoryMirror) Last() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.published
}

func (m *MemoryMirror) Close() error { return nil }

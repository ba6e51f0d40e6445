package store

import (
	"context"
	"sync"
	"time"

	"github.com/matst80/cmdrelay/internal/obs"
)

// PublishTimeout bounds a single mirror write.
const PublishTimeout = 2 * time.Second

// Syncer feeds a mirror from at most one goroutine at a time. Each credential
// carries the registry's rotation number; offers older than the newest one
// are dropped, so the mirror only ever moves forward.
type Syncer struct {
	mirror CredentialMirror

	mu        sync.Mutex
	latest    string
	version   int64
	published int64
	running   bool
	idle      chan struct{}
}

func NewSyncer(m CredentialMirror) *Syncer {
	return &Syncer{mirror: m, version: -1, published: -1}
}

// Offer queues credential for publication unless a newer version was
// already offered. It never blocks on the mirror.
func (s *Syncer) Offer(credential string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.version {
		return
	}
	s.latest, s.version = credential, version
	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.drain()
	}
}

// Wait blocks until every offered credential has been handed to the mirror
// or ctx is done.
func (s *Syncer) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle, running := s.idle, s.running
	s.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) drain() {
	for {
		s.mu.Lock()
		if s.version <= s.published {
			s.running = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		credential, version := s.latest, s.version
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		if err := s.mirror.Publish(ctx, credential); err != nil {
			obs.Error("mirror.publish", obs.Fields{"err": err.Error(), "version": version})
			obs.ErrorsTotal.WithLabelValues("mirror_publish").Inc()
		}
		cancel()

		// A failed write is not retried; the next rotation publishes again.
		s.mu.Lock()
		s.published = version
		s.mu.Unlock()
	}
}

// Package registry holds the relay's process-wide state: the control
// credential, the current control session handle and the listener table.
// Every operation is serialized by one mutex and none of them block on I/O.
package registry

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/matst80/cmdrelay/internal/credential"
	"github.com/matst80/cmdrelay/internal/obs"
	"github.com/matst80/cmdrelay/internal/proto"
)

// ErrWrongPassword is returned when a controller presents a stale or wrong credential.
var ErrWrongPassword = errors.New("wrong password")

// Stats is a point-in-time view of the registry.
type Stats struct {
	Listeners     int
	ControlActive bool
	Rotations     int64
	Broadcasts    int64
}

// Registry holds the relay's shared state behind a single lock.
type Registry struct {
	mu              sync.Mutex
	controlPassword string
	current         *ControlSession
	listeners       map[string]*Outbox // remote address -> outbound queue
	nextSession     uint64
	rotations       int64
	broadcasts      int64
	generate        func() (string, error)
}

// Option customizes a Registry created by New.
type Option func(*Registry)

// WithGenerator replaces the credential generator.
func WithGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.generate = gen }
}

// New returns a registry whose first control credential is initial.
func New(initial string, opts ...Option) *Registry {
	r := &Registry{
		controlPassword: initial,
		listeners:       make(map[string]*Outbox),
		generate:        credential.Generate,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CurrentControlCredential returns the credential the next controller must present.
func (r *Registry) CurrentControlCredential() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlPassword
}

// ControlCredentialVersion returns the current credential together with the
// number of rotations that produced it. The version only grows.
func (r *Registry) ControlCredentialVersion() (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlPassword, r.rotations
}

// RotateControlCredential installs a fresh credential and pushes it to every listener.
func (r *Registry) RotateControlCredential() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked()
}

func (r *Registry) rotateLocked() (string, error) {
	next, err := r.generate()
	for err == nil && next == r.controlPassword {
		next, err = r.generate()
	}
	if err != nil {
		return "", fmt.Errorf("generate control password: %w", err)
	}
	r.controlPassword = next
	r.rotations++
	obs.CredentialRotations.Inc()
	r.broadcastLocked(proto.EncodeControlCredential(next), "")
	return next, nil
}

// TakeoverControlSession installs a fresh handle and returns it together with
// the handle it replaced, if any. The caller fires the evicted handle.
func (r *Registry) TakeoverControlSession() (current, evicted *ControlSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.takeoverLocked()
}

func (r *Registry) takeoverLocked() (*ControlSession, *ControlSession) {
	r.nextSession++
	evicted := r.current
	r.current = newControlSession(r.nextSession)
	obs.ControlActive.Set(1)
	return r.current, evicted
}

// AuthorizeControl checks candidate against the current credential and, on a
// match, rotates the credential and takes over the control session in one
// step, so that of two controllers racing with the same credential only one
// gets in.
func (r *Registry) AuthorizeControl(candidate string) (current, evicted *ControlSession, next string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(r.controlPassword)) != 1 {
		return nil, nil, "", ErrWrongPassword
	}
	next, err = r.rotateLocked()
	if err != nil {
		return nil, nil, "", err
	}
	current, evicted = r.takeoverLocked()
	return current, evicted, next, nil
}

// EndControlSession clears the current handle if it is s. Ending a session
// that has already been replaced is a no-op.
func (r *Registry) EndControlSession(s *ControlSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil || r.current != s {
		return false
	}
	r.current = nil
	s.consume()
	obs.ControlActive.Set(0)
	return true
}

// RegisterListener creates the outbox for addr. The current control
// credential is queued before anything else can reach it. An existing entry
// for addr is closed and replaced.
func (r *Registry) RegisterListener(addr string) *Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.listeners[addr]; ok {
		old.Close()
	}
	o := newOutbox()
	o.Push(proto.EncodeControlCredential(r.controlPassword))
	r.listeners[addr] = o
	obs.ListenersActive.Set(float64(len(r.listeners)))
	return o
}

// UnregisterListener removes addr. Missing entries are ignored.
func (r *Registry) UnregisterListener(addr string) bool {
	return r.unregister(addr, nil)
}

// UnregisterListenerOutbox removes addr only while it still maps to o.
func (r *Registry) UnregisterListenerOutbox(addr string, o *Outbox) bool {
	return r.unregister(addr, o)
}

func (r *Registry) unregister(addr string, want *Outbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.listeners[addr]
	if !ok || (want != nil && o != want) {
		return false
	}
	delete(r.listeners, addr)
	o.Close()
	obs.ListenersActive.Set(float64(len(r.listeners)))
	return true
}

// Broadcast queues line on every listener outbox except exclude's (empty
// means none) and returns how many accepted it. Closed outboxes are skipped;
// their listeners remove themselves.
func (r *Registry) Broadcast(line, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts++
	return r.broadcastLocked(line, exclude)
}

func (r *Registry) broadcastLocked(line, exclude string) int {
	n := 0
	for addr, o := range r.listeners {
		if exclude != "" && addr == exclude {
			continue
		}
		if o.Push(line) {
			n++
		}
	}
	return n
}

// Snapshot returns the current counters.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Listeners:     len(r.listeners),
		ControlActive: r.current != nil,
		Rotations:     r.rotations,
		Broadcasts:    r.broadcasts,
	}
}

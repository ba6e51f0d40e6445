package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(values ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(values) {
			return fmt.Sprintf("generated-%04d", i), nil
		}
		v := values[i]
		i++
		return v, nil
	}
}

func TestRegisterListenerQueuesCurrentCredentialFirst(t *testing.T) {
	r := New("initial")
	o := r.RegisterListener("10.0.0.1:5000")
	r.Broadcast("hello", "")

	assert.Equal(t, []string{"control_password initial", "hello"}, o.Drain())
	assert.Equal(t, 1, r.Snapshot().Listeners)
}

func TestRotatePushesNewCredential(t *testing.T) {
	r := New("initial", WithGenerator(sequence("second")))
	o := r.RegisterListener("a")
	o.Drain()

	next, err := r.RotateControlCredential()
	require.NoError(t, err)
	assert.Equal(t, "second", next)
	assert.Equal(t, "second", r.CurrentControlCredential())
	assert.Equal(t, []string{"control_password second"}, o.Drain())
}

func TestRotateNeverReusesCurrent(t *testing.T) {
	r := New("same", WithGenerator(sequence("same", "same", "fresh")))
	next, err := r.RotateControlCredential()
	require.NoError(t, err)
	assert.Equal(t, "fresh", next)
}

func TestRotateGeneratorFailure(t *testing.T) {
	boom := errors.New("boom")
	r := New("initial", WithGenerator(func() (string, error) { return "", boom }))
	_, err := r.RotateControlCredential()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "initial", r.CurrentControlCredential())
}

func TestAuthorizeControlWrongPassword(t *testing.T) {
	r := New("initial")
	_, _, _, err := r.AuthorizeControl("nope")
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, _, _, err = r.AuthorizeControl("initia")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Equal(t, "initial", r.CurrentControlCredential())
	assert.False(t, r.Snapshot().ControlActive)
}

func TestAuthorizeControlTakeover(t *testing.T) {
	r := New("p0", WithGenerator(sequence("p1", "p2")))

	first, evicted, next, err := r.AuthorizeControl("p0")
	require.NoError(t, err)
	assert.Nil(t, evicted)
	assert.Equal(t, "p1", next)

	_, _, _, err = r.AuthorizeControl("p0")
	assert.ErrorIs(t, err, ErrWrongPassword, "old credential must not be accepted twice")

	second, evicted, next, err := r.AuthorizeControl("p1")
	require.NoError(t, err)
	assert.Same(t, first, evicted)
	assert.Equal(t, "p2", next)
	assert.NotEqual(t, first.ID(), second.ID())

	require.True(t, evicted.Fire())
	assert.False(t, evicted.Fire(), "firing twice is a no-op")
	assert.Equal(t, Fired, first.State())
	select {
	case <-first.Evicted():
	default:
		t.Fatal("evicted channel not closed")
	}

	// The evicted session ending itself must not clear the newer one.
	assert.False(t, r.EndControlSession(first))
	assert.True(t, r.Snapshot().ControlActive)

	assert.True(t, r.EndControlSession(second))
	assert.Equal(t, Consumed, second.State())
	assert.False(t, second.Fire())
	assert.False(t, r.EndControlSession(second))
	assert.False(t, r.Snapshot().ControlActive)
}

func TestConcurrentAuthorizeOnlyOneWins(t *testing.T) {
	r := New("shared")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, _, err := r.AuthorizeControl("shared"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTakeoverControlSession(t *testing.T) {
	r := New("x")
	a, prev := r.TakeoverControlSession()
	assert.Nil(t, prev)
	b, prev := r.TakeoverControlSession()
	assert.Same(t, a, prev)
	assert.Equal(t, Armed, b.State())
	assert.Equal(t, "armed", b.State().String())
}

func TestBroadcastExclude(t *testing.T) {
	r := New("c")
	a := r.RegisterListener("a")
	b := r.RegisterListener("b")
	a.Drain()
	b.Drain()

	n := r.Broadcast("from-a", "a")
	assert.Equal(t, 1, n)
	assert.Empty(t, a.Drain())
	assert.Equal(t, []string{"from-a"}, b.Drain())
}

func TestBroadcastDoesNotReachLaterListeners(t *testing.T) {
	r := New("c")
	r.Broadcast("early", "")
	o := r.RegisterListener("late")
	assert.Equal(t, []string{"control_password c"}, o.Drain())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New("c")
	o := r.RegisterListener("a")
	assert.True(t, r.UnregisterListener("a"))
	assert.False(t, r.UnregisterListener("a"))
	assert.False(t, r.UnregisterListener("never"))
	assert.False(t, o.Push("after"))
	assert.Equal(t, 0, r.Broadcast("nobody", ""))
}

func TestReRegisterReplacesAndStaleUnregisterIsIgnored(t *testing.T) {
	r := New("c")
	old := r.RegisterListener("a")
	fresh := r.RegisterListener("a")

	select {
	case <-old.Done():
	default:
		t.Fatal("old outbox should be closed")
	}
	assert.False(t, r.UnregisterListenerOutbox("a", old))
	assert.Equal(t, 1, r.Snapshot().Listeners)
	assert.True(t, r.UnregisterListenerOutbox("a", fresh))
	assert.Equal(t, 0, r.Snapshot().Listeners)
}

func TestBroadcastFIFOPerListener(t *testing.T) {
	r := New("c")
	o := r.RegisterListener("a")
	o.Drain()
	for i := 0; i < 100; i++ {
		r.Broadcast(fmt.Sprint(i), "")
	}
	got := o.Drain()
	require.Len(t, got, 100)
	for i, line := range got {
		assert.Equal(t, fmt.Sprint(i), line)
	}
	assert.Equal(t, int64(100), r.Snapshot().Broadcasts)
}

func TestRotationsAreNotCountedAsBroadcasts(t *testing.T) {
	r := New("initial", WithGenerator(sequence("second", "third")))
	r.RegisterListener("a")

	_, err := r.RotateControlCredential()
	require.NoError(t, err)
	_, _, _, err = r.AuthorizeControl("second")
	require.NoError(t, err)
	r.Broadcast("ls", "")

	s := r.Snapshot()
	assert.Equal(t, int64(2), s.Rotations)
	assert.Equal(t, int64(1), s.Broadcasts)
}

func TestControlCredentialVersionFollowsRotations(t *testing.T) {
	r := New("initial", WithGenerator(sequence("second")))
	cred, v := r.ControlCredentialVersion()
	assert.Equal(t, "initial", cred)
	assert.Equal(t, int64(0), v)

	_, err := r.RotateControlCredential()
	require.NoError(t, err)
	cred, v = r.ControlCredentialVersion()
	assert.Equal(t, "second", cred)
	assert.Equal(t, int64(1), v)
}

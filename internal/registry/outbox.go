package registry

import "sync"

// Outbox is the unbounded FIFO through which the registry reaches one
// listener connection. Push never blocks; a single writer drains it.
type Outbox struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

// Push appends line. It reports false once the outbox is closed.
func (o *Outbox) Push(line string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, line)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns everything queued, oldest first.
func (o *Outbox) Drain() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}

// Ready is signalled after a Push; the receiver should Drain.
func (o *Outbox) Ready() <-chan struct{} { return o.ready }

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Close stops accepting lines. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

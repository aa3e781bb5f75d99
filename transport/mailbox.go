package transport

import "sync"

// A Mailbox holds at most one item. Putting an item replaces any item not yet taken, so a
// consumer always sees the most recent one.
type Mailbox[T any] struct {
	mu    sync.Mutex
	item  T
	full  bool
	ready chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores item and reports whether it replaced an item that was never taken.
func (m *Mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	replaced := m.full
	m.item = item
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return replaced
}

// Take removes and returns the held item. ok is false when the mailbox is empty.
func (m *Mailbox[T]) Take() (item T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return item, false
	}
	item = m.item
	var zero T
	m.item = zero
	m.full = false
	return item, true
}

// Ready receives a value after a Put. A receive does not guarantee the mailbox is still full
// since a Take may have happened in between.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

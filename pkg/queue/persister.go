package queue

import (
	"sync"
)

// Persister mirrors a FIFO queue to durable storage so that queued items
// survive a restart.
//
// The PathHandler calls AddToTail before an item becomes visible to the
// worker and RemoveFromHead after the worker is done with it, so a crash in
// between re-delivers the item.
type Persister[T any] interface {
	// AddToTail appends item
	AddToTail(item T) error

	// RemoveFromHead drops the oldest item, which must be item
	RemoveFromHead(item T) error

	// Items returns the persisted items, head first
	Items() []T

	// Persist compacts the storage to exactly the current items
	Persist() error

	// Check verifies the storage is usable
	Check() error

	// Sync flushes pending writes
	Sync() error

	// Close releases the storage
	Close() error
}

// MemoryPersister keeps items in memory only. For tests and for queues that
// need no durability.
type MemoryPersister[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
}

// NewMemoryPersister returns an empty MemoryPersister, optionally seeded.
func NewMemoryPersister[T any](seed ...T) *MemoryPersister[T] {
	return &MemoryPersister[T]{items: append([]T(nil), seed...)}
}

func (p *MemoryPersister[T]) AddToTail(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPersisterClosed
	}
	p.items = append(p.items, item)
	return nil
}

func (p *MemoryPersister[T]) RemoveFromHead(T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPersisterClosed
	}
	if len(p.items) > 0 {
		p.items = p.items[1:]
	}
	return nil
}

func (p *MemoryPersister[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.items...)
}

func (p *MemoryPersister[T]) Persist() error { return nil }

func (p *MemoryPersister[T]) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPersisterClosed
	}
	return nil
}

func (p *MemoryPersister[T]) Sync() error { return nil }

func (p *MemoryPersister[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

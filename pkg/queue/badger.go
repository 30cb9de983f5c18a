package queue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerPersister stores a queue in BadgerDB. Several queues can share one
// database; each uses its own key space:
//
//	q:<name>:<seq>   item (JSON), seq is a big-endian uint64
//	qseq:<name>      next sequence number
//
// Big-endian sequence keys iterate in insertion order.
//
// Thread safety: safe for concurrent use.
type BadgerPersister[T any] struct {
	db     *badger.DB
	name   string
	ownsDB bool

	mu    sync.Mutex
	items []T
	keys  [][]byte
}

// OpenBadgerPersister opens (or creates) a database at dir and loads queue
// name from it. The database is closed by Close.
func OpenBadgerPersister[T any](dir, name string) (*BadgerPersister[T], error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}
	p, err := NewBadgerPersister[T](db, name)
	if err != nil {
		db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// NewBadgerPersister loads queue name from an open database. Close leaves
// the database open.
func NewBadgerPersister[T any](db *badger.DB, name string) (*BadgerPersister[T], error) {
	p := &BadgerPersister[T]{db: db, name: name}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BadgerPersister[T]) itemPrefix() []byte {
	return []byte("q:" + p.name + ":")
}

func (p *BadgerPersister[T]) seqKey() []byte {
	return []byte("qseq:" + p.name)
}

func (p *BadgerPersister[T]) itemKey(seq uint64) []byte {
	prefix := p.itemPrefix()
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func (p *BadgerPersister[T]) load() error {
	var (
		items []T
		keys  [][]byte
	)
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p.itemPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var v T
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("failed to decode queue item %x: %w", item.Key(), err)
			}
			items = append(items, v)
			keys = append(keys, item.KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load queue %s: %w", p.name, err)
	}

	p.mu.Lock()
	p.items, p.keys = items, keys
	p.mu.Unlock()
	return nil
}

func (p *BadgerPersister[T]) AddToTail(item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var key []byte
	err = p.db.Update(func(txn *badger.Txn) error {
		var seq uint64
		it, err := txn.Get(p.seqKey())
		switch {
		case err == nil:
			if err := it.Value(func(val []byte) error {
				if len(val) != 8 {
					return errors.New("corrupt sequence value")
				}
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		key = p.itemKey(seq)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], seq+1)
		return txn.Set(p.seqKey(), next[:])
	})
	if err != nil {
		return fmt.Errorf("failed to add to queue %s: %w", p.name, err)
	}

	p.items = append(p.items, item)
	p.keys = append(p.keys, key)
	return nil
}

func (p *BadgerPersister[T]) RemoveFromHead(T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return nil
	}
	head := p.keys[0]
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(head)
	}); err != nil {
		return fmt.Errorf("failed to remove from queue %s: %w", p.name, err)
	}
	p.items = p.items[1:]
	p.keys = p.keys[1:]
	return nil
}

func (p *BadgerPersister[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.items...)
}

// Persist runs a value log garbage collection pass. Badger compacts its LSM
// tree on its own.
func (p *BadgerPersister[T]) Persist() error {
	err := p.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return fmt.Errorf("failed to compact queue %s: %w", p.name, err)
	}
	return nil
}

func (p *BadgerPersister[T]) Check() error {
	if p.db.IsClosed() {
		return fmt.Errorf("queue %s: database is closed", p.name)
	}
	return nil
}

func (p *BadgerPersister[T]) Sync() error {
	return p.db.Sync()
}

func (p *BadgerPersister[T]) Close() error {
	if !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

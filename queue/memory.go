package queue

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// MemoryBroker keeps queues in process memory.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string][]Entry
	// notify is closed and replaced on every push
	notify chan struct{}
	closed bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string][]Entry),
		notify: make(chan struct{}),
	}
}

func (b *MemoryBroker) signal() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Push implements Broker.
func (b *MemoryBroker) Push(_ context.Context, queue, value string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", errors.ErrShuttingDown
	}
	key := newEntryKey()
	b.queues[queue] = append(b.queues[queue], Entry{Key: key, Value: value})
	b.signal()
	return key, nil
}

// PopBlocking implements Broker.
func (b *MemoryBroker) PopBlocking(ctx context.Context, from, to string, timeout time.Duration) (*Entry, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, errors.ErrShuttingDown
		}
		if q := b.queues[from]; len(q) > 0 {
			e := q[0]
			b.queues[from] = q[1:]
			if to != "" {
				b.queues[to] = append(b.queues[to], e)
			}
			b.mu.Unlock()
			return &e, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
		}
	}
}

// Update implements Broker.
func (b *MemoryBroker) Update(_ context.Context, queue, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.queues[queue] {
		if e.Key == key {
			b.queues[queue][i].Value = value
			return nil
		}
	}
	return ErrEntryNotFound
}

// UpdateAt implements Broker.
func (b *MemoryBroker) UpdateAt(_ context.Context, queue string, i int, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	idx, ok := index(len(q), i)
	if !ok {
		return ErrEntryNotFound
	}
	q[idx].Value = value
	return nil
}

// Remove implements Broker.
func (b *MemoryBroker) Remove(_ context.Context, queue, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	for i, e := range q {
		if e.Key == key {
			b.queues[queue] = append(q[:i:i], q[i+1:]...)
			return nil
		}
	}
	return ErrEntryNotFound
}

// Delete implements Broker.
func (b *MemoryBroker) Delete(_ context.Context, queue string, i int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	idx, ok := index(len(q), i)
	if !ok {
		return ErrEntryNotFound
	}
	b.queues[queue] = append(q[:idx:idx], q[idx+1:]...)
	return nil
}

// Keys implements Broker.
func (b *MemoryBroker) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name, q := range b.queues {
		if len(q) == 0 {
			continue
		}
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, errors.WrapInvalid(err, "MemoryBroker", "Keys", "match pattern")
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Range implements Broker.
func (b *MemoryBroker) Range(_ context.Context, queue string, i, j int) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	lo, hi, ok := span(len(q), i, j)
	if !ok {
		return nil, nil
	}
	return append([]Entry(nil), q[lo:hi]...), nil
}

// Len implements Broker.
func (b *MemoryBroker) Len(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue]), nil
}

// Close wakes blocked poppers and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.signal()
	}
	return nil
}

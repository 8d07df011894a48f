package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// ErrEntryNotFound is returned when an index or key names no entry.
var ErrEntryNotFound = errors.New("queue entry not found")

// Entry is one element of a queue. Key is stable for the entry's lifetime
// and survives moves between queues.
type Entry struct {
	Key   string
	Value string
}

// Broker provides list semantics over named queues. Implementations are
// safe for concurrent use and linearize operations on a queue.
type Broker interface {
	// Push appends value to queue and returns the new entry's key.
	Push(ctx context.Context, queue, value string) (string, error)
	// PopBlocking removes the head of from and appends it to to, waiting up
	// to timeout for an entry. It returns nil, nil on timeout. An empty to
	// discards the entry.
	PopBlocking(ctx context.Context, from, to string, timeout time.Duration) (*Entry, error)
	// Update replaces the value of the entry with key.
	Update(ctx context.Context, queue, key, value string) error
	// UpdateAt replaces the value at index; negative indexes count from
	// the tail.
	UpdateAt(ctx context.Context, queue string, index int, value string) error
	// Remove deletes the entry with key.
	Remove(ctx context.Context, queue, key string) error
	// Delete removes the entry at index.
	Delete(ctx context.Context, queue string, index int) error
	// Keys lists the non-empty queues whose names match a path.Match
	// pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Range returns entries i through j inclusive; negative indexes count
	// from the tail.
	Range(ctx context.Context, queue string, i, j int) ([]Entry, error)
	// Len returns the number of entries in queue.
	Len(ctx context.Context, queue string) (int, error)
	Close() error
}

// newEntryKey orders lexically by creation time.
func newEntryKey() string {
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// span resolves inclusive, possibly negative, bounds against n elements.
func span(n, i, j int) (int, int, bool) {
	if i < 0 {
		i += n
	}
	if j < 0 {
		j += n
	}
	if i < 0 {
		i = 0
	}
	if j >= n {
		j = n - 1
	}
	if n == 0 || i > j || i >= n {
		return 0, 0, false
	}
	return i, j + 1, true
}

func index(n, i int) (int, bool) {
	if i < 0 {
		i += n
	}
	return i, i >= 0 && i < n
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/natsclient"
)

// NATSBroker keeps queues in a JetStream key/value bucket. Entry keys are
// "<queue>.<entry key>"; entry keys sort by creation time, so the sorted
// keys of a queue are its FIFO order. A pop copies the head to the target
// queue with Create and then deletes the source conditionally on its
// revision, so concurrent poppers never both win the same entry.
//
// Every move and removal leaves a delete marker behind. Markers older than
// the marker age are purged at most once per marker age.
type NATSBroker struct {
	kv        *natsclient.KVStore
	logger    *slog.Logger
	markerAge time.Duration
	purge     *rate.Limiter
}

// NewNATSBroker wraps a KV store. A zero markerAge never purges markers.
func NewNATSBroker(kv *natsclient.KVStore, markerAge time.Duration, logger *slog.Logger) *NATSBroker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &NATSBroker{kv: kv, logger: logger.With("component", "nats-broker"), markerAge: markerAge}
	if markerAge > 0 {
		b.purge = rate.NewLimiter(rate.Every(markerAge), 1)
		// the first purge waits a full period
		b.purge.Allow()
	}
	return b
}

// OpenNATSBroker creates or opens the job bucket on a connected client.
func OpenNATSBroker(ctx context.Context, client *natsclient.Client, bucket string, timeout, markerAge time.Duration, logger *slog.Logger) (*NATSBroker, error) {
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "dasflex work queues",
		History:     1,
	})
	if err != nil {
		return nil, classify(err, "Open", "create bucket")
	}
	return NewNATSBroker(natsclient.NewKVStore(kv, timeout), markerAge, logger), nil
}

// classify tags connection failures with the broker sentinels. A closed
// connection never comes back and is fatal; the rest are transient.
func classify(err error, method, action string) error {
	var sentinel error
	switch {
	case errors.Is(err, nats.ErrConnectionClosed):
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err), "NATSBroker", method, action)
	case errors.Is(err, natsclient.ErrNotConnected),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrConnectionDraining):
		sentinel = errors.ErrNoConnection
	case errors.Is(err, natsclient.ErrCircuitOpen),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrNoResponders):
		sentinel = errors.ErrBrokerUnavailable
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		sentinel = errors.ErrConnectionTimeout
	}
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return errors.WrapTransient(err, "NATSBroker", method, action)
}

// compact purges old delete markers when the purge period has passed.
// Failures only cost listing time and are logged.
func (b *NATSBroker) compact(ctx context.Context) {
	if b.purge == nil || !b.purge.Allow() {
		return
	}
	if err := b.kv.PurgeDeletes(ctx, b.markerAge); err != nil {
		b.logger.Warn("Purging delete markers failed", "error", err)
		return
	}
	b.logger.Debug("Purged delete markers", "older_than", b.markerAge)
}

func subject(queue, key string) string {
	return queue + "." + key
}

// queueKeys returns the entry keys of queue in FIFO order.
func (b *NATSBroker) queueKeys(ctx context.Context, queue string) ([]string, error) {
	all, err := b.kv.Keys(ctx)
	if err != nil {
		return nil, classify(err, "queueKeys", "list keys")
	}
	prefix := queue + "."
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Push implements Broker.
func (b *NATSBroker) Push(ctx context.Context, queue, value string) (string, error) {
	key := newEntryKey()
	if _, err := b.kv.Create(ctx, subject(queue, key), []byte(value)); err != nil {
		return "", classify(err, "Push", "kv create")
	}
	return key, nil
}

// PopBlocking implements Broker.
func (b *NATSBroker) PopBlocking(ctx context.Context, from, to string, timeout time.Duration) (*Entry, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Watch before the first scan so a push between scan and wait is seen.
	watcher, err := b.kv.Watch(waitCtx, from+".>")
	if err != nil {
		return nil, classify(err, "PopBlocking", "watch queue")
	}
	defer func() { _ = watcher.Stop() }()

	for {
		e, err := b.tryPop(ctx, from, to)
		if err != nil || e != nil {
			return e, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil
		case _, ok := <-watcher.Updates():
			if !ok {
				return nil, nil
			}
		}
	}
}

func (b *NATSBroker) tryPop(ctx context.Context, from, to string) (*Entry, error) {
	keys, err := b.queueKeys(ctx, from)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		src, err := b.kv.Get(ctx, subject(from, key))
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, classify(err, "PopBlocking", "kv get")
		}

		if to != "" {
			if _, err := b.kv.Create(ctx, subject(to, key), src.Value); err != nil {
				if natsclient.IsKVConflictError(err) {
					continue
				}
				return nil, classify(err, "PopBlocking", "kv create")
			}
		}

		if err := b.kv.Delete(ctx, subject(from, key), src.Revision); err != nil {
			if to != "" {
				if rmErr := b.kv.Delete(ctx, subject(to, key), 0); rmErr != nil {
					b.logger.Warn("Failed to undo pop copy", "queue", to, "key", key, "error", rmErr)
				}
			}
			if natsclient.IsKVConflictError(err) || natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, classify(err, "PopBlocking", "kv delete")
		}
		b.compact(ctx)
		return &Entry{Key: key, Value: string(src.Value)}, nil
	}
	return nil, nil
}

// Update implements Broker.
func (b *NATSBroker) Update(ctx context.Context, queue, key, value string) error {
	cur, err := b.kv.Get(ctx, subject(queue, key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return ErrEntryNotFound
		}
		return classify(err, "Update", "kv get")
	}
	if _, err := b.kv.Update(ctx, subject(queue, key), []byte(value), cur.Revision); err != nil {
		return classify(err, "Update", "kv update")
	}
	return nil
}

// UpdateAt implements Broker.
func (b *NATSBroker) UpdateAt(ctx context.Context, queue string, i int, value string) error {
	key, err := b.keyAt(ctx, queue, i)
	if err != nil {
		return err
	}
	return b.Update(ctx, queue, key, value)
}

// Remove implements Broker.
func (b *NATSBroker) Remove(ctx context.Context, queue, key string) error {
	if err := b.kv.Delete(ctx, subject(queue, key), 0); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return ErrEntryNotFound
		}
		return classify(err, "Remove", "kv delete")
	}
	b.compact(ctx)
	return nil
}

// Delete implements Broker.
func (b *NATSBroker) Delete(ctx context.Context, queue string, i int) error {
	key, err := b.keyAt(ctx, queue, i)
	if err != nil {
		return err
	}
	return b.Remove(ctx, queue, key)
}

func (b *NATSBroker) keyAt(ctx context.Context, queue string, i int) (string, error) {
	keys, err := b.queueKeys(ctx, queue)
	if err != nil {
		return "", err
	}
	idx, ok := index(len(keys), i)
	if !ok {
		return "", ErrEntryNotFound
	}
	return keys[idx], nil
}

// Keys implements Broker.
func (b *NATSBroker) Keys(ctx context.Context, pattern string) ([]string, error) {
	all, err := b.kv.Keys(ctx)
	if err != nil {
		return nil, classify(err, "Keys", "list keys")
	}
	seen := make(map[string]bool)
	var names []string
	for _, k := range all {
		name, _, ok := strings.Cut(k, ".")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		match, err := path.Match(pattern, name)
		if err != nil {
			return nil, errors.WrapInvalid(err, "NATSBroker", "Keys", "match pattern")
		}
		if match {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Range implements Broker.
func (b *NATSBroker) Range(ctx context.Context, queue string, i, j int) ([]Entry, error) {
	keys, err := b.queueKeys(ctx, queue)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := span(len(keys), i, j)
	if !ok {
		return nil, nil
	}
	out := make([]Entry, 0, hi-lo)
	for _, key := range keys[lo:hi] {
		e, err := b.kv.Get(ctx, subject(queue, key))
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, classify(err, "Range", "kv get")
		}
		out = append(out, Entry{Key: key, Value: string(e.Value)})
	}
	return out, nil
}

// Len implements Broker.
func (b *NATSBroker) Len(ctx context.Context, queue string) (int, error) {
	keys, err := b.queueKeys(ctx, queue)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close implements Broker. The NATS connection belongs to the caller.
func (b *NATSBroker) Close() error {
	return nil
}

//go:build integration

package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/natsclient"
)

func newNATSBroker(t *testing.T) *NATSBroker {
	t.Helper()
	tc := natsclient.NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := OpenNATSBroker(ctx, tc.Client, "DASFLEX_TEST_JOBS", 5*time.Second, 0, nil)
	require.NoError(t, err)
	return b
}

func TestNATSBroker_QueueSemantics(t *testing.T) {
	ctx := context.Background()
	b := newNATSBroker(t)

	for _, v := range []string{"a", "b", "c"} {
		_, err := b.Push(ctx, "pending", v)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	e, err := b.PopBlocking(ctx, "pending", "in_progress", time.Second)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "a", e.Value)

	rest, err := b.Range(ctx, "pending", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, values(rest))

	require.NoError(t, b.Update(ctx, "in_progress", e.Key, "a-running"))
	moved, err := b.Range(ctx, "in_progress", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-running"}, values(moved))

	require.NoError(t, b.UpdateAt(ctx, "pending", -1, "c2"))
	require.NoError(t, b.Delete(ctx, "pending", 0))
	rest, err = b.Range(ctx, "pending", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, values(rest))

	keys, err := b.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"in_progress", "pending"}, keys)
}

func TestNATSBroker_BlockingPop(t *testing.T) {
	ctx := context.Background()
	b := newNATSBroker(t)

	e, err := b.PopBlocking(ctx, "pending", "", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, e)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = b.Push(ctx, "pending", "late")
	}()
	e, err = b.PopBlocking(ctx, "pending", "", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "late", e.Value)
}

func TestNATSBroker_ConcurrentPopDeliversOnce(t *testing.T) {
	ctx := context.Background()
	b := newNATSBroker(t)
	const items, workers = 30, 4

	for i := 0; i < items; i++ {
		_, err := b.Push(ctx, "pending", fmt.Sprint(i))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := b.PopBlocking(ctx, "pending", "in_progress", 500*time.Millisecond)
				if err != nil || e == nil {
					return
				}
				mu.Lock()
				seen[e.Value]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, items)
	for v, n := range seen {
		assert.Equal(t, 1, n, v)
	}
}

func TestNATSBroker_ClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newNATSBroker(t), WithRetention(5))

	pushed, err := c.Enqueue(ctx, cacheJob(t, "cassini/survey"))
	require.NoError(t, err)
	assert.True(t, pushed)
	pushed, err = c.Enqueue(ctx, cacheJob(t, "cassini/survey"))
	require.NoError(t, err)
	assert.False(t, pushed)

	r, err := c.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NoError(t, r.Begin(ctx))
	require.NoError(t, r.End(ctx, 0, StatusComplete))

	done, err := c.Completed(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, StatusComplete, done[0].Status)
}

func TestNATSBroker_PurgesDeleteMarkers(t *testing.T) {
	ctx := context.Background()
	tc := natsclient.NewTestClient(t)
	b, err := OpenNATSBroker(ctx, tc.Client, "DASFLEX_TEST_MARKERS", 5*time.Second, 20*time.Millisecond, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := b.Push(ctx, "pending", fmt.Sprint(i))
		require.NoError(t, err)
		e, err := b.PopBlocking(ctx, "pending", "", time.Second)
		require.NoError(t, err)
		require.NotNil(t, e)
	}

	time.Sleep(50 * time.Millisecond)
	_, err = b.Push(ctx, "pending", "last")
	require.NoError(t, err)
	_, err = b.PopBlocking(ctx, "pending", "", time.Second)
	require.NoError(t, err)

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	kv, err := js.KeyValue(ctx, "DASFLEX_TEST_MARKERS")
	require.NoError(t, err)
	status, err := kv.Status(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, status.Values(), uint64(1), "only the newest marker survives")
}

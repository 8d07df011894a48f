package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/das-developers/das2py-server-sub000/errors"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config describes a backoff schedule.
type Config struct {
	MaxAttempts  int           // 0 or less runs once
	InitialDelay time.Duration // first wait
	MaxDelay     time.Duration // cap on any wait
	Multiplier   float64       // growth per attempt
	Jitter       bool          // add up to 25% random delay
}

// Startup retries broker connection at process start for about a minute.
func Startup() Config {
	return Config{
		MaxAttempts:  12,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Loop paces a polling loop; attempts are unbounded.
func Loop() Config {
	return Config{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (c Config) normalized() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	return c
}

// Backoff yields growing delays.
type Backoff struct {
	cfg  Config
	next time.Duration
}

// NewBackoff starts a delay sequence.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.normalized()
	return &Backoff{cfg: cfg, next: cfg.InitialDelay}
}

// Next returns the next delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.cfg.Multiplier)
	if grown > b.cfg.MaxDelay || grown <= 0 {
		grown = b.cfg.MaxDelay
	}
	b.next = grown
	if b.cfg.Jitter && d >= 4 {
		randMu.Lock()
		d += time.Duration(randSource.Int63n(int64(d / 4)))
		randMu.Unlock()
	}
	return d
}

// Reset returns the sequence to its initial delay.
func (b *Backoff) Reset() {
	b.next = b.cfg.InitialDelay
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// attempts run out or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := NewBackoff(cfg)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if werr := b.Wait(ctx); werr != nil {
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}

// DoWithResult is Do for operations returning a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/pkg/retry"
	"github.com/das-developers/das2py-server-sub000/queue"
)

// exitInterrupted is the shell status of a process killed by SIGTERM.
const exitInterrupted = 128 + 15

// Handler runs one job category. It returns the exit code to record; a
// non-nil error marks the job failed, or not implemented for Todo errors.
type Handler interface {
	Handle(ctx context.Context, job *queue.Running) (int, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Running) (int, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *queue.Running) (int, error) {
	return f(ctx, job)
}

// Stats are the runtime's counters.
type Stats struct {
	Popped      int64 `json:"popped"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Interrupted int64 `json:"interrupted"`
}

// Runtime is the worker loop.
type Runtime struct {
	client      *queue.Client
	concurrency int
	popTimeout  time.Duration
	backoff     retry.Config
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[queue.Category]Handler
	running  atomic.Bool

	popped      int64
	completed   int64
	failed      int64
	interrupted int64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConcurrency sets the number of jobs run at once.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.concurrency = n
		}
	}
}

// WithPopTimeout sets how long each pop waits for work.
func WithPopTimeout(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.popTimeout = d
		}
	}
}

// WithBackoff sets the delay schedule after broker errors.
func WithBackoff(cfg retry.Config) Option {
	return func(rt *Runtime) {
		rt.backoff = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// NewRuntime creates a Runtime reading from client.
func NewRuntime(client *queue.Client, opts ...Option) *Runtime {
	rt := &Runtime{
		client:      client,
		concurrency: 1,
		popTimeout:  5 * time.Second,
		backoff:     retry.Loop(),
		logger:      slog.Default(),
		handlers:    make(map[queue.Category]Handler),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With("component", "worker")
	return rt
}

// Register installs the handler for a category, replacing any previous one.
func (rt *Runtime) Register(cat queue.Category, h Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[cat] = h
}

func (rt *Runtime) handler(cat queue.Category) (Handler, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	h, ok := rt.handlers[cat]
	return h, ok
}

// Stats returns a snapshot of the counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Popped:      atomic.LoadInt64(&rt.popped),
		Completed:   atomic.LoadInt64(&rt.completed),
		Failed:      atomic.LoadInt64(&rt.failed),
		Interrupted: atomic.LoadInt64(&rt.interrupted),
	}
}

// Run processes jobs until ctx is cancelled or the broker shuts down.
// Each loop finishes and finalizes its current job before returning.
func (rt *Runtime) Run(ctx context.Context) error {
	if !rt.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	defer rt.running.Store(false)

	rt.logger.Info("Worker started", "concurrency", rt.concurrency, "queue", rt.client.Queues().Pending)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < rt.concurrency; i++ {
		slot := i
		g.Go(func() error {
			return rt.loop(gctx, slot)
		})
	}
	err := g.Wait()
	rt.logger.Info("Worker stopped", "stats", rt.Stats())
	return err
}

func (rt *Runtime) loop(ctx context.Context, slot int) error {
	backoff := retry.NewBackoff(rt.backoff)
	for ctx.Err() == nil {
		_, err := rt.RunOnce(ctx)
		switch {
		case err == nil:
			backoff.Reset()
		case errors.Is(err, errors.ErrShuttingDown):
			return nil
		case errors.IsInvalid(err):
			// malformed record, already dropped
			continue
		case ctx.Err() != nil:
			return nil
		case errors.IsFatal(err):
			rt.logger.Error("Broker lost, stopping", "slot", slot, "error", err)
			return err
		default:
			rt.logger.Warn("Broker error, backing off", "slot", slot, "error", err)
			if werr := backoff.Wait(ctx); werr != nil {
				return nil
			}
		}
	}
	return nil
}

// RunOnce pops at most one job and runs it to completion. It reports
// whether a job was run.
func (rt *Runtime) RunOnce(ctx context.Context) (bool, error) {
	r, err := rt.client.Pop(ctx, rt.popTimeout)
	if err != nil || r == nil {
		return false, err
	}
	atomic.AddInt64(&rt.popped, 1)
	return true, rt.dispatch(ctx, r)
}

func (rt *Runtime) dispatch(ctx context.Context, r *queue.Running) error {
	job := r.Job
	log := rt.logger.With("job", job.String(), "category", job.Category)

	// finalization must reach the broker even after cancellation
	final := context.WithoutCancel(ctx)

	h, ok := rt.handler(job.Category)
	if !ok {
		log.Warn("No handler for job category")
		atomic.AddInt64(&rt.failed, 1)
		return r.End(final, 1, queue.StatusNotImplemented)
	}
	if err := r.Begin(ctx); err != nil {
		log.Warn("Could not mark job started", "error", err)
	}

	start := time.Now()
	code, herr := h.Handle(ctx, r)
	status := queue.StatusComplete
	switch {
	case ctx.Err() != nil:
		status = queue.StatusInterrupted
		if code == 0 {
			code = exitInterrupted
		}
		atomic.AddInt64(&rt.interrupted, 1)
	case herr != nil && errors.KindOf(herr) == errors.KindTodo:
		status = queue.StatusNotImplemented
		if code == 0 {
			code = 1
		}
		atomic.AddInt64(&rt.failed, 1)
	case herr != nil || code != 0:
		status = queue.StatusFailed
		if code == 0 {
			code = 1
		}
		atomic.AddInt64(&rt.failed, 1)
	default:
		atomic.AddInt64(&rt.completed, 1)
	}

	attrs := []any{"status", status, "exit_code", code, "duration", time.Since(start)}
	if herr != nil {
		attrs = append(attrs, "error", herr)
	}
	if status == queue.StatusComplete {
		log.Info("Job finished", attrs...)
	} else {
		log.Warn("Job finished", attrs...)
	}
	return r.End(final, code, status)
}

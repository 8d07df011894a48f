package queue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/metric"
)

// Queues names the three lists a Client works with.
type Queues struct {
	Pending    string
	InProgress string
	Completed  string
}

// DefaultQueues are the queue names used when none are configured.
var DefaultQueues = Queues{Pending: "pending", InProgress: "in_progress", Completed: "completed"}

// Client submits and tracks jobs on a Broker.
type Client struct {
	broker       Broker
	queues       Queues
	retention    int
	coalesceScan int
	requester    Requester
	metrics      *metric.Metrics
	logger       *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithQueues sets the queue names.
func WithQueues(q Queues) ClientOption {
	return func(c *Client) {
		c.queues = q
	}
}

// WithRetention keeps the last n finished jobs on the completed queue.
// Zero discards finished jobs.
func WithRetention(n int) ClientOption {
	return func(c *Client) {
		c.retention = n
	}
}

// WithCoalesceScan bounds how many pending entries are scanned for an
// equivalent job before a push.
func WithCoalesceScan(n int) ClientOption {
	return func(c *Client) {
		c.coalesceScan = n
	}
}

// WithRequester sets the identity recorded on submitted jobs.
func WithRequester(r Requester) ClientOption {
	return func(c *Client) {
		c.requester = r
	}
}

// WithMetrics records queue activity.
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// LocalRequester describes the current process.
func LocalRequester() Requester {
	host, _ := os.Hostname()
	return Requester{Host: host, PID: os.Getpid(), Script: filepath.Base(os.Args[0])}
}

// NewClient creates a client over broker.
func NewClient(broker Broker, opts ...ClientOption) *Client {
	c := &Client{
		broker:       broker,
		queues:       DefaultQueues,
		retention:    1000,
		coalesceScan: 64,
		requester:    LocalRequester(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "queue")
	return c
}

// Broker returns the underlying broker.
func (c *Client) Broker() Broker {
	return c.broker
}

// Queues returns the configured queue names.
func (c *Client) Queues() Queues {
	return c.queues
}

// Requester returns the identity stamped on new jobs, with per-request
// fields filled in.
func (c *Client) Requester(remoteAddr, user string) Requester {
	r := c.requester
	r.RemoteAddr = remoteAddr
	r.User = user
	return r
}

// Enqueue pushes job unless an equivalent job is already pending near the
// head of the queue or in progress. It reports whether a push happened.
func (c *Client) Enqueue(ctx context.Context, job *Job) (bool, error) {
	dup, err := c.hasEquivalent(ctx, job)
	if err != nil {
		c.metrics.RecordBrokerError("scan")
		return false, errors.WithKind(errors.KindServer, err, "scanning work queue")
	}
	if dup {
		c.metrics.RecordCoalesced()
		c.logger.Debug("Job coalesced", "job", job.String())
		return false, nil
	}

	if _, err := c.broker.Push(ctx, c.queues.Pending, job.Encode()); err != nil {
		c.metrics.RecordBrokerError("push")
		return false, errors.WithKind(errors.KindServer, err, "pushing %s", job)
	}
	c.metrics.RecordEnqueue(string(job.Category))
	c.logger.Info("Job enqueued", "job", job.String())
	return true, nil
}

func (c *Client) hasEquivalent(ctx context.Context, job *Job) (bool, error) {
	if c.coalesceScan <= 0 {
		return false, nil
	}
	pending, err := c.broker.Range(ctx, c.queues.Pending, 0, c.coalesceScan-1)
	if err != nil {
		return false, err
	}
	running, err := c.broker.Range(ctx, c.queues.InProgress, 0, -1)
	if err != nil {
		return false, err
	}
	for _, e := range append(pending, running...) {
		other, err := Decode(e.Value)
		if err != nil {
			continue
		}
		if !other.Done() && job.SameTarget(other) {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns the queued jobs in order, skipping undecodable records.
func (c *Client) Pending(ctx context.Context) ([]*Job, error) {
	return c.list(ctx, c.queues.Pending)
}

// InProgress returns the jobs currently held by workers.
func (c *Client) InProgress(ctx context.Context) ([]*Job, error) {
	return c.list(ctx, c.queues.InProgress)
}

// Completed returns the retained finished jobs, oldest first.
func (c *Client) Completed(ctx context.Context) ([]*Job, error) {
	return c.list(ctx, c.queues.Completed)
}

func (c *Client) list(ctx context.Context, queue string) ([]*Job, error) {
	entries, err := c.broker.Range(ctx, queue, 0, -1)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "listing %s", queue)
	}
	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		if j, err := Decode(e.Value); err == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// Pop waits up to timeout for the next job and moves it to the
// in-progress queue. It returns nil, nil when the wait times out.
// Undecodable records are dropped from the in-progress queue and
// reported as invalid.
func (c *Client) Pop(ctx context.Context, timeout time.Duration) (*Running, error) {
	e, err := c.broker.PopBlocking(ctx, c.queues.Pending, c.queues.InProgress, timeout)
	if err != nil {
		c.metrics.RecordBrokerError("pop")
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	job, err := Decode(e.Value)
	if err != nil {
		c.logger.Error("Dropping malformed job", "record", e.Value, "error", err)
		if rmErr := c.broker.Remove(ctx, c.queues.InProgress, e.Key); rmErr != nil {
			c.logger.Warn("Failed to drop malformed job", "key", e.Key, "error", rmErr)
		}
		return nil, err
	}
	return &Running{Job: job, key: e.Key, client: c}, nil
}

// Running is a job held by this process on the in-progress queue.
type Running struct {
	Job    *Job
	key    string
	client *Client
}

// Key returns the broker key of the in-progress entry.
func (r *Running) Key() string {
	return r.key
}

// Begin marks the job started and writes it back to the in-progress
// entry.
func (r *Running) Begin(ctx context.Context) error {
	r.Job.Begin(time.Now())
	return r.save(ctx)
}

// SetProgress records progress on the in-progress entry.
func (r *Running) SetProgress(ctx context.Context, fraction float64, status string) error {
	r.Job.SetProgress(fraction, status)
	return r.save(ctx)
}

func (r *Running) save(ctx context.Context) error {
	c := r.client
	if err := c.broker.Update(ctx, c.queues.InProgress, r.key, r.Job.Encode()); err != nil {
		c.metrics.RecordBrokerError("update")
		return errors.WithKind(errors.KindServer, err, "updating %s", r.Job)
	}
	return nil
}

// End finalizes the job: the in-progress entry is removed and, when
// retention is enabled, the finished record is appended to the completed
// queue, trimming the oldest entries beyond the retention limit.
func (r *Running) End(ctx context.Context, exitCode int, status string) error {
	c := r.client
	r.Job.End(time.Now(), exitCode, status)
	c.metrics.RecordJobFinished(string(r.Job.Category), r.Job.Status)

	if err := c.broker.Remove(ctx, c.queues.InProgress, r.key); err != nil && !errors.Is(err, ErrEntryNotFound) {
		c.metrics.RecordBrokerError("remove")
		return errors.WithKind(errors.KindServer, err, "removing %s", r.Job)
	}
	if c.retention <= 0 {
		return nil
	}
	if _, err := c.broker.Push(ctx, c.queues.Completed, r.Job.Encode()); err != nil {
		c.metrics.RecordBrokerError("push")
		return errors.WithKind(errors.KindServer, err, "retaining %s", r.Job)
	}
	return c.trimCompleted(ctx)
}

func (c *Client) trimCompleted(ctx context.Context) error {
	n, err := c.broker.Len(ctx, c.queues.Completed)
	if err != nil {
		return errors.WithKind(errors.KindServer, err, "sizing %s", c.queues.Completed)
	}
	for ; n > c.retention; n-- {
		if err := c.broker.Delete(ctx, c.queues.Completed, 0); err != nil && !errors.Is(err, ErrEntryNotFound) {
			c.metrics.RecordBrokerError("trim")
			return errors.WithKind(errors.KindServer, err, "trimming %s", c.queues.Completed)
		}
	}
	return nil
}

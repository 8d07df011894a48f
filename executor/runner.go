package executor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/metric"
	"github.com/das-developers/das2py-server-sub000/pipeline"
)

const (
	defaultShell     = "/bin/sh"
	defaultMaxStderr = 64 << 10
	defaultKillGrace = 5 * time.Second
	readChunk        = 32 << 10
)

// Pipeline outcomes reported to metrics.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeNoData    = "no_data"
	OutcomeCancelled = "cancelled"
)

// Result describes a finished pipeline.
type Result struct {
	ExitCode int
	Stderr   string
	// HeadersSent is true once Sink.Start succeeded.
	HeadersSent bool
	// BodyWritten is true once any stdout byte reached the sink.
	BodyWritten bool
	Bytes       int64
	Duration    time.Duration
}

// OK reports a zero exit status.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes pipelines.
type Runner struct {
	shell     string
	dir       string
	env       []string
	maxStderr int
	killGrace time.Duration
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell overrides /bin/sh.
func WithShell(path string) Option {
	return func(r *Runner) {
		r.shell = path
	}
}

// WithDir sets the working directory of the pipeline.
func WithDir(dir string) Option {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithEnv replaces the inherited environment.
func WithEnv(env []string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// WithMaxStderr bounds the captured stderr. Excess output is drained and
// dropped.
func WithMaxStderr(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxStderr = n
		}
	}
}

// WithKillGrace sets how long a cancelled pipeline has between SIGTERM and
// SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runner) {
		r.killGrace = d
	}
}

// WithMetrics records pipeline durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		shell:     defaultShell,
		maxStderr: defaultMaxStderr,
		killGrace: defaultKillGrace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "executor")
	return r
}

// Run executes p, streaming stdout into sink. Start is called on the sink
// with h right before the first byte. A non-nil error means the pipeline
// could not be started or its output could not be delivered; the Result
// is still filled in as far as it got. A nonzero exit status alone is not
// an error.
func (r *Runner) Run(ctx context.Context, p *pipeline.Pipeline, sink Sink, h Header) (*Result, error) {
	return r.RunCommand(ctx, p.String(), sink, h)
}

// RunCommand is Run for a raw shell command line.
func (r *Runner) RunCommand(ctx context.Context, command string, sink Sink, h Header) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Dir = r.dir
	cmd.Env = r.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		time.AfterFunc(r.killGrace, func() { _ = syscall.Kill(pgid, syscall.SIGKILL) })
		return syscall.Kill(pgid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "creating stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "creating stderr pipe")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "starting pipeline")
	}
	r.logger.Debug("Pipeline started", "pid", cmd.Process.Pid, "command", command)

	res := &Result{}
	var errBuf boundedBuffer
	errBuf.max = r.maxStderr

	var g errgroup.Group
	g.Go(func() error {
		err := r.pump(stdout, sink, h, res)
		if err != nil {
			// the consumer is gone; stop the producers
			cancel()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	pumpErr := g.Wait()
	waitErr := cmd.Wait()

	res.Duration = time.Since(start)
	res.Stderr = errBuf.String()
	res.ExitCode = exitCode(cmd, waitErr)

	outcome := OutcomeOK
	switch {
	case ctx.Err() != nil || (pumpErr != nil && res.BodyWritten):
		outcome = OutcomeCancelled
	case res.ExitCode != 0:
		outcome = OutcomeFailed
	case !res.BodyWritten:
		outcome = OutcomeNoData
	}
	r.metrics.RecordPipeline(outcome, res.Duration)
	r.logStderr(command, res)

	if pumpErr != nil {
		return res, errors.WithKind(errors.KindServer, pumpErr, "streaming pipeline output")
	}
	if ctx.Err() != nil {
		return res, errors.WithKind(errors.KindServer, ctx.Err(), "pipeline cancelled")
	}
	if waitErr != nil && res.ExitCode == -1 {
		return res, errors.WithKind(errors.KindServer, waitErr, "waiting for pipeline")
	}
	return res, nil
}

func (r *Runner) pump(stdout io.Reader, sink Sink, h Header, res *Result) error {
	buf := make([]byte, readChunk)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if !res.HeadersSent {
				if serr := sink.Start(h); serr != nil {
					return serr
				}
				res.HeadersSent = true
			}
			w, werr := sink.Write(buf[:n])
			res.Bytes += int64(w)
			if w > 0 {
				res.BodyWritten = true
			}
			if werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *Runner) logStderr(command string, res *Result) {
	if res.Stderr == "" && res.ExitCode == 0 {
		return
	}
	attrs := []any{"command", command, "exit_code", res.ExitCode, "stderr", res.Stderr}
	if res.ExitCode != 0 {
		r.logger.Warn("Pipeline exited with error", attrs...)
		return
	}
	r.logger.Debug("Pipeline stderr", attrs...)
}

// exitCode follows the shell convention of 128+N for death by signal N.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	ps := cmd.ProcessState
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := ps.ExitCode(); code >= 0 {
		return code
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// boundedBuffer keeps the first max bytes written and discards the rest.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[stderr truncated]"
	}
	return b.buf.String()
}

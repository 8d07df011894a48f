package blockcache

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/metric"
	"github.com/das-developers/das2py-server-sub000/pipeline"
	"github.com/das-developers/das2py-server-sub000/queue"
	"github.com/das-developers/das2py-server-sub000/source"
)

// Cache lookup outcomes reported to metrics.
const (
	LookupHit         = "hit"
	LookupRebin       = "hit_rebin"
	LookupMiss        = "miss"
	LookupUncacheable = "uncacheable"
)

// Enqueuer accepts fill jobs; *queue.Client satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) (bool, error)
}

// Miss is a run of consecutive missing blocks of one level.
type Miss struct {
	Begin time.Time
	End   time.Time
	Level string
}

// Cache resolves requests against the on-disk block tree.
type Cache struct {
	root      string
	reader    string
	freshness bool
	enqueuer  Enqueuer
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithReader sets the program that streams cached blocks.
func WithReader(program string) Option {
	return func(c *Cache) {
		c.reader = program
	}
}

// WithFreshness treats blocks older than the source definition as missing.
func WithFreshness(on bool) Option {
	return func(c *Cache) {
		c.freshness = on
	}
}

// WithEnqueuer sets where fill jobs are sent. Without one misses are only
// logged.
func WithEnqueuer(e Enqueuer) Option {
	return func(c *Cache) {
		c.enqueuer = e
	}
}

// WithMetrics records lookups.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache rooted at root.
func New(root string, opts ...Option) *Cache {
	c := &Cache{
		root:      root,
		reader:    "das_cache_rdr",
		freshness: true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "blockcache")
	return c
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the file of the block starting at start.
func (c *Cache) Path(def *source.SourceDef, options string, level Level, start time.Time) string {
	return BlockPath(c.root, def.LocalID, options, level, def.Cache.Mime.Ext(), start)
}

func requestRange(params map[string]string) (time.Time, time.Time, bool) {
	begin, err := dastime.Parse(params[source.KeyTimeMin])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := dastime.Parse(params[source.KeyTimeMax])
	if err != nil || !end.After(begin) {
		return time.Time{}, time.Time{}, false
	}
	return begin, end, true
}

// Present reports whether a usable block file exists at path.
func (c *Cache) Present(def *source.SourceDef, path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	if c.freshness && !def.ModTime.IsZero() && fi.ModTime().Before(def.ModTime) {
		return false
	}
	return true
}

// Missing lists the absent blocks covering the request at level, merging
// consecutive blocks into one range.
func (c *Cache) Missing(def *source.SourceDef, params map[string]string, level Level) []Miss {
	begin, end, ok := requestRange(params)
	if !ok {
		return nil
	}
	opts := params[source.KeyOptions]
	var out []Miss
	for _, b := range dastime.Blocks(begin, end, level.Set.Unit()) {
		if c.Present(def, c.Path(def, opts, level, b.Begin)) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].End.Equal(b.Begin) {
			out[n-1].End = b.End
			continue
		}
		out = append(out, Miss{Begin: b.Begin, End: b.End, Level: level.Name})
	}
	return out
}

// ReadPipeline builds the single-stage pipeline that streams the request
// out of the cache.
func (c *Cache) ReadPipeline(def *source.SourceDef, params map[string]string, level Level) *pipeline.Pipeline {
	req, _ := RequestedResolution(level.Set, params)
	res := req
	if res == 0 {
		res = level.Set.ResolutionSeconds()
	}
	args := []string{
		c.reader,
		def.Path,
		DataDir(c.root, def.LocalID),
		pipeline.NormalizeOptions(params[source.KeyOptions]),
		params[source.KeyTimeMin],
		params[source.KeyTimeMax],
		strconv.FormatFloat(res, 'f', -1, 64),
	}
	return pipeline.Single("cache reader", strings.Join(args, " "), def.Cache.Mime)
}

// Plan answers a request from the cache when all covering blocks exist.
// Otherwise it queues fill jobs for the missing ranges and returns the
// upstream pipeline. Cache trouble never fails the request.
func (c *Cache) Plan(ctx context.Context, def *source.SourceDef, params map[string]string, req queue.Requester) (*pipeline.Pipeline, string, error) {
	level, ok := Best(def, params)
	if _, _, valid := requestRange(params); !ok || !valid || c == nil {
		c.record(LookupUncacheable)
		p, err := pipeline.Solve(def, params)
		return p, LookupUncacheable, err
	}

	misses := c.Missing(def, params, level)
	if len(misses) == 0 {
		outcome := LookupRebin
		if IsExactlyCacheable(def, params) {
			outcome = LookupHit
		}
		c.record(outcome)
		c.logger.Debug("Cache hit", "source", def.LocalID, "level", level.Name)
		return c.ReadPipeline(def, params, level), outcome, nil
	}

	c.record(LookupMiss)
	p, err := pipeline.Solve(def, params)
	if err != nil {
		return nil, LookupMiss, err
	}
	c.enqueueFills(ctx, def, params, misses, req)
	return p, LookupMiss, nil
}

func (c *Cache) enqueueFills(ctx context.Context, def *source.SourceDef, params map[string]string, misses []Miss, req queue.Requester) {
	if c.enqueuer == nil {
		c.logger.Debug("Cache miss, no work queue", "source", def.LocalID, "ranges", len(misses))
		return
	}
	for _, m := range misses {
		job, err := queue.NewCacheJob(req, queue.CacheArgs{
			LocalID: def.LocalID,
			Begin:   m.Begin,
			End:     m.End,
			Level:   m.Level,
			Options: params[source.KeyOptions],
		})
		if err != nil {
			c.logger.Warn("Cannot build cache job", "source", def.LocalID, "error", err)
			continue
		}
		if _, err := c.enqueuer.Enqueue(ctx, job); err != nil {
			c.logger.Warn("Cache fill not queued", "source", def.LocalID, "level", m.Level, "error", err)
			return
		}
	}
}

func (c *Cache) record(outcome string) {
	if c == nil {
		return
	}
	c.metrics.RecordCacheLookup(outcome)
}

// FillParams returns the parameters that make the upstream pipeline
// produce exactly one block of level.
func FillParams(level Level, block dastime.Range, options string) map[string]string {
	params := map[string]string{
		source.KeyTimeMin: dastime.ISO(block.Begin),
		source.KeyTimeMax: dastime.ISO(block.End),
	}
	if res := level.Set.ResolutionSeconds(); res > 0 {
		params[source.KeyResolution] = strconv.FormatFloat(res, 'f', -1, 64)
	}
	if options != "" {
		params[source.KeyOptions] = options
	}
	for k, v := range level.Set.FixedParams {
		params[k] = string(v)
	}
	return params
}

// FillBlocks lists the blocks a cache job must build.
func FillBlocks(def *source.SourceDef, args queue.CacheArgs) (Level, []dastime.Range, error) {
	level, ok := LevelByName(def, args.Level)
	if !ok {
		return Level{}, nil, errors.Server("source %s has no cache level %s", def.LocalID, args.Level)
	}
	return level, dastime.Blocks(args.Begin, args.End, level.Set.Unit()), nil
}

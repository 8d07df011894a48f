package blockcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/queue"
	"github.com/das-developers/das2py-server-sub000/source"
)

var das2 = source.Mime{Type: source.MimeDas2Binary}

func scalar(s string) *source.Scalar {
	v := source.Scalar(s)
	return &v
}

func cachedDef(t *testing.T) *source.SourceDef {
	t.Helper()
	def := &source.SourceDef{
		LocalID: "test/src",
		Path:    "/srv/sources/test/src.json",
		Commands: []*source.Command{
			{Label: "reader", Order: 10, Template: "rdr #[read.time.min] #[read.time.max] #[read.opts##]", Output: das2},
			{
				Label:    "binner",
				Order:    20,
				Template: "bin #[bin.time.max]",
				Triggers: []source.Trigger{{Key: source.KeyResolution, Value: scalar("0"), Compare: source.CompareGt}},
				Input:    &das2,
				Output:   das2,
			},
		},
		Cache: &source.CacheDef{
			Mime: das2,
			BlockSets: map[string]*source.BlockSet{
				"60s":       {BlockSize: "1 day", Resolution: "60 s"},
				"intrinsic": {BlockSize: "hour"},
				"3600s": {
					BlockSize:   "1 month",
					Resolution:  "3600",
					FixedParams: map[string]source.Scalar{"survey": "full"},
				},
			},
		},
	}
	require.NoError(t, def.Compile())
	return def
}

func names(levels []Level) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Name)
	}
	return out
}

func TestCandidates(t *testing.T) {
	def := cachedDef(t)

	tests := []struct {
		name   string
		params map[string]string
		want   []string
		exact  bool
	}{
		{"raw request", map[string]string{}, []string{"intrinsic"}, true},
		{"coarser than 60s", map[string]string{source.KeyResolution: "120"}, []string{"60s", "intrinsic"}, false},
		{"exactly 60s", map[string]string{source.KeyResolution: "60"}, []string{"60s", "intrinsic"}, true},
		{"within tolerance", map[string]string{source.KeyResolution: "60.001"}, []string{"60s", "intrinsic"}, true},
		{"finer than 60s", map[string]string{source.KeyResolution: "30"}, []string{"intrinsic"}, false},
		{"fixed params", map[string]string{source.KeyResolution: "7200", "survey": "full"}, []string{"3600s", "60s", "intrinsic"}, false},
		{"fixed params mismatch", map[string]string{source.KeyResolution: "7200", "survey": "partial"}, []string{"60s", "intrinsic"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Candidates(def, tt.params)))
			assert.True(t, IsCacheable(def, tt.params))
			assert.Equal(t, tt.exact, IsExactlyCacheable(def, tt.params))
		})
	}

	def.Cache = nil
	assert.False(t, IsCacheable(def, map[string]string{}))
	_, ok := Best(def, map[string]string{})
	assert.False(t, ok)
}

func TestBlockPath(t *testing.T) {
	def := cachedDef(t)
	at := time.Date(2023, 1, 2, 13, 25, 0, 0, time.UTC)
	day, _ := LevelByName(def, "60s")
	hour, _ := LevelByName(def, "intrinsic")
	month, _ := LevelByName(def, "3600s")

	assert.Equal(t,
		filepath.Join("/cache", "data", "test", "src", "_noparams_", "60s", "2023", "01", "2023-01-02_60s.d2s"),
		BlockPath("/cache", def.LocalID, "", day, "d2s", at))
	assert.Equal(t,
		filepath.Join("/cache", "data", "test", "src", "__x__b", "intrinsic", "2023", "01", "02", "2023-01-02T13_intrinsic.d2s"),
		BlockPath("/cache", def.LocalID, "-b --x", hour, "d2s", at))
	assert.Equal(t,
		filepath.Join("/cache", "data", "test", "src", "_noparams_", "3600s", "2023", "2023-01_3600s.d2s"),
		BlockPath("/cache", def.LocalID, "", month, "d2s", at))
}

func TestBlockPath_Identity(t *testing.T) {
	def := cachedDef(t)
	hour, _ := LevelByName(def, "intrinsic")
	start := time.Date(2023, 2, 27, 0, 0, 0, 0, time.UTC)

	seen := make(map[string]time.Time)
	for _, b := range dastime.Blocks(start, start.Add(72*time.Hour), hour.Set.Unit()) {
		p := BlockPath("/cache", def.LocalID, "a b", hour, "d2s", b.Begin)
		_, dup := seen[p]
		assert.False(t, dup, p)
		seen[p] = b.Begin

		// any instant inside the block names the same file
		assert.Equal(t, p, BlockPath("/cache", def.LocalID, "b a", hour, "d2s", b.Begin.Add(59*time.Minute)))
	}
	assert.Len(t, seen, 72)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("block"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func dayParams(begin, end string) map[string]string {
	return map[string]string{
		source.KeyTimeMin:    begin,
		source.KeyTimeMax:    end,
		source.KeyResolution: "120",
	}
}

func TestMissing(t *testing.T) {
	def := cachedDef(t)
	def.ModTime = time.Now().Add(-time.Hour)
	c := New(t.TempDir())
	day, _ := LevelByName(def, "60s")

	touch(t, c.Path(def, "", day, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)), time.Now())

	params := dayParams("2023-01-02T06:00", "2023-01-05")
	misses := c.Missing(def, params, day)
	assert.Equal(t, []Miss{
		{Begin: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), Level: "60s"},
		{Begin: time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC), End: time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), Level: "60s"},
	}, misses)

	// blocks older than the definition are stale
	def.ModTime = time.Now().Add(time.Hour)
	misses = c.Missing(def, params, day)
	require.Len(t, misses, 1)
	assert.Equal(t, time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), misses[0].End)

	loose := New(c.Root(), WithFreshness(false))
	assert.Len(t, loose.Missing(def, params, day), 2)
}

type fakeEnqueuer struct {
	jobs []*queue.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job *queue.Job) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.jobs = append(f.jobs, job)
	return true, nil
}

func TestPlan_Hit(t *testing.T) {
	ctx := context.Background()
	def := cachedDef(t)
	root := t.TempDir()
	enq := &fakeEnqueuer{}
	c := New(root, WithEnqueuer(enq))
	day, _ := LevelByName(def, "60s")
	touch(t, c.Path(def, "", day, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)), time.Now())

	p, outcome, err := c.Plan(ctx, def, dayParams("2023-01-02T00:00", "2023-01-03T00:00"), queue.Requester{})
	require.NoError(t, err)
	assert.Equal(t, LookupRebin, outcome)
	assert.Equal(t, []string{"cache reader"}, p.Labels())
	assert.Equal(t, das2, p.Output)
	assert.Equal(t,
		strings.Join([]string{"das_cache_rdr", def.Path, DataDir(root, "test/src"), "_noparams_", "2023-01-02T00:00", "2023-01-03T00:00", "120"}, " "),
		p.String())
	assert.Empty(t, enq.jobs)

	params := dayParams("2023-01-02T00:00", "2023-01-03T00:00")
	params[source.KeyResolution] = "60"
	p, outcome, err = c.Plan(ctx, def, params, queue.Requester{})
	require.NoError(t, err)
	assert.Equal(t, LookupHit, outcome)
	assert.True(t, strings.HasSuffix(p.String(), " 60"))
}

func TestPlan_MissQueuesFill(t *testing.T) {
	ctx := context.Background()
	def := cachedDef(t)
	enq := &fakeEnqueuer{}
	c := New(t.TempDir(), WithEnqueuer(enq))

	params := dayParams("2023-01-02T00:00", "2023-01-03T00:00")
	params[source.KeyOptions] = "--hfr"
	p, outcome, err := c.Plan(ctx, def, params, queue.Requester{Host: "h"})
	require.NoError(t, err)
	assert.Equal(t, LookupMiss, outcome)
	assert.Equal(t, []string{"reader", "binner"}, p.Labels())

	require.Len(t, enq.jobs, 1)
	args, err := enq.jobs[0].Cache()
	require.NoError(t, err)
	assert.Equal(t, queue.CacheArgs{
		LocalID: "test/src",
		Begin:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		Level:   "60s",
		Options: "--hfr",
	}, args)
}

func TestPlan_CoalescesRepeatedMisses(t *testing.T) {
	ctx := context.Background()
	def := cachedDef(t)
	qc := queue.NewClient(queue.NewMemoryBroker())
	c := New(t.TempDir(), WithEnqueuer(qc))

	for i := 0; i < 3; i++ {
		_, outcome, err := c.Plan(ctx, def, dayParams("2023-01-02T00:00", "2023-01-03T00:00"), queue.Requester{})
		require.NoError(t, err)
		assert.Equal(t, LookupMiss, outcome)
	}
	pending, err := qc.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPlan_Degrades(t *testing.T) {
	ctx := context.Background()
	def := cachedDef(t)

	c := New(t.TempDir(), WithEnqueuer(&fakeEnqueuer{err: errors.ErrBrokerUnavailable}))
	p, _, err := c.Plan(ctx, def, dayParams("2023-01-02", "2023-01-03"), queue.Requester{})
	require.NoError(t, err)
	assert.Equal(t, []string{"reader", "binner"}, p.Labels())

	// unparseable range skips the cache
	p, outcome, err := c.Plan(ctx, def, dayParams("soon", "later"), queue.Requester{})
	require.NoError(t, err)
	assert.Equal(t, LookupUncacheable, outcome)
	assert.NotNil(t, p)

	var none *Cache
	p, outcome, err = none.Plan(ctx, def, dayParams("2023-01-02", "2023-01-03"), queue.Requester{})
	require.NoError(t, err)
	assert.Equal(t, LookupUncacheable, outcome)
	assert.Equal(t, []string{"reader", "binner"}, p.Labels())
}

func TestFill(t *testing.T) {
	def := cachedDef(t)
	level, blocks, err := FillBlocks(def, queue.CacheArgs{
		LocalID: def.LocalID,
		Begin:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC),
		Level:   "60s",
	})
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	params := FillParams(level, blocks[1], "--hfr")
	assert.Equal(t, map[string]string{
		source.KeyTimeMin:    "2023-01-03T00:00:00.000",
		source.KeyTimeMax:    "2023-01-04T00:00:00.000",
		source.KeyResolution: "60",
		source.KeyOptions:    "--hfr",
	}, params)

	month, _ := LevelByName(def, "3600s")
	params = FillParams(month, blocks[0], "")
	assert.Equal(t, "full", params["survey"])
	assert.NotContains(t, params, source.KeyOptions)

	_, _, err = FillBlocks(def, queue.CacheArgs{Level: "5s"})
	require.Error(t, err)
	assert.Equal(t, errors.KindServer, errors.KindOf(err))
}

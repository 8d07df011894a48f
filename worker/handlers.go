package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/das-developers/das2py-server-sub000/blockcache"
	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/pipeline"
	"github.com/das-developers/das2py-server-sub000/queue"
	"github.com/das-developers/das2py-server-sub000/source"
)

// progressInterval spaces in-progress entry rewrites on jobs with many
// small blocks.
const progressInterval = 250 * time.Millisecond

// CacheHandler builds the blocks named by a TASK_CACHE job. Each block is
// produced by the source's own reader chain, written to a temporary file
// and renamed into place on success.
type CacheHandler struct {
	Loader *source.Loader
	Cache  *blockcache.Cache
	Runner *executor.Runner
	Logger *slog.Logger
}

// Handle implements Handler.
func (h *CacheHandler) Handle(ctx context.Context, r *queue.Running) (int, error) {
	args, err := r.Job.Cache()
	if err != nil {
		return 1, err
	}
	def, err := h.Loader.Load(args.LocalID)
	if err != nil {
		return 1, err
	}
	if def.Cache == nil {
		return 1, errors.Server("source %s has no cache section", def.LocalID)
	}
	level, blocks, err := blockcache.FillBlocks(def, args)
	if err != nil {
		return 1, err
	}

	log := logger(h.Logger).With("source", def.LocalID, "level", level.Name)
	progress := rate.NewLimiter(rate.Every(progressInterval), 1)
	exit := 0
	for i, b := range blocks {
		if ctx.Err() != nil {
			return exitInterrupted, ctx.Err()
		}
		target := h.Cache.Path(def, args.Options, level, b.Begin)
		if h.Cache.Present(def, target) {
			log.Debug("Block already present", "block", target)
		} else if code, err := h.build(ctx, def, level, b, args.Options, target); err != nil || code != 0 {
			log.Warn("Block build failed", "block", target, "exit_code", code, "error", err)
			if ctx.Err() != nil {
				return code, ctx.Err()
			}
			exit = code
			if exit == 0 {
				exit = 1
			}
		}
		if i+1 < len(blocks) && !progress.Allow() {
			continue
		}
		status := fmt.Sprintf("block %d of %d", i+1, len(blocks))
		if err := r.SetProgress(ctx, float64(i+1)/float64(len(blocks)), status); err != nil {
			log.Warn("Progress update failed", "error", err)
		}
	}
	return exit, nil
}

func (h *CacheHandler) build(ctx context.Context, def *source.SourceDef, level blockcache.Level, b dastime.Range, options, target string) (int, error) {
	params, err := def.Prepare(source.ConventionDas3, blockcache.FillParams(level, b, options))
	if err != nil {
		return 1, err
	}
	p, err := pipeline.Solve(def, params)
	if err != nil {
		return 1, err
	}
	sink := executor.NewFileSink(target)
	res, err := h.Runner.Run(ctx, p, sink, executor.Header{Mime: def.Cache.Mime})
	if err != nil || !res.OK() {
		sink.Abort()
		if res != nil {
			return res.ExitCode, err
		}
		return 1, err
	}
	return 0, sink.Commit()
}

// InfoHandler writes the client-facing description of a source to
// <root>/info/<localId>.json for HAPI_INFO_CACHE jobs. Files newer than
// the definition are left alone.
type InfoHandler struct {
	Loader *source.Loader
	Root   string
}

// InfoPath returns the cached description file of a source.
func InfoPath(root, localID string) string {
	return filepath.Join(root, "info", filepath.FromSlash(localID)+".json")
}

// Handle implements Handler.
func (h *InfoHandler) Handle(_ context.Context, r *queue.Running) (int, error) {
	def, err := h.Loader.Load(r.Job.Args[0])
	if err != nil {
		return 1, err
	}
	target := InfoPath(h.Root, def.LocalID)
	if fi, err := os.Stat(target); err == nil && fi.ModTime().After(def.ModTime) {
		return 0, nil
	}
	data, err := json.MarshalIndent(def.External(), "", "  ")
	if err != nil {
		return 1, errors.WithKind(errors.KindServer, err, "encoding %s", def.LocalID)
	}
	if err := source.WriteFileAtomic(target, data); err != nil {
		return 1, errors.WithKind(errors.KindServer, err, "writing %s", target)
	}
	return 0, nil
}

// ListHandler regenerates the catalog files for LIST_REFRESH jobs.
type ListHandler struct {
	Loader *source.Loader
	Dir    string
}

// Handle implements Handler.
func (h *ListHandler) Handle(_ context.Context, _ *queue.Running) (int, error) {
	cat, err := source.BuildCatalog(h.Loader)
	if err != nil {
		return 1, err
	}
	if err := cat.WriteFiles(h.Dir); err != nil {
		return 1, err
	}
	return 0, nil
}

// UsageHandler accepts USAGE jobs; usage reporting is not implemented.
func UsageHandler() Handler {
	return HandlerFunc(func(_ context.Context, r *queue.Running) (int, error) {
		return 1, errors.Todo("usage report for %s is not implemented", r.Job.Args[0])
	})
}

// Deps are the collaborators of the standard handlers.
type Deps struct {
	Loader     *source.Loader
	Cache      *blockcache.Cache
	Runner     *executor.Runner
	CatalogDir string
	Logger     *slog.Logger
}

// RegisterDefaults installs the handler for every job category.
func RegisterDefaults(rt *Runtime, d Deps) {
	rt.Register(queue.CategoryCache, &CacheHandler{Loader: d.Loader, Cache: d.Cache, Runner: d.Runner, Logger: d.Logger})
	rt.Register(queue.CategoryHAPIInfo, &InfoHandler{Loader: d.Loader, Root: d.Cache.Root()})
	rt.Register(queue.CategoryListRefresh, &ListHandler{Loader: d.Loader, Dir: d.CatalogDir})
	rt.Register(queue.CategoryUsage, UsageHandler())
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/das-developers/das2py-server-sub000/auth"
	"github.com/das-developers/das2py-server-sub000/blockcache"
	"github.com/das-developers/das2py-server-sub000/config"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/metric"
	"github.com/das-developers/das2py-server-sub000/natsclient"
	"github.com/das-developers/das2py-server-sub000/pkg/retry"
	"github.com/das-developers/das2py-server-sub000/queue"
	"github.com/das-developers/das2py-server-sub000/server"
	"github.com/das-developers/das2py-server-sub000/source"
	"github.com/das-developers/das2py-server-sub000/worker"
)

const (
	connectTimeout = 10 * time.Second
	kvTimeout      = 5 * time.Second
)

// app holds the collaborators shared by the server and the workers of one
// process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	loader   *source.Loader
	runner   *executor.Runner
	nats     *natsclient.Client
	broker   queue.Broker
	queue    *queue.Client
	cache    *blockcache.Cache
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	m := a.registry.Metrics

	a.loader = newLoader(cfg, logger)
	a.runner = executor.NewRunner(
		executor.WithMaxStderr(cfg.Server.MaxStderr),
		executor.WithMetrics(m),
		executor.WithLogger(logger),
	)

	if err := a.openBroker(ctx); err != nil {
		return nil, err
	}
	a.queue = queue.NewClient(a.broker,
		queue.WithQueues(queue.Queues{
			Pending:    cfg.Broker.Pending,
			InProgress: cfg.Broker.InProgress,
			Completed:  cfg.Broker.Completed,
		}),
		queue.WithRetention(cfg.Broker.Retention),
		queue.WithCoalesceScan(cfg.Cache.CoalesceScan),
		queue.WithMetrics(m),
		queue.WithLogger(logger),
	)

	if cfg.Cache.Enabled {
		a.cache = blockcache.New(cfg.Cache.Root,
			blockcache.WithReader(cfg.Cache.Reader),
			blockcache.WithFreshness(cfg.Cache.Freshness),
			blockcache.WithEnqueuer(a.queue),
			blockcache.WithMetrics(m),
			blockcache.WithLogger(logger),
		)
	}
	return a, nil
}

func newLoader(cfg *config.Config, logger *slog.Logger) *source.Loader {
	return source.NewLoader(cfg.Server.SourceRoot, cfg.IncludePath(),
		source.WithVars(cfg.Server.Vars),
		source.WithSiteURL(cfg.Server.SiteURL),
		source.WithLogger(logger),
	)
}

// openBroker connects the configured work queue broker. NATS connections
// are retried with the startup backoff so that a server started alongside
// its broker does not fail on the first attempt.
func (a *app) openBroker(ctx context.Context) error {
	b := a.cfg.Broker
	if b.Kind == config.BrokerMemory {
		a.broker = queue.NewMemoryBroker()
		return nil
	}

	startup := retry.Startup()
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(b.MaxReconnects),
		natsclient.WithReconnectWait(b.ReconnectWait),
		natsclient.WithPingInterval(b.PingInterval),
		natsclient.WithDrainTimeout(b.DrainTimeout),
		natsclient.WithStatsInterval(b.StatsInterval),
		natsclient.WithCircuitBreakerThreshold(int32(startup.MaxAttempts + 1)),
		natsclient.WithMaxBackoff(startup.MaxDelay),
		natsclient.WithHealthChangeCallback(a.brokerHealthChanged),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
	}
	if b.Username != "" {
		opts = append(opts, natsclient.WithCredentials(b.Username, b.Password))
	}
	if b.Token != "" {
		opts = append(opts, natsclient.WithToken(b.Token))
	}
	client, err := natsclient.NewClient(b.URLs, opts...)
	if err != nil {
		return err
	}

	if err := retry.Do(ctx, startup, func() error { return client.Connect(ctx) }); err != nil {
		return errors.WrapFatal(err, "CLI", "openBroker", "connect to NATS")
	}
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return errors.WrapFatal(err, "CLI", "openBroker", "wait for NATS")
	}

	broker, err := queue.OpenNATSBroker(ctx, client, b.Bucket, kvTimeout, b.MarkerAge, a.logger)
	if err != nil {
		_ = client.Close(context.Background())
		return err
	}
	a.nats = client
	a.broker = broker
	return nil
}

// brokerHealth reports the broker connection for /health.
func (a *app) brokerHealth() (string, bool) {
	if a.nats == nil {
		return config.BrokerMemory, true
	}
	st := a.nats.GetStatus()
	return st.String(), st.Status == natsclient.StatusConnected
}

func (a *app) brokerHealthChanged(healthy bool) {
	if healthy {
		a.logger.Info("Work queue broker available")
		return
	}
	a.logger.Warn("Work queue broker unavailable, cache fills are skipped until it returns")
}

func (a *app) authorizer() *auth.Authorizer {
	var backend auth.Backend
	if len(a.cfg.Auth.Users) > 0 {
		backend = auth.NewStatic(a.cfg.Auth.Users, a.cfg.Auth.Groups)
	}
	return auth.New(backend, auth.WithRealm(a.cfg.Auth.Realm), auth.WithLogger(a.logger))
}

func (a *app) server() *server.Server {
	opts := []server.Option{
		server.WithQueue(a.queue),
		server.WithAuthorizer(a.authorizer()),
		server.WithCatalogDir(a.cfg.Server.CatalogDir),
		server.WithRedirect(a.cfg.Server.Redirect),
		server.WithAllowOrigin(a.cfg.Server.AllowOrigin),
		server.WithBrokerHealth(a.brokerHealth),
		server.WithLogger(a.logger),
	}
	if a.cache != nil {
		opts = append(opts, server.WithCache(a.cache))
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(a.registry.Metrics, a.registry, a.cfg.Metrics.Path))
	}
	return server.New(a.loader, a.runner, opts...)
}

func (a *app) worker(concurrency int) *worker.Runtime {
	rt := worker.NewRuntime(a.queue,
		worker.WithConcurrency(concurrency),
		worker.WithPopTimeout(a.cfg.Worker.PopTimeout),
		worker.WithLogger(a.logger),
	)
	cache := a.cache
	if cache == nil {
		// info files are still written below the cache root
		cache = blockcache.New(a.cfg.Cache.Root, blockcache.WithLogger(a.logger))
	}
	worker.RegisterDefaults(rt, worker.Deps{
		Loader:     a.loader,
		Cache:      cache,
		Runner:     a.runner,
		CatalogDir: a.cfg.Server.CatalogDir,
		Logger:     a.logger,
	})
	return rt
}

// Close releases the broker.
func (a *app) Close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("Broker close failed", "error", err)
	}
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
}

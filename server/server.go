package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/das-developers/das2py-server-sub000/auth"
	"github.com/das-developers/das2py-server-sub000/blockcache"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/health"
	"github.com/das-developers/das2py-server-sub000/metric"
	"github.com/das-developers/das2py-server-sub000/queue"
	"github.com/das-developers/das2py-server-sub000/source"
)

// BrokerHealth reports the state of the work queue connection.
type BrokerHealth func() (status string, healthy bool)

// Server dispatches requests. It holds no per-request state and is safe
// for concurrent use.
type Server struct {
	loader      *source.Loader
	runner      *executor.Runner
	cache       *blockcache.Cache
	authz       *auth.Authorizer
	queue       *queue.Client
	catalogDir  string
	redirect    bool
	allowOrigin string

	metrics     *metric.Metrics
	registry    *metric.MetricsRegistry
	metricsPath string
	broker      BrokerHealth
	monitor     *health.Monitor

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCache answers cacheable requests from the block cache.
func WithCache(c *blockcache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithAuthorizer sets the access checker for protected sources.
func WithAuthorizer(a *auth.Authorizer) Option {
	return func(s *Server) {
		if a != nil {
			s.authz = a
		}
	}
}

// WithQueue identifies the work queue cache fills are sent to; it is used
// to stamp the requester of queued jobs.
func WithQueue(c *queue.Client) Option {
	return func(s *Server) {
		s.queue = c
	}
}

// WithCatalogDir sets where pre-built catalog files are read from.
func WithCatalogDir(dir string) Option {
	return func(s *Server) {
		s.catalogDir = dir
	}
}

// WithRedirect answers requests for remote sources with a 301 instead of
// a 404.
func WithRedirect(on bool) Option {
	return func(s *Server) {
		s.redirect = on
	}
}

// WithAllowOrigin sets the CORS origin sent with every response.
func WithAllowOrigin(origin string) Option {
	return func(s *Server) {
		s.allowOrigin = origin
	}
}

// WithMetrics records request and pipeline metrics and mounts the
// registry's handler at path.
func WithMetrics(m *metric.Metrics, registry *metric.MetricsRegistry, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.registry = registry
		s.metricsPath = path
	}
}

// WithBrokerHealth reports the broker state on /health.
func WithBrokerHealth(h BrokerHealth) Option {
	return func(s *Server) {
		s.broker = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a dispatcher over the sources of loader.
func New(loader *source.Loader, runner *executor.Runner, opts ...Option) *Server {
	s := &Server{
		loader:      loader,
		runner:      runner,
		authz:       auth.New(nil),
		redirect:    true,
		allowOrigin: "*",
		metricsPath: "/metrics",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.monitor = health.NewMonitor("dasflex")
	s.monitor.Register("sources", health.DirCheck(loader.Root(), health.StateUnhealthy))
	if s.cache != nil {
		s.monitor.Register("cache", health.DirCheck(s.cache.Root(), health.StateDegraded))
	}
	if s.broker != nil {
		s.monitor.Register("broker", health.FuncCheck(s.broker, health.StateUnhealthy))
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.allowOrigin == "*" || origin == "" || origin == s.allowOrigin
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/source/", s.handleSource)
	mux.HandleFunc("/ws/source/", s.handleWebSocket)
	mux.HandleFunc("/server", s.handleDas2)
	mux.HandleFunc("/hapi/data", s.handleHAPI)
	mux.HandleFunc("/"+source.CatalogJSON, s.handleCatalog)
	mux.HandleFunc("/"+source.CatalogNodes, s.handleCatalog)
	mux.HandleFunc("/"+source.CatalogDas2, s.handleCatalog)
	mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil && s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.registry.Handler())
	}
	mux.HandleFunc("/", s.handleRoot)
	return s.instrument(s.readOnly(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, waiting up to shutdownTimeout for open requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "Server", "ListenAndServe", "listen")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Server", "ListenAndServe", "shutdown")
	}
	return nil
}

func (s *Server) requester(r *http.Request, user string) queue.Requester {
	if s.queue == nil {
		req := queue.LocalRequester()
		req.RemoteAddr, req.User = r.RemoteAddr, user
		return req
	}
	return s.queue.Requester(r.RemoteAddr, user)
}

package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags defines one flag per configuration field, each bound to the
// matching field of cfg. Flag names are dotted config keys so that a config
// file section and a DASFLEX_SECTION_KEY environment variable resolve to the
// same flag.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Server.Listen, "server.listen", cfg.Server.Listen, "HTTP listen address")
	fs.StringVar(&cfg.Server.SourceRoot, "server.source_root", cfg.Server.SourceRoot, "root directory of data source definitions")
	fs.StringVar(&cfg.Server.IncludeDir, "server.include_dir", cfg.Server.IncludeDir, "json $include search directory (default <source_root>/_include_)")
	fs.StringVar(&cfg.Server.CatalogDir, "server.catalog_dir", cfg.Server.CatalogDir, "directory holding catalog.json, nodes.csv and das2list.txt")
	fs.StringVar(&cfg.Server.SiteURL, "server.site_url", cfg.Server.SiteURL, "public base URL of this server")
	fs.BoolVar(&cfg.Server.Redirect, "server.redirect", cfg.Server.Redirect, "redirect requests for remote sources instead of returning 404")
	fs.StringVar(&cfg.Server.AllowOrigin, "server.allow_origin", cfg.Server.AllowOrigin, "CORS allowed origin")
	fs.StringToStringVar(&cfg.Server.Vars, "server.vars", cfg.Server.Vars, "values available to dsdf $(NAME) substitution")
	fs.IntVar(&cfg.Server.MaxStderr, "server.max_stderr", cfg.Server.MaxStderr, "bytes of subprocess stderr retained for logs")
	fs.DurationVar(&cfg.Server.ShutdownTimeout, "server.shutdown_timeout", cfg.Server.ShutdownTimeout, "graceful shutdown timeout")
	fs.IntVar(&cfg.Server.EmbeddedWorkers, "server.embedded_workers", cfg.Server.EmbeddedWorkers, "cache workers to run inside the server process")

	fs.BoolVar(&cfg.Cache.Enabled, "cache.enabled", cfg.Cache.Enabled, "serve and fill the block cache")
	fs.StringVar(&cfg.Cache.Root, "cache.root", cfg.Cache.Root, "cache root directory")
	fs.StringVar(&cfg.Cache.Reader, "cache.reader", cfg.Cache.Reader, "cache reader program")
	fs.BoolVar(&cfg.Cache.Freshness, "cache.freshness", cfg.Cache.Freshness, "treat blocks older than their source definition as missing")
	fs.IntVar(&cfg.Cache.CoalesceScan, "cache.coalesce_scan", cfg.Cache.CoalesceScan, "pending jobs scanned for duplicates before enqueue")

	fs.StringVar(&cfg.Broker.Kind, "broker.kind", cfg.Broker.Kind, "work queue broker: memory or nats")
	fs.StringSliceVar(&cfg.Broker.URLs, "broker.urls", cfg.Broker.URLs, "NATS server URLs")
	fs.StringVar(&cfg.Broker.Bucket, "broker.bucket", cfg.Broker.Bucket, "JetStream KV bucket holding the queues")
	fs.StringVar(&cfg.Broker.Pending, "broker.pending", cfg.Broker.Pending, "pending queue name")
	fs.StringVar(&cfg.Broker.InProgress, "broker.in_progress", cfg.Broker.InProgress, "in-progress queue name")
	fs.StringVar(&cfg.Broker.Completed, "broker.completed", cfg.Broker.Completed, "completed queue name")
	fs.IntVar(&cfg.Broker.Retention, "broker.retention", cfg.Broker.Retention, "completed jobs retained")
	fs.IntVar(&cfg.Broker.MaxReconnects, "broker.max_reconnects", cfg.Broker.MaxReconnects, "NATS reconnect attempts (-1 forever)")
	fs.DurationVar(&cfg.Broker.ReconnectWait, "broker.reconnect_wait", cfg.Broker.ReconnectWait, "wait between NATS reconnects")
	fs.StringVar(&cfg.Broker.Username, "broker.username", cfg.Broker.Username, "NATS user")
	fs.StringVar(&cfg.Broker.Password, "broker.password", cfg.Broker.Password, "NATS password")
	fs.StringVar(&cfg.Broker.Token, "broker.token", cfg.Broker.Token, "NATS token")
	fs.DurationVar(&cfg.Broker.PingInterval, "broker.ping_interval", cfg.Broker.PingInterval, "NATS ping interval")
	fs.DurationVar(&cfg.Broker.DrainTimeout, "broker.drain_timeout", cfg.Broker.DrainTimeout, "NATS drain timeout on shutdown")
	fs.DurationVar(&cfg.Broker.StatsInterval, "broker.stats_interval", cfg.Broker.StatsInterval, "bucket statistics poll interval (0 disables)")
	fs.DurationVar(&cfg.Broker.MarkerAge, "broker.marker_age", cfg.Broker.MarkerAge, "age after which delete markers are purged")

	fs.DurationVar(&cfg.Worker.PopTimeout, "worker.pop_timeout", cfg.Worker.PopTimeout, "blocking pop deadline")
	fs.IntVar(&cfg.Worker.Concurrency, "worker.concurrency", cfg.Worker.Concurrency, "jobs processed in parallel")

	fs.StringVar(&cfg.Auth.Realm, "auth.realm", cfg.Auth.Realm, "default basic-auth realm")

	fs.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log.format", cfg.Log.Format, "log format (json, text)")

	fs.BoolVar(&cfg.Metrics.Enabled, "metrics.enabled", cfg.Metrics.Enabled, "expose prometheus metrics")
	fs.StringVar(&cfg.Metrics.Path, "metrics.path", cfg.Metrics.Path, "metrics endpoint path")
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker kinds
const (
	BrokerMemory = "memory" // in-process, single node
	BrokerNATS   = "nats"   // JetStream KV bucket
)

// Config is the complete dasflex configuration shared by the server and the
// worker.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Broker  BrokerConfig  `json:"broker" yaml:"broker"`
	Worker  WorkerConfig  `json:"worker" yaml:"worker"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds the request dispatcher settings
type ServerConfig struct {
	Listen      string `json:"listen" yaml:"listen"`
	SourceRoot  string `json:"source_root" yaml:"source_root"`             // DATASRC_ROOT
	IncludeDir  string `json:"include_dir,omitempty" yaml:"include_dir"`   // DATASRC_INC, defaults to <source_root>/_include_
	CatalogDir  string `json:"catalog_dir,omitempty" yaml:"catalog_dir"`   // catalog.json, nodes.csv, das2list.txt
	SiteURL     string `json:"site_url,omitempty" yaml:"site_url"`         // this server's public base URL
	Redirect    bool   `json:"redirect" yaml:"redirect"`                   // 301 for remote sources instead of 404
	AllowOrigin string `json:"allow_origin,omitempty" yaml:"allow_origin"` // CORS Access-Control-Allow-Origin
	// Vars are the config-level values available to dsdf $(NAME) substitution.
	Vars            map[string]string `json:"vars,omitempty" yaml:"vars"`
	MaxStderr       int               `json:"max_stderr" yaml:"max_stderr"`
	ShutdownTimeout time.Duration     `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	EmbeddedWorkers int               `json:"embedded_workers" yaml:"embedded_workers"`
}

// CacheConfig controls the block cache
type CacheConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Root    string `json:"root" yaml:"root"`
	// Reader is the program that streams cached blocks back out.
	Reader string `json:"reader" yaml:"reader"`
	// Freshness treats blocks older than their source definition as missing.
	Freshness    bool `json:"freshness" yaml:"freshness"`
	CoalesceScan int  `json:"coalesce_scan" yaml:"coalesce_scan"`
}

// BrokerConfig selects and configures the work queue broker
type BrokerConfig struct {
	Kind          string        `json:"kind" yaml:"kind"`
	URLs          []string      `json:"urls,omitempty" yaml:"urls"`
	Bucket        string        `json:"bucket" yaml:"bucket"`
	Pending       string        `json:"pending" yaml:"pending"`
	InProgress    string        `json:"in_progress" yaml:"in_progress"`
	Completed     string        `json:"completed" yaml:"completed"`
	Retention     int           `json:"retention" yaml:"retention"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string        `json:"username,omitempty" yaml:"username"`
	Password      string        `json:"password,omitempty" yaml:"password"`
	Token         string        `json:"token,omitempty" yaml:"token"`
	PingInterval  time.Duration `json:"ping_interval" yaml:"ping_interval"`
	DrainTimeout  time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	StatsInterval time.Duration `json:"stats_interval" yaml:"stats_interval"` // bucket gauges, 0 disables
	// MarkerAge is how long delete markers of finished entries are kept
	// before the bucket is compacted; 0 keeps them.
	MarkerAge time.Duration `json:"marker_age" yaml:"marker_age"`
}

// WorkerConfig holds worker runtime settings
type WorkerConfig struct {
	PopTimeout  time.Duration `json:"pop_timeout" yaml:"pop_timeout"`
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
}

// AuthConfig is the static credential backend. Users maps user names to
// bcrypt hashes; Groups maps group names to member user names.
type AuthConfig struct {
	Realm  string              `json:"realm" yaml:"realm"`
	Users  map[string]string   `json:"users,omitempty" yaml:"users"`
	Groups map[string][]string `json:"groups,omitempty" yaml:"groups"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns a configuration suitable for a single node deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			SourceRoot:      "/var/lib/dasflex/datasources",
			CatalogDir:      "/var/lib/dasflex/catalog",
			Redirect:        true,
			AllowOrigin:     "*",
			MaxStderr:       64 << 10,
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Root:         "/var/cache/dasflex",
			Reader:       "das_cache_rdr",
			Freshness:    true,
			CoalesceScan: 64,
		},
		Broker: BrokerConfig{
			Kind:          BrokerMemory,
			URLs:          []string{"nats://localhost:4222"},
			Bucket:        "DASFLEX_JOBS",
			Pending:       "pending",
			InProgress:    "in_progress",
			Completed:     "completed",
			Retention:     1000,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			DrainTimeout:  30 * time.Second,
			StatsInterval: 30 * time.Second,
			MarkerAge:     time.Minute,
		},
		Worker: WorkerConfig{
			PopTimeout:  5 * time.Second,
			Concurrency: 1,
		},
		Auth: AuthConfig{
			Realm: "dasflex",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// IncludePath returns the directory searched for json $include files after
// the including file's own directory.
func (c *Config) IncludePath() string {
	if c.Server.IncludeDir != "" {
		return c.Server.IncludeDir
	}
	return strings.TrimRight(c.Server.SourceRoot, "/") + "/_include_"
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Server.SourceRoot == "" {
		return errors.New("server.source_root is required")
	}
	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			return fmt.Errorf("server.listen: %w", err)
		}
	}
	if c.Server.MaxStderr < 0 {
		return errors.New("server.max_stderr must not be negative")
	}
	if c.Server.EmbeddedWorkers < 0 {
		return errors.New("server.embedded_workers must not be negative")
	}

	if c.Cache.Enabled {
		if c.Cache.Root == "" {
			return errors.New("cache.root is required when the cache is enabled")
		}
		if c.Cache.Reader == "" {
			return errors.New("cache.reader is required when the cache is enabled")
		}
	}
	if c.Cache.CoalesceScan < 0 {
		return errors.New("cache.coalesce_scan must not be negative")
	}

	if err := c.validateBroker(); err != nil {
		return fmt.Errorf("broker configuration: %w", err)
	}

	if c.Worker.PopTimeout <= 0 {
		return errors.New("worker.pop_timeout must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

func (c *Config) validateBroker() error {
	b := c.Broker
	switch b.Kind {
	case BrokerMemory:
	case BrokerNATS:
		if len(b.URLs) == 0 {
			return errors.New("urls is required for the nats broker")
		}
		if b.Bucket == "" {
			return errors.New("bucket is required for the nats broker")
		}
	default:
		return fmt.Errorf("unknown kind %q (must be %q or %q)", b.Kind, BrokerMemory, BrokerNATS)
	}
	if b.PingInterval < 0 || b.DrainTimeout < 0 || b.StatsInterval < 0 || b.MarkerAge < 0 {
		return errors.New("broker intervals must not be negative")
	}

	names := map[string]string{"pending": b.Pending, "in_progress": b.InProgress, "completed": b.Completed}
	seen := make(map[string]bool)
	for field, name := range names {
		if name == "" {
			return fmt.Errorf("%s queue name is required", field)
		}
		if strings.ContainsAny(name, ".*> ") {
			return fmt.Errorf("%s queue name %q contains reserved characters", field, name)
		}
		if seen[name] {
			return fmt.Errorf("queue name %q is used twice", name)
		}
		seen[name] = true
	}
	if b.Retention < 0 {
		return errors.New("retention must not be negative")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadFile reads a YAML (or JSON) configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

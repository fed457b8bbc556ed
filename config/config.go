// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"offlinecache/internal/assets"
	"offlinecache/internal/cache"
	"offlinecache/internal/httpclient"
	"offlinecache/internal/logging"
	"offlinecache/internal/shim"
)

// Body size limits for the HTTP front.
const (
	DefaultBodySizeLimit int64 = 10 * 1024 * 1024  // 10MB
	MinBodySizeLimit     int64 = 1024              // 1KB
	MaxBodySizeLimit     int64 = 100 * 1024 * 1024 // 100MB
)

// DefaultOriginURL is the web application whose assets are cached.
const DefaultOriginURL = "http://localhost:8501"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	Origin  OriginConfig
	Cache   CacheConfig
	Storage StorageConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	AdminKey      string // bearer key for /_cache inspection routes; empty disables auth
	BodySizeLimit int64
}

// OriginConfig holds the network fetch configuration
type OriginConfig struct {
	URL                   string
	Timeout               time.Duration // 0 means no limit
	ResponseHeaderTimeout time.Duration
}

// CacheConfig holds the activation constants and the cache backend selection
type CacheConfig struct {
	Namespace           string
	Assets              []string
	ManifestPath        string
	Backend             string
	FilePath            string
	PrecacheConcurrency int
	RedisURL            string
	RedisKeyPrefix      string
}

// StorageConfig holds the database connection settings for durable backends
type StorageConfig struct {
	SQLitePath       string
	PostgresURL      string
	PostgresMaxConns int
	MongoURL         string
	MongoDatabase    string
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// LogConfig holds slog handler settings
type LogConfig struct {
	Format string
	Level  string
}

// Load reads configuration from an optional .env file and the environment.
// Real environment variables take precedence over .env values.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with explicit dotenv file paths. Missing files are skipped.
func LoadFrom(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	setDefaults()
	viper.AutomaticEnv()

	bodySizeLimit, err := ParseBodySizeLimit(viper.GetString("BODY_SIZE_LIMIT"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          viper.GetString("PORT"),
			AdminKey:      viper.GetString("ADMIN_KEY"),
			BodySizeLimit: bodySizeLimit,
		},
		Origin: OriginConfig{
			URL:                   viper.GetString("ORIGIN_URL"),
			Timeout:               httpclient.ParseDuration(viper.GetString("HTTP_TIMEOUT"), 0),
			ResponseHeaderTimeout: httpclient.ParseDuration(viper.GetString("HTTP_RESPONSE_HEADER_TIMEOUT"), 60*time.Second),
		},
		Cache: CacheConfig{
			ManifestPath:        viper.GetString("CACHE_MANIFEST"),
			Backend:             strings.ToLower(viper.GetString("CACHE_BACKEND")),
			FilePath:            viper.GetString("CACHE_FILE_PATH"),
			PrecacheConcurrency: viper.GetInt("PRECACHE_CONCURRENCY"),
			RedisURL:            viper.GetString("REDIS_URL"),
			RedisKeyPrefix:      viper.GetString("REDIS_KEY_PREFIX"),
		},
		Storage: StorageConfig{
			SQLitePath:       viper.GetString("SQLITE_PATH"),
			PostgresURL:      viper.GetString("POSTGRES_URL"),
			PostgresMaxConns: viper.GetInt("POSTGRES_MAX_CONNS"),
			MongoURL:         viper.GetString("MONGODB_URL"),
			MongoDatabase:    viper.GetString("MONGODB_DATABASE"),
		},
		Metrics: MetricsConfig{
			Enabled:  viper.GetBool("METRICS_ENABLED"),
			Endpoint: viper.GetString("METRICS_ENDPOINT"),
		},
		Log: LogConfig{
			Format: viper.GetString("LOG_FORMAT"),
			Level:  viper.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.resolveManifest(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ORIGIN_URL", DefaultOriginURL)
	viper.SetDefault("CACHE_BACKEND", cache.BackendMemory)
	viper.SetDefault("CACHE_FILE_PATH", cache.DefaultFilePath)
	viper.SetDefault("PRECACHE_CONCURRENCY", shim.DefaultConcurrency)
	viper.SetDefault("REDIS_KEY_PREFIX", cache.DefaultRedisKeyPrefix)
	viper.SetDefault("POSTGRES_MAX_CONNS", 10)
	viper.SetDefault("MONGODB_DATABASE", "offlinecache")
	viper.SetDefault("METRICS_ENABLED", false)
	viper.SetDefault("METRICS_ENDPOINT", "/metrics")
	viper.SetDefault("LOG_FORMAT", logging.FormatAuto)
	viper.SetDefault("LOG_LEVEL", "info")
}

// resolveManifest fills the namespace and asset list: the built-in defaults,
// replaced by CACHE_MANIFEST when set, then by CACHE_NAMESPACE / CACHE_ASSETS.
func (c *Config) resolveManifest() error {
	m := assets.Default()
	if c.Cache.ManifestPath != "" {
		loaded, err := assets.Load(c.Cache.ManifestPath)
		if err != nil {
			return err
		}
		m = loaded
	}
	if ns := strings.TrimSpace(viper.GetString("CACHE_NAMESPACE")); ns != "" {
		m.Namespace = ns
	}
	if list := assets.SplitList(viper.GetString("CACHE_ASSETS")); len(list) > 0 {
		m.Assets = list
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid asset list: %w", err)
	}
	c.Cache.Namespace = m.Namespace
	c.Cache.Assets = m.Assets
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid ORIGIN_URL %q: must be an absolute http(s) URL", c.Origin.URL)
	}

	switch c.Cache.Backend {
	case cache.BackendMemory, cache.BackendFile, cache.BackendSQLite:
	case cache.BackendPostgreSQL:
		if c.Storage.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required for the postgresql cache backend")
		}
	case cache.BackendMongoDB:
		if c.Storage.MongoURL == "" {
			return errors.New("MONGODB_URL is required for the mongodb cache backend")
		}
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.Cache.Backend)
	}

	if c.Cache.PrecacheConcurrency < 1 {
		return fmt.Errorf("PRECACHE_CONCURRENCY must be at least 1, got %d", c.Cache.PrecacheConcurrency)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		return fmt.Errorf("METRICS_ENDPOINT must start with '/', got %q", c.Metrics.Endpoint)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// CacheBackendConfig maps the settings onto the cache factory's config.
func (c *Config) CacheBackendConfig() cache.Config {
	out := cache.Config{
		Backend:  c.Cache.Backend,
		FilePath: c.Cache.FilePath,
		Redis: cache.RedisConfig{
			URL:       c.Cache.RedisURL,
			KeyPrefix: c.Cache.RedisKeyPrefix,
		},
	}
	out.Storage.SQLite.Path = c.Storage.SQLitePath
	out.Storage.PostgreSQL.URL = c.Storage.PostgresURL
	out.Storage.PostgreSQL.MaxConns = c.Storage.PostgresMaxConns
	out.Storage.MongoDB.URL = c.Storage.MongoURL
	out.Storage.MongoDB.Database = c.Storage.MongoDatabase
	return out
}

var bodySizeRe = regexp.MustCompile(`^(\d+)([KMG])?B?$`)

// ParseBodySizeLimit parses sizes like "10M", "500KB" or "1048576" into bytes.
// Empty means DefaultBodySizeLimit. The result must lie within 1KB..100MB.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultBodySizeLimit, nil
	}

	m := bodySizeRe.FindStringSubmatch(s)
	if m == nil || (m[2] == "" && strings.HasSuffix(s, "B")) {
		return 0, fmt.Errorf("invalid BODY_SIZE_LIMIT %q: expected a number with optional K, M or G suffix", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid BODY_SIZE_LIMIT %q: %w", s, err)
	}
	switch m[2] {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	case "G":
		n *= 1024 * 1024 * 1024
	}

	if n < MinBodySizeLimit || n > MaxBodySizeLimit {
		return 0, fmt.Errorf("BODY_SIZE_LIMIT %q out of range (1K to 100M)", s)
	}
	return n, nil
}

package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Collector CollectorConfig `mapstructure:"collector"`
	Bundle    BundleConfig    `mapstructure:"bundle"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scaling   ScalingConfig   `mapstructure:"scaling"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Debug     bool            `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	BodyLimit      int           `mapstructure:"body_limit"`
	TrustedOrigins []string      `mapstructure:"trusted_origins"` // extra origins accepted by the collector besides the request host
	StaticPrefix   string        `mapstructure:"static_prefix"`   // URL prefix of the static directory, served directly for the local provider
	CORSOrigins    string        `mapstructure:"cors_origins"`    // origins allowed to read the bundle listing
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
}

// RewriteRule is a literal substring replacement applied to dependency paths and ids
type RewriteRule struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// CollectorConfig controls the dependency collection endpoint
type CollectorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Store        string        `mapstructure:"store"` // postgres or memory
	Path         string        `mapstructure:"path"`
	ScriptPath   string        `mapstructure:"script_path"`
	SkipMarkers  []string      `mapstructure:"skip_markers"`
	PathRewrites []RewriteRule `mapstructure:"path_rewrites"`
	PluginAlias  RewriteRule   `mapstructure:"plugin_alias"`
	IDRewrites   []RewriteRule `mapstructure:"id_rewrites"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	SendDelay    time.Duration `mapstructure:"send_delay"`
}

// ShimConfig describes a non-AMD script known to the loader
type ShimConfig struct {
	Module  string   `mapstructure:"module"`
	Deps    []string `mapstructure:"deps"`
	Exports string   `mapstructure:"exports"`
}

// BundleConfig controls the bundle build pass
type BundleConfig struct {
	Mode             string                `mapstructure:"mode"` // production or developer
	Area             string                `mapstructure:"area"`
	Theme            string                `mapstructure:"theme"`
	Locale           string                `mapstructure:"locale"`
	AdminArea        string                `mapstructure:"admin_area"`
	Dir              string                `mapstructure:"dir"`
	MaxSizeKB        int                   `mapstructure:"max_size_kb"`
	MaxSizeOverrides map[string]int        `mapstructure:"max_size_overrides"` // keyed by "area/theme", case-insensitive
	ContentPools     map[string]string     `mapstructure:"content_pools"`
	Minify           bool                  `mapstructure:"minify"`
	ExemptModules    []string              `mapstructure:"exempt_modules"`
	Shims            []ShimConfig          `mapstructure:"shims"`
	Exclude          []string              `mapstructure:"exclude"` // asset paths never bundled, relative to the locale root
	Validate         bool                  `mapstructure:"validate"`
	Parallelism      int                   `mapstructure:"parallelism"`
	SourceCacheSize  int                   `mapstructure:"source_cache_size"`
	Schedule         string                `mapstructure:"schedule"` // cron expression, empty disables
}

// StorageConfig contains static asset storage settings
type StorageConfig struct {
	Provider    string `mapstructure:"provider"` // local or s3
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

// ScalingConfig selects the shared-state backend for multi-instance deployments
type ScalingConfig struct {
	Backend  string `mapstructure:"backend"` // local, postgres or redis
	RedisURL string `mapstructure:"redis_url"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file, falling back to the
// default search paths when file is empty.
func LoadFile(file string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("pagepack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pagepack")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("PAGEPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.body_limit", 1024*1024) // 1MB
	v.SetDefault("server.trusted_origins", []string{})
	v.SetDefault("server.static_prefix", "/static")
	v.SetDefault("server.cors_origins", "*")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "pagepack")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")

	// Collector defaults
	v.SetDefault("collector.enabled", true)
	v.SetDefault("collector.store", "postgres")
	v.SetDefault("collector.path", "/performance/retrieve/dependency")
	v.SetDefault("collector.script_path", "/js/retrieve-dependency.js")
	v.SetDefault("collector.skip_markers", []string{"js/bundle/"})
	v.SetDefault("collector.path_rewrites", []map[string]string{
		{"from": ".min.js", "to": ".js"},
		{"from": "jquery/jquery.storageapi", "to": "jquery/jquery.storageapi.min"},
		{"from": "ui/template", "to": "Magento_Ui/templates"},
	})
	v.SetDefault("collector.plugin_alias", map[string]string{"from": "text", "to": "mage/requirejs/text"})
	v.SetDefault("collector.id_rewrites", []map[string]string{
		{"from": "jquery/ui-modules", "to": "jquery-ui-modules"},
	})
	v.SetDefault("collector.rate_limit", 30)
	v.SetDefault("collector.rate_window", "1m")
	v.SetDefault("collector.send_delay", "5s")

	// Bundle defaults
	v.SetDefault("bundle.mode", "production")
	v.SetDefault("bundle.area", "frontend")
	v.SetDefault("bundle.theme", "Magento/luma")
	v.SetDefault("bundle.locale", "en_US")
	v.SetDefault("bundle.admin_area", "admin")
	v.SetDefault("bundle.dir", "js/bundle")
	v.SetDefault("bundle.max_size_kb", 1024)
	v.SetDefault("bundle.max_size_overrides", map[string]int{})
	v.SetDefault("bundle.content_pools", map[string]string{})
	v.SetDefault("bundle.minify", false)
	v.SetDefault("bundle.exempt_modules", []string{"jquery", "underscore"})
	v.SetDefault("bundle.shims", []map[string]interface{}{})
	v.SetDefault("bundle.exclude", []string{
		"requirejs/require.js",
		"requirejs-config.js",
		"requirejs-min-resolver.js",
		"mage/requirejs/static.js",
	})
	v.SetDefault("bundle.validate", true)
	v.SetDefault("bundle.parallelism", 4)
	v.SetDefault("bundle.source_cache_size", 8192)
	v.SetDefault("bundle.schedule", "")

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_path", "./pub/static")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)

	// Scaling defaults
	v.SetDefault("scaling.backend", "local")
	v.SetDefault("scaling.redis_url", "")

	// Observability defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "pagepack")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}

	if c.Database.MaxConnections < c.Database.MinConnections {
		return fmt.Errorf("max_connections must be greater than or equal to min_connections")
	}

	if c.Collector.Store != "postgres" && c.Collector.Store != "memory" {
		return fmt.Errorf("collector store must be 'postgres' or 'memory'")
	}

	if err := c.Bundle.validate(); err != nil {
		return fmt.Errorf("bundle configuration error: %w", err)
	}

	if c.Storage.Provider != "local" && c.Storage.Provider != "s3" {
		return fmt.Errorf("storage provider must be 'local' or 's3'")
	}

	if c.Storage.Provider == "s3" {
		if c.Storage.S3Endpoint == "" || c.Storage.S3AccessKey == "" ||
			c.Storage.S3SecretKey == "" || c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	}

	switch c.Scaling.Backend {
	case "local", "postgres":
	case "redis":
		if c.Scaling.RedisURL == "" {
			return fmt.Errorf("scaling.redis_url is required when backend is 'redis'")
		}
	default:
		return fmt.Errorf("scaling backend must be 'local', 'postgres' or 'redis'")
	}

	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive")
	}
	if sc.StaticPrefix != "" && !strings.HasPrefix(sc.StaticPrefix, "/") {
		return fmt.Errorf("static_prefix must start with '/'")
	}
	return nil
}

// validate validates bundle configuration
func (bc *BundleConfig) validate() error {
	if bc.Mode != "production" && bc.Mode != "developer" {
		return fmt.Errorf("mode must be 'production' or 'developer', got %q", bc.Mode)
	}
	if bc.Area == "" || bc.Theme == "" || bc.Locale == "" {
		return fmt.Errorf("area, theme and locale are required")
	}
	if bc.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	if bc.MaxSizeKB <= 0 {
		return fmt.Errorf("max_size_kb must be positive")
	}
	for key, size := range bc.MaxSizeOverrides {
		if size <= 0 {
			return fmt.Errorf("max_size_overrides[%s] must be positive", key)
		}
	}
	if bc.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	return nil
}

// IsProduction reports whether bundles are served in production mode
func (bc *BundleConfig) IsProduction() bool {
	return bc.Mode == "production"
}

// Root returns the static directory of the deployed package (area/theme/locale)
func (bc *BundleConfig) Root() string {
	return path.Join(bc.Area, bc.Theme, bc.Locale)
}

// BundlePath returns the directory bundles are written to
func (bc *BundleConfig) BundlePath() string {
	return path.Join(bc.Root(), bc.Dir)
}

// IsAdmin reports whether the configured area is the admin area
func (bc *BundleConfig) IsAdmin() bool {
	return bc.Area == bc.AdminArea
}

// NeedsDatabase reports whether any configured component stores state in PostgreSQL
func (c *Config) NeedsDatabase() bool {
	return c.Collector.Store == "postgres" || c.Scaling.Backend == "postgres"
}

// ConnectionString returns the PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// MigrationURL returns the golang-migrate URL for the pgx v5 driver
func (dc *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s&x-migrations-table=pagepack_schema_migrations",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

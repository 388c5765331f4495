// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Threshold ThresholdConfig `mapstructure:"threshold"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SpatiaLite SpatiaLiteConfig `mapstructure:"spatialite"`
}

// ServerConfig holds the optional debug/introspection HTTP server
// configuration (spec §1 treats the GIS host itself as out of scope; this
// surface is a read-only operational endpoint, not a re-implementation of
// the host).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration for the debug HTTP surface.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// StorageConfig configures where the BackendCapabilityManifest (which
// backends/extensions are available — C4's "ensure backend capability"
// check) and threshold-config bundle are loaded from.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// PostgresConfig configures the PostgreSQL/PostGIS driving connection used
// by C5's PostgreSQL builder and C8's MV manager.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SpatiaLiteConfig configures the SpatiaLite/GeoPackage driving connection
// used by C5's SpatiaLite builder and C8's MV manager. Empty Path disables
// the SpatiaLite backend entirely — it has no fixed default, since it names
// a specific project file the host controls.
type SpatiaLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ThresholdConfig holds the environment-overridable thresholds from spec §6.
type ThresholdConfig struct {
	SourceFIDMVThreshold        int           `mapstructure:"source_fid_mv_threshold"`
	FIDRangeThreshold           int           `mapstructure:"fid_range_threshold"`
	MaxInlineFIDs               int           `mapstructure:"max_inline_fids"`
	MaxWKTLength                int           `mapstructure:"max_wkt_length"`
	WKTPrecisionGeographic      int           `mapstructure:"wkt_precision_geographic"`
	WKTPrecisionProjected       int           `mapstructure:"wkt_precision_projected"`
	LongQueryWarningMS          int           `mapstructure:"long_query_warning_ms"`
	VeryLongQueryWarningMS      int           `mapstructure:"very_long_query_warning_ms"`
	MaxFeaturesForUpdateExtents int           `mapstructure:"max_features_for_update_extents"`
	ParallelMinLayers           int           `mapstructure:"parallel_min_layers"`
	OrphanMVMaxAge              time.Duration `mapstructure:"orphan_mv_max_age"`
	ExpressionCacheSize         int           `mapstructure:"expression_cache_size"`
	GeometryCacheSize           int           `mapstructure:"geometry_cache_size"`
	OptimizerResultCacheSize    int           `mapstructure:"optimizer_result_cache_size"`
}

// TLSConfig holds TLS/CertMagic configuration for the debug HTTP surface.
type TLSConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Domains  []string `mapstructure:"domains"`
	Email    string   `mapstructure:"email"`
	CacheDir string   `mapstructure:"cache_dir"`
	Staging  bool     `mapstructure:"staging"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values, including every threshold
// named in spec §6.
func Defaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./config")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	viper.SetDefault("threshold.source_fid_mv_threshold", 50)
	viper.SetDefault("threshold.fid_range_threshold", 20)
	viper.SetDefault("threshold.max_inline_fids", 30)
	viper.SetDefault("threshold.max_wkt_length", 100000)
	viper.SetDefault("threshold.wkt_precision_geographic", 8)
	viper.SetDefault("threshold.wkt_precision_projected", 3)
	viper.SetDefault("threshold.long_query_warning_ms", 10000)
	viper.SetDefault("threshold.very_long_query_warning_ms", 30000)
	viper.SetDefault("threshold.max_features_for_update_extents", 50000)
	viper.SetDefault("threshold.parallel_min_layers", 2)
	viper.SetDefault("threshold.orphan_mv_max_age", 24*time.Hour)
	viper.SetDefault("threshold.expression_cache_size", 50)
	viper.SetDefault("threshold.geometry_cache_size", 50)
	viper.SetDefault("threshold.optimizer_result_cache_size", 50)

	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("postgres.max_conns", 10)
	viper.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix("FILTERGEIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/filtergeist")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	if c.Threshold.SourceFIDMVThreshold < 1 {
		return fmt.Errorf("source_fid_mv_threshold must be positive")
	}
	if c.Threshold.MaxWKTLength < 1 {
		return fmt.Errorf("max_wkt_length must be positive")
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

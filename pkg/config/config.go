package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// ALLUREBOARD_STORAGE_S3_BUCKET overrides storage.s3.bucket.
	EnvPrefix = "ALLUREBOARD"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultStoragePrefix is the key prefix under which run folders live.
	DefaultStoragePrefix = "reports"

	// DefaultResultSuffix identifies per-test result files.
	DefaultResultSuffix = "-result.json"

	// DefaultConcurrency is the number of runs summarized in parallel.
	DefaultConcurrency = 4

	// DefaultCacheTTL is the staleness window of the report cache.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultTokenTTL is the lifetime of issued bearer tokens.
	DefaultTokenTTL = 24 * time.Hour

	// DefaultRegion is used when no S3 region is configured.
	DefaultRegion = "us-east-1"
)

// ErrMissingCredentials is returned when S3 storage is enabled but no
// credentials were supplied explicitly, in the config file or through the
// environment.
var ErrMissingCredentials = errors.New("storage credentials not configured")

// Config is the root configuration for allureboard.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Reports ReportsConfig `yaml:"reports" mapstructure:"reports"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// StorageConfig selects the backend holding the report bundles. Only one
// backend (S3 or local) may be enabled at a time.
type StorageConfig struct {
	Prefix string             `yaml:"prefix" mapstructure:"prefix"`
	S3     S3Config           `yaml:"s3" mapstructure:"s3"`
	Local  LocalStorageConfig `yaml:"local" mapstructure:"local"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// S3Credentials is a static access key pair.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// LocalStorageConfig serves report bundles from a directory on disk. The
// directory mirrors the bucket layout: {root}/{prefix}/{runId}/...
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Root    string `yaml:"root" mapstructure:"root"`
}

// ReportsConfig tunes report aggregation.
type ReportsConfig struct {
	ResultSuffix string        `yaml:"result_suffix" mapstructure:"result_suffix"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// LegacyTimeBounds substitutes the current time for records missing a
	// start or stop timestamp instead of excluding them from time bounds.
	LegacyTimeBounds bool `yaml:"legacy_time_bounds" mapstructure:"legacy_time_bounds"`
}

// Load reads the given YAML files (later files are merged over earlier
// ones), applies ALLUREBOARD_* environment overrides and defaults. With no
// paths the configuration comes from defaults and the environment alone.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for i, p := range paths {
		v.SetConfigFile(p)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", p, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key with viper so that AutomaticEnv can
// override keys that are absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("storage.prefix", DefaultStoragePrefix)
	v.SetDefault("storage.s3.enabled", false)
	v.SetDefault("storage.s3.endpoint_url", "")
	v.SetDefault("storage.s3.region", DefaultRegion)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.storage_class", "")
	v.SetDefault("storage.s3.acl", "")
	v.SetDefault("storage.local.enabled", false)
	v.SetDefault("storage.local.root", "")

	v.SetDefault("reports.result_suffix", DefaultResultSuffix)
	v.SetDefault("reports.concurrency", DefaultConcurrency)
	v.SetDefault("reports.cache_ttl", DefaultCacheTTL)
	v.SetDefault("reports.legacy_time_bounds", false)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.login.requests_per_minute", 10)
	v.SetDefault("api.auth.email", "")
	v.SetDefault("api.auth.password", "")
	v.SetDefault("api.auth.password_hash", "")
	v.SetDefault("api.auth.jwt_secret", "")
	v.SetDefault("api.auth.token_ttl", DefaultTokenTTL)
	v.SetDefault("api.auth.anonymous_read", false)
	v.SetDefault("api.indexing.enabled", false)
	v.SetDefault("api.indexing.interval", DefaultIndexingInterval)
	v.SetDefault("api.indexing.concurrency", DefaultConcurrency)
	v.SetDefault("api.indexing.database.driver", "sqlite")
	v.SetDefault("api.indexing.database.sqlite.path", "allureboard.db")
}

// applyDefaults fills zero values that survived unmarshalling, e.g. keys
// explicitly set to empty in a config file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Storage.Prefix == "" {
		c.Storage.Prefix = DefaultStoragePrefix
	}

	c.Storage.Prefix = strings.Trim(c.Storage.Prefix, "/")

	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = DefaultRegion
	}

	if c.Reports.ResultSuffix == "" {
		c.Reports.ResultSuffix = DefaultResultSuffix
	}

	if c.Reports.Concurrency <= 0 {
		c.Reports.Concurrency = DefaultConcurrency
	}

	if c.Reports.CacheTTL <= 0 {
		c.Reports.CacheTTL = DefaultCacheTTL
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Auth.TokenTTL <= 0 {
		c.API.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.API.Indexing.Interval <= 0 {
		c.API.Indexing.Interval = DefaultIndexingInterval
	}

	if c.API.Indexing.Concurrency <= 0 {
		c.API.Indexing.Concurrency = DefaultConcurrency
	}
}

// Validate checks the storage and reports configuration.
func (c *Config) Validate() error {
	if c.Storage.S3.Enabled && c.Storage.Local.Enabled {
		return fmt.Errorf("only one storage backend (s3 or local) may be enabled")
	}

	switch {
	case c.Storage.S3.Enabled:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}

		if _, err := c.Storage.S3.ResolveCredentials(nil); err != nil {
			return fmt.Errorf("storage.s3: %w", err)
		}
	case c.Storage.Local.Enabled:
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root is required")
		}
	default:
		return fmt.Errorf("no storage backend enabled (storage.s3 or storage.local)")
	}

	if !strings.HasSuffix(c.Reports.ResultSuffix, ".json") {
		return fmt.Errorf(
			"reports.result_suffix %q must end in .json", c.Reports.ResultSuffix,
		)
	}

	return nil
}

// ResolveCredentials applies the credential precedence: an explicit pair
// (e.g. from CLI flags) wins, then the configured pair (file or
// environment), otherwise ErrMissingCredentials. Half-filled pairs are
// rejected rather than merged.
func (c *S3Config) ResolveCredentials(explicit *S3Credentials) (S3Credentials, error) {
	if explicit != nil &&
		(explicit.AccessKeyID != "" || explicit.SecretAccessKey != "") {
		if explicit.AccessKeyID == "" || explicit.SecretAccessKey == "" {
			return S3Credentials{}, fmt.Errorf(
				"explicit credentials need both access key id and secret",
			)
		}

		return *explicit, nil
	}

	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		return S3Credentials{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
		}, nil
	}

	if c.AccessKeyID != "" || c.SecretAccessKey != "" {
		return S3Credentials{}, fmt.Errorf(
			"%w: access_key_id and secret_access_key must both be set",
			ErrMissingCredentials,
		)
	}

	return S3Credentials{}, ErrMissingCredentials
}

// Redacted returns a copy of the config with secrets masked, suitable for
// printing.
func (c *Config) Redacted() *Config {
	out := *c

	mask := func(s string) string {
		if s == "" {
			return ""
		}

		return "REDACTED"
	}

	out.Storage.S3.SecretAccessKey = mask(c.Storage.S3.SecretAccessKey)
	out.API.Auth.Password = mask(c.API.Auth.Password)
	out.API.Auth.PasswordHash = mask(c.API.Auth.PasswordHash)
	out.API.Auth.JWTSecret = mask(c.API.Auth.JWTSecret)
	out.API.Indexing.Database.Postgres.Password = mask(
		c.API.Indexing.Database.Postgres.Password,
	)

	if len(c.API.Server.CORSOrigins) > 0 {
		out.API.Server.CORSOrigins = append(
			[]string(nil), c.API.Server.CORSOrigins...,
		)
	}

	if len(c.API.Server.TrustedProxies) > 0 {
		out.API.Server.TrustedProxies = append(
			[]string(nil), c.API.Server.TrustedProxies...,
		)
	}

	return &out
}

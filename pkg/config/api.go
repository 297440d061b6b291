package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// DefaultIndexingInterval is the pause between two indexing passes.
const DefaultIndexingInterval = 60 * time.Second

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig     `yaml:"auth" mapstructure:"auth"`
	Indexing APIIndexingConfig `yaml:"indexing" mapstructure:"indexing"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For header is honored. Empty means the header is ignored.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty" mapstructure:"trusted_proxies"`
}

// ParseTrustedProxies parses IP addresses and CIDR ranges into prefixes. A
// bare address becomes a single-host prefix.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}

			prefixes = append(prefixes, prefix.Masked())

			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}

		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

// RateLimitConfig configures per-IP rate limiting of the login endpoint.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Login   RateLimitTier `yaml:"login,omitempty" mapstructure:"login"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig configures the single dashboard account and token signing.
// Either Password or PasswordHash (bcrypt) must be set.
type APIAuthConfig struct {
	Email         string        `yaml:"email" mapstructure:"email"`
	Password      string        `yaml:"password,omitempty" mapstructure:"password"`
	PasswordHash  string        `yaml:"password_hash,omitempty" mapstructure:"password_hash"`
	JWTSecret     string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	AnonymousRead bool          `yaml:"anonymous_read" mapstructure:"anonymous_read"`
}

// APIIndexingConfig configures the background indexer that keeps run
// summaries in a database so the report list is served without a scan.
type APIIndexingConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration     `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int               `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	Database    APIDatabaseConfig `yaml:"database" mapstructure:"database"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ValidateAPI checks the settings needed to run the API server, on top of
// Validate.
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}

	auth := c.API.Auth

	if auth.Email == "" {
		return fmt.Errorf("api.auth.email is required")
	}

	if auth.Password == "" && auth.PasswordHash == "" {
		return fmt.Errorf("api.auth.password or api.auth.password_hash is required")
	}

	if len(auth.JWTSecret) < 32 {
		return fmt.Errorf("api.auth.jwt_secret must be at least 32 characters")
	}

	if c.API.Server.RateLimit.Enabled &&
		c.API.Server.RateLimit.Login.RequestsPerMinute <= 0 {
		return fmt.Errorf(
			"api.server.rate_limit.login.requests_per_minute must be positive",
		)
	}

	if _, err := ParseTrustedProxies(c.API.Server.TrustedProxies); err != nil {
		return fmt.Errorf("api.server.trusted_proxies: %w", err)
	}

	if c.API.Indexing.Enabled {
		switch c.API.Indexing.Database.Driver {
		case "sqlite":
			if c.API.Indexing.Database.SQLite.Path == "" {
				return fmt.Errorf("api.indexing.database.sqlite.path is required")
			}
		case "postgres":
			if c.API.Indexing.Database.Postgres.Host == "" {
				return fmt.Errorf("api.indexing.database.postgres.host is required")
			}
		default:
			return fmt.Errorf(
				"unsupported api.indexing.database.driver %q",
				c.API.Indexing.Database.Driver,
			)
		}
	}

	return nil
}

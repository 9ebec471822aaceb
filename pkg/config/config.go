// Package config loads registry configuration from an optional YAML file and
// 12-factor environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
	DataDir   string `yaml:"data_dir"`
	// DatabaseURL selects postgres; empty means lite mode on an embedded sqlite file.
	DatabaseURL    string `yaml:"database_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	Artifacts     ArtifactConfig `yaml:"artifacts"`
	Ledger        LedgerConfig   `yaml:"ledger"`
	Timeouts      TimeoutConfig  `yaml:"timeouts"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	Auth          AuthConfig     `yaml:"auth"`
	RateLimit     RateConfig     `yaml:"rate_limit"`
	Observability OTelConfig     `yaml:"observability"`
}

type ArtifactConfig struct {
	Backend   string `yaml:"backend"` // fs | s3 | gcs | minio
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LedgerConfig struct {
	Backend string `yaml:"backend"` // memory | sql | badger | redis | remote
	// Addr is the redis address or the remote ledger gateway URL.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	RedisDB  int    `yaml:"redis_db"`
	// Token authenticates against (or, for ledger-node, protects) the gateway.
	Token   string `yaml:"token"`
	NodeID  string `yaml:"node_id"`
	KeyPath string `yaml:"key_path"`
}

type TimeoutConfig struct {
	Artifact time.Duration `yaml:"artifact"`
	Ledger   time.Duration `yaml:"ledger"`
	Index    time.Duration `yaml:"index"`
	Notify   time.Duration `yaml:"notify"`
	Shutdown time.Duration `yaml:"shutdown"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	Issuer      string   `yaml:"issuer"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type RateConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "INFO",
		LogFormat:      "json",
		DataDir:        "data",
		MaxUploadBytes: 512 << 20,
		Artifacts:      ArtifactConfig{Backend: "fs"},
		Ledger:         LedgerConfig{Backend: "sql", NodeID: "relreg-ledger"},
		Timeouts: TimeoutConfig{
			Artifact: 30 * time.Second,
			Ledger:   10 * time.Second,
			Index:    5 * time.Second,
			Notify:   10 * time.Second,
			Shutdown: 15 * time.Second,
		},
		SMTP:          SMTPConfig{Port: 587},
		Auth:          AuthConfig{Issuer: "relreg"},
		RateLimit:     RateConfig{RPS: 50, Burst: 100},
		Observability: OTelConfig{Endpoint: "localhost:4317", Environment: "development"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// RELREG_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("RELREG_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DATA_DIR", &c.DataDir)
	str("DATABASE_URL", &c.DatabaseURL)
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err))
		} else {
			c.MaxUploadBytes = n
		}
	}

	str("ARTIFACT_BACKEND", &c.Artifacts.Backend)
	str("ARTIFACT_BUCKET", &c.Artifacts.Bucket)
	str("ARTIFACT_PREFIX", &c.Artifacts.Prefix)
	str("ARTIFACT_REGION", &c.Artifacts.Region)
	str("ARTIFACT_ENDPOINT", &c.Artifacts.Endpoint)
	str("ARTIFACT_ACCESS_KEY", &c.Artifacts.AccessKey)
	str("ARTIFACT_SECRET_KEY", &c.Artifacts.SecretKey)
	boolean("ARTIFACT_USE_SSL", &c.Artifacts.UseSSL)

	str("LEDGER_BACKEND", &c.Ledger.Backend)
	str("LEDGER_ADDR", &c.Ledger.Addr)
	str("LEDGER_PASSWORD", &c.Ledger.Password)
	integer("LEDGER_REDIS_DB", &c.Ledger.RedisDB)
	str("LEDGER_TOKEN", &c.Ledger.Token)
	str("LEDGER_NODE_ID", &c.Ledger.NodeID)
	str("LEDGER_KEY_PATH", &c.Ledger.KeyPath)

	duration("ARTIFACT_TIMEOUT", &c.Timeouts.Artifact)
	duration("LEDGER_TIMEOUT", &c.Timeouts.Ledger)
	duration("INDEX_TIMEOUT", &c.Timeouts.Index)
	duration("NOTIFY_TIMEOUT", &c.Timeouts.Notify)
	duration("SHUTDOWN_TIMEOUT", &c.Timeouts.Shutdown)

	str("SMTP_HOST", &c.SMTP.Host)
	integer("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	str("SMTP_FROM", &c.SMTP.From)

	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_ISSUER", &c.Auth.Issuer)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Auth.CORSOrigins = splitList(v)
	}

	integer("RATE_LIMIT_RPS", &c.RateLimit.RPS)
	integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	boolean("OTEL_ENABLED", &c.Observability.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Observability.Endpoint)
	boolean("OTEL_EXPORTER_OTLP_INSECURE", &c.Observability.Insecure)
	str("RELREG_ENV", &c.Observability.Environment)

	return errors.Join(errs...)
}

var (
	artifactBackends = []string{"fs", "s3", "gcs", "minio"}
	ledgerBackends   = []string{"memory", "sql", "badger", "redis", "remote"}
)

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if !contains(artifactBackends, c.Artifacts.Backend) {
		errs = append(errs, fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend))
	}
	if !contains(ledgerBackends, c.Ledger.Backend) {
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	if (c.Ledger.Backend == "redis" || c.Ledger.Backend == "remote") && c.Ledger.Addr == "" {
		errs = append(errs, fmt.Errorf("ledger backend %q requires LEDGER_ADDR", c.Ledger.Backend))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// Lite reports whether the server runs on embedded storage only.
func (c *Config) Lite() bool {
	return c.DatabaseURL == ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds everything the IVR processes need. Values come from the
// environment only; no other package reads env vars directly.
type Config struct {
	App      AppConfig
	Sessions SessionConfig
	Policies PolicyConfig
	Journal  JournalConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Carrier  CarrierConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is the externally visible origin used for signature checks and callback URLs.
	PublicBaseURL  string
	WebhookTimeout time.Duration
}

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"

	PolicySourceBuiltin  = "builtin"
	PolicySourceFile     = "file"
	PolicySourcePostgres = "postgres"

	JournalStoreMemory   = "memory"
	JournalStorePostgres = "postgres"
)

type SessionConfig struct {
	Store        string
	Retention    time.Duration
	ReapInterval time.Duration
}

type PolicyConfig struct {
	Source string
	File   string
}

type JournalConfig struct {
	Store string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// CarrierConfig enables webhook authentication per carrier; empty disables the check.
type CarrierConfig struct {
	TwilioAuthToken string
	TelnyxPublicKey string
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var e envReader
	c := Config{
		App: AppConfig{
			Env:            e.str("APP_ENV"),
			Port:           e.integer("APP_PORT", 0),
			PublicBaseURL:  strings.TrimRight(e.str("PUBLIC_BASE_URL"), "/"),
			WebhookTimeout: e.duration("WEBHOOK_TIMEOUT"),
		},
		Sessions: SessionConfig{
			Store:        e.lower("SESSION_STORE"),
			Retention:    e.duration("SESSION_RETENTION"),
			ReapInterval: e.duration("SESSION_REAP_INTERVAL"),
		},
		Policies: PolicyConfig{Source: e.lower("POLICY_SOURCE"), File: e.str("POLICY_FILE")},
		Journal:  JournalConfig{Store: e.lower("JOURNAL_STORE")},
		DB: DBConfig{
			Host:     e.str("DB_HOST"),
			Port:     e.integer("DB_PORT", 5432),
			User:     e.str("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     e.str("DB_NAME"),
			SSLMode:  e.str("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     e.str("REDIS_HOST"),
			Port:     e.integer("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       e.integer("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			JWTIssuer:       e.str("JWT_ISSUER"),
			JWTAudience:     e.str("JWT_AUDIENCE"),
			AccessTokenTTL:  e.duration("JWT_ACCESS_TTL"),
			RefreshTokenTTL: e.duration("JWT_REFRESH_TTL"),
		},
		Carrier: CarrierConfig{
			TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
			TelnyxPublicKey: e.str("TELNYX_PUBLIC_KEY"),
		},
	}
	if len(e.errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(e.errs...))
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate fills defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.WebhookTimeout <= 0 {
		c.App.WebhookTimeout = 3 * time.Second
	}

	if c.Sessions.Store == "" {
		c.Sessions.Store = SessionStoreMemory
	}
	switch c.Sessions.Store {
	case SessionStoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("SESSION_STORE must be redis in production"))
		}
	case SessionStoreRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when SESSION_STORE=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.Sessions.Store))
	}
	if c.Sessions.Retention <= 0 {
		c.Sessions.Retention = time.Hour
	}
	if c.Sessions.ReapInterval <= 0 {
		c.Sessions.ReapInterval = time.Minute
	}

	if c.Policies.Source == "" {
		c.Policies.Source = PolicySourceBuiltin
	}
	switch c.Policies.Source {
	case PolicySourceBuiltin, PolicySourcePostgres:
	case PolicySourceFile:
		if c.Policies.File == "" {
			errs = append(errs, errors.New("POLICY_FILE is required when POLICY_SOURCE=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("POLICY_SOURCE must be builtin, file or postgres, got %q", c.Policies.Source))
	}

	if c.Journal.Store == "" {
		c.Journal.Store = JournalStoreMemory
	}
	if c.Journal.Store != JournalStoreMemory && c.Journal.Store != JournalStorePostgres {
		errs = append(errs, fmt.Errorf("JOURNAL_STORE must be memory or postgres, got %q", c.Journal.Store))
	}

	if c.NeedsPostgres() {
		errs = append(errs, c.validateDB()...)
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Carrier.TwilioAuthToken != "" && c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required when TWILIO_AUTH_TOKEN is set"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// local-friendly default; production must be explicit
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsPostgres reports whether any component is backed by Postgres.
func (c Config) NeedsPostgres() bool {
	return c.Policies.Source == PolicySourcePostgres || c.Journal.Store == JournalStorePostgres
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// envReader collects parse errors so Load can report them together.
type envReader struct {
	errs []error
}

func (e *envReader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (e *envReader) lower(key string) string {
	return strings.ToLower(e.str(key))
}

// integer returns def when key is unset.
func (e *envReader) integer(key string, def int) int {
	v := e.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

// duration returns 0 when key is unset; Validate applies defaults.
func (e *envReader) duration(key string) time.Duration {
	v := e.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration like 30s or 1h, got %q", key, v))
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

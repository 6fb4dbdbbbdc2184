package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	PrimaryDB   DBConfig
	ShadowDB    DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Replication ReplicationConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	// JWTSecret verifies tokens issued by the auth collaborator.
	// This service never issues tokens.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// IdentityCacheTTL bounds how long a resolved identity may be reused
	// without re-verifying the token.
	IdentityCacheTTL  time.Duration
	IdentityCacheSize int
}

type ReplicationConfig struct {
	// DispatchInterval is how often the outbox dispatcher polls for pending tasks.
	DispatchInterval time.Duration
	// BackfillInterval is how often the reconciliation job scans for stale shadow rows.
	BackfillInterval time.Duration
	BatchSize        int
	// ResyncLimit caps how many primary rows a single resync-after-bulk-update touches.
	ResyncLimit int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	var err error
	c.PrimaryDB, err = loadDB("PRIMARY_DB")
	if err != nil {
		parseErrs = append(parseErrs, err)
	}
	c.ShadowDB, err = loadDB("SHADOW_DB")
	if err != nil {
		parseErrs = append(parseErrs, err)
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.IdentityCacheTTL = optDuration("IDENTITY_CACHE_TTL")
	c.Auth.IdentityCacheSize = optInt("IDENTITY_CACHE_SIZE")

	c.Replication.DispatchInterval = optDuration("REPLICATION_DISPATCH_INTERVAL")
	c.Replication.BackfillInterval = optDuration("REPLICATION_BACKFILL_INTERVAL")
	c.Replication.BatchSize = optInt("REPLICATION_BATCH_SIZE")
	c.Replication.ResyncLimit = optInt("REPLICATION_RESYNC_LIMIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadDB(prefix string) (DBConfig, error) {
	d := DBConfig{}
	var errs []error

	d.Host = strings.TrimSpace(os.Getenv(prefix + "_HOST"))
	{
		n, err := mustInt(prefix + "_PORT")
		if err != nil {
			errs = append(errs, err)
		}
		d.Port = n
	}
	d.User = strings.TrimSpace(os.Getenv(prefix + "_USER"))
	d.Password = os.Getenv(prefix + "_PASSWORD")
	d.Name = strings.TrimSpace(os.Getenv(prefix + "_NAME"))
	d.SSLMode = strings.TrimSpace(os.Getenv(prefix + "_SSLMODE"))

	return d, joinErrors(errs)
}

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

	errs = append(errs, c.validateDB("PRIMARY_DB", &c.PrimaryDB)...)
	errs = append(errs, c.validateDB("SHADOW_DB", &c.ShadowDB)...)

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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
	if c.Auth.IdentityCacheTTL <= 0 {
		c.Auth.IdentityCacheTTL = 2 * time.Minute
	}
	if c.Auth.IdentityCacheSize <= 0 {
		c.Auth.IdentityCacheSize = 4096
	}

	if c.Replication.DispatchInterval <= 0 {
		c.Replication.DispatchInterval = 2 * time.Second
	}
	if c.Replication.BackfillInterval <= 0 {
		c.Replication.BackfillInterval = 5 * time.Minute
	}
	if c.Replication.BatchSize <= 0 {
		c.Replication.BatchSize = 500
	}
	if c.Replication.ResyncLimit <= 0 {
		c.Replication.ResyncLimit = 5000
	}

	return joinErrors(errs)
}

func (c *Config) validateDB(prefix string, d *DBConfig) []error {
	var errs []error

	if d.Host == "" {
		errs = append(errs, fmt.Errorf("%s_HOST is required", prefix))
	}
	if d.Port <= 0 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s_PORT must be a valid port, got %d", prefix, d.Port))
	}
	if d.User == "" {
		errs = append(errs, fmt.Errorf("%s_USER is required", prefix))
	}
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("%s_NAME is required", prefix))
	}
	if d.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, fmt.Errorf("%s_SSLMODE is required in production", prefix))
		} else {
			// Local-friendly default; production must be explicit.
			d.SSLMode = "disable"
		}
	}
	if d.SSLMode != "" && !isValidSSLMode(d.SSLMode) {
		errs = append(errs, fmt.Errorf("%s_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", prefix, d.SSLMode))
	}
	return errs
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// DSN formats a Postgres connection string. Avoid logging it; it contains secrets.
func (d DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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

func joinErrors(errs []error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range nonNil {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

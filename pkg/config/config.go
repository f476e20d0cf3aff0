package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Webhooks     WebhooksConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.resolveDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GENIE_APP_ENV" required:"true"`
	Port         string `envconfig:"GENIE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GENIE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"GENIE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"GENIE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated list of dashboard origins.
	CORSOrigins []string `envconfig:"GENIE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"GENIE_DB_DSN"`

	LegacyHost     string `envconfig:"GENIE_DB_HOST"`
	LegacyPort     int    `envconfig:"GENIE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GENIE_DB_USER"`
	LegacyPassword string `envconfig:"GENIE_DB_PASSWORD"`
	LegacyName     string `envconfig:"GENIE_DB_NAME"`
	LegacySSLMode  string `envconfig:"GENIE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"GENIE_SQLITE_PATH" default:"file:genie.db?cache=shared"`

	MaxOpenConns    int           `envconfig:"GENIE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GENIE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GENIE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GENIE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GENIE_REDIS_URL"`
	Address      string        `envconfig:"GENIE_REDIS_ADDR"`
	Password     string        `envconfig:"GENIE_REDIS_PASSWORD"`
	DB           int           `envconfig:"GENIE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GENIE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GENIE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GENIE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GENIE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GENIE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// JWTConfig describes the session tokens issued by the auth provider.
type JWTConfig struct {
	Secret string `envconfig:"GENIE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"GENIE_JWT_ISSUER"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GENIE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GENIE_AUTO_MIGRATE" default:"false"`
	// HardenedUsageIncrement switches usage recording to a single atomic UPDATE.
	HardenedUsageIncrement bool `envconfig:"GENIE_HARDENED_USAGE_INCREMENT" default:"false"`
}

type StripeConfig struct {
	APIKey              string `envconfig:"GENIE_STRIPE_API_KEY"`
	WebhookSecret       string `envconfig:"GENIE_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env                 string `envconfig:"GENIE_STRIPE_ENV" default:"test"`
	StarterPriceID      string `envconfig:"GENIE_STRIPE_STARTER_PRICE_ID"`
	ProfessionalPriceID string `envconfig:"GENIE_STRIPE_PROFESSIONAL_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"GENIE_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

// resolveDSN fills DSN from the discrete GENIE_DB_* parts when no DSN was
// given. SQLite deployments need neither.
func (db *DBConfig) resolveDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	parts := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	var missing []string
	for _, name := range legacyDBEnvVars {
		if strings.TrimSpace(parts[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
		User:   url.User(db.LegacyUser),
	}
	if db.LegacyPassword != "" {
		dsn.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}

// validate rejects combinations envconfig cannot express on its own.
func (c *Config) validate() error {
	if c.Stripe.StarterPriceID != "" && c.Stripe.StarterPriceID == c.Stripe.ProfessionalPriceID {
		return fmt.Errorf("%s and %s must differ", EnvStarterPrice, EnvProPrice)
	}
	switch c.Stripe.Environment() {
	case "test", "live":
	default:
		return fmt.Errorf("%s must be test or live, got %q", EnvStripeEnv, c.Stripe.Env)
	}
	origins := c.App.CORSOrigins[:0]
	for _, o := range c.App.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.App.CORSOrigins = origins
	return nil
}

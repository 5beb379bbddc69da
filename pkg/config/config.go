package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Square       SquareConfig
	Payments     PaymentsConfig
	Orders       OrdersConfig
	Delivery     DeliveryConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDRUN_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDRUN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDRUN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDRUN_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"MEDRUN_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDRUN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDRUN_DB_DSN"`
	Driver string `envconfig:"MEDRUN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDRUN_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDRUN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDRUN_DB_USER"`
	LegacyPassword string `envconfig:"MEDRUN_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDRUN_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDRUN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDRUN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDRUN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDRUN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDRUN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery is the threshold above which statements are logged at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"MEDRUN_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDRUN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDRUN_REDIS_ADDR"`
	Password     string        `envconfig:"MEDRUN_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDRUN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDRUN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDRUN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDRUN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDRUN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDRUN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify tokens minted by the identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"MEDRUN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MEDRUN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MEDRUN_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDRUN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDRUN_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"MEDRUN_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MEDRUN_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MEDRUN_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"MEDRUN_PUBSUB_DOMAIN_TOPIC" default:"medrun-domain-events"`
	NotificationSubscription string `envconfig:"MEDRUN_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"medrun-notifications"`
	LifecycleSubscription    string `envconfig:"MEDRUN_PUBSUB_LIFECYCLE_SUBSCRIPTION" default:"medrun-lifecycle"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEDRUN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEDRUN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEDRUN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"MEDRUN_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"MEDRUN_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"MEDRUN_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	Provider       string        `envconfig:"MEDRUN_PAYMENTS_PROVIDER" default:"sandbox"`
	Currency       string        `envconfig:"MEDRUN_PAYMENTS_CURRENCY" default:"USD"`
	GatewayTimeout time.Duration `envconfig:"MEDRUN_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
}

func (p PaymentsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Provider)) {
	case PaymentsProviderSquare, PaymentsProviderSandbox:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvPaymentsProvider, PaymentsProviderSquare, PaymentsProviderSandbox)
	}
	if p.GatewayTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvPaymentsGatewayTimeout)
	}
	return nil
}

type OrdersConfig struct {
	PendingTTL time.Duration `envconfig:"MEDRUN_ORDERS_PENDING_TTL" default:"30m"`
}

type DeliveryConfig struct {
	OfferTTL time.Duration `envconfig:"MEDRUN_DELIVERY_OFFER_TTL" default:"20m"`
}

type CronConfig struct {
	Schedule                  string        `envconfig:"MEDRUN_CRON_SCHEDULE" default:"@every 1m"`
	LockTTL                   time.Duration `envconfig:"MEDRUN_CRON_LOCK_TTL" default:"5m"`
	NotificationRetentionDays int           `envconfig:"MEDRUN_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
	OutboxRetentionDays       int           `envconfig:"MEDRUN_CRON_OUTBOX_RETENTION_DAYS" default:"14"`
}

// RateLimitConfig throttles gateway-touching writes per actor. A zero limit disables the policy.
type RateLimitConfig struct {
	Window        time.Duration `envconfig:"MEDRUN_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentLimit  int           `envconfig:"MEDRUN_RATE_LIMIT_PAYMENTS" default:"10"`
	CheckoutLimit int           `envconfig:"MEDRUN_RATE_LIMIT_CHECKOUT" default:"10"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if sqlite {
		db.Driver = "sqlite"
	}
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:medrun.db?_busy_timeout=5000"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

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
	FeatureFlags FeatureFlagsConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Funding      FundingConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Content      ContentConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DREAMS_APP_ENV" required:"true"`
	Port         string `envconfig:"DREAMS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DREAMS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DREAMS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DREAMS_SERVICE_KIND" default:"api"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DREAMS_FEATURE_AUTO_MIGRATE" default:"false"`
}

type DBConfig struct {
	DSN    string `envconfig:"DREAMS_DB_DSN"`
	Driver string `envconfig:"DREAMS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DREAMS_DB_HOST"`
	LegacyPort     int    `envconfig:"DREAMS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DREAMS_DB_USER"`
	LegacyPassword string `envconfig:"DREAMS_DB_PASSWORD"`
	LegacyName     string `envconfig:"DREAMS_DB_NAME"`
	LegacySSLMode  string `envconfig:"DREAMS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DREAMS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DREAMS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DREAMS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DREAMS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DREAMS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DREAMS_REDIS_ADDR"`
	Password     string        `envconfig:"DREAMS_REDIS_PASSWORD"`
	DB           int           `envconfig:"DREAMS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DREAMS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DREAMS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DREAMS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DREAMS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DREAMS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DREAMS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DREAMS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DREAMS_JWT_EXPIRATION_MINUTES" default:"60"`
}

// FundingConfig carries the donation engine policy knobs.
type FundingConfig struct {
	// RefundAdjustsGoal keeps the goal aggregate conserved by decrementing
	// it when a completed donation is refunded. Disable for compatibility
	// with deployments that treat refunds as donation-local.
	RefundAdjustsGoal    bool          `envconfig:"DREAMS_FUNDING_REFUND_ADJUSTS_GOAL" default:"true"`
	RecentDonationsLimit int           `envconfig:"DREAMS_FUNDING_RECENT_DONATIONS_LIMIT" default:"10"`
	PendingDonationTTL   time.Duration `envconfig:"DREAMS_FUNDING_PENDING_DONATION_TTL" default:"24h"`
	WebhookDedupeTTL     time.Duration `envconfig:"DREAMS_FUNDING_WEBHOOK_DEDUPE_TTL" default:"720h"`
	AggregateMaxRetries  uint64        `envconfig:"DREAMS_FUNDING_AGGREGATE_MAX_RETRIES" default:"5"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DREAMS_STRIPE_API_KEY"`
	Secret string `envconfig:"DREAMS_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"DREAMS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string `envconfig:"DREAMS_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"DREAMS_SQUARE_WEBHOOK_SECRET"`
	LocationID    string `envconfig:"DREAMS_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"DREAMS_SQUARE_ENV" default:"sandbox"`
	RedirectURL   string `envconfig:"DREAMS_SQUARE_REDIRECT_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type ContentConfig struct {
	BaseURL string        `envconfig:"DREAMS_CONTENT_SERVICE_URL"`
	Timeout time.Duration `envconfig:"DREAMS_CONTENT_SERVICE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"DREAMS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"DREAMS_PUBSUB_NOTIFICATION_TOPIC" default:"dreams-funding-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DREAMS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DREAMS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DREAMS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"DREAMS_CRON_INTERVAL" default:"1h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App             AppConfig
	Service         ServiceConfig
	DB              DBConfig
	Redis           RedisConfig
	FeatureFlags    FeatureFlagsConfig
	FederalRegister FederalRegisterConfig
	Notifications   NotificationsConfig
	Sendgrid        SendgridConfig
	Lifecycle       LifecycleConfig
	Cron            CronConfig
	GCP             GCPConfig
	PubSub          PubSubConfig
	Outbox          OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.FederalRegister.validate(); err != nil {
		return err
	}
	if err := c.Notifications.validate(); err != nil {
		return err
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"SORN_APP_ENV" required:"true"`
	Port         string   `envconfig:"SORN_APP_PORT" default:"8080"`
	BaseURL      string   `envconfig:"SORN_APP_BASE_URL" default:"http://localhost:8080"`
	LogLevel     string   `envconfig:"SORN_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"SORN_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"SORN_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SORN_APP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SORN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SORN_DB_DSN"`
	Driver string `envconfig:"SORN_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"SORN_DB_HOST"`
	Port     int    `envconfig:"SORN_DB_PORT" default:"5432"`
	User     string `envconfig:"SORN_DB_USER"`
	Password string `envconfig:"SORN_DB_PASSWORD"`
	Name     string `envconfig:"SORN_DB_NAME"`
	SSLMode  string `envconfig:"SORN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SORN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SORN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SORN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SORN_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn level;
	// zero disables query logging.
	SlowQueryThreshold time.Duration `envconfig:"SORN_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	Enabled        bool          `envconfig:"SORN_REDIS_ENABLED" default:"true"`
	URL            string        `envconfig:"SORN_REDIS_URL"`
	Address        string        `envconfig:"SORN_REDIS_ADDR"`
	Password       string        `envconfig:"SORN_REDIS_PASSWORD"`
	DB             int           `envconfig:"SORN_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"SORN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"SORN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"SORN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"SORN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"SORN_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"SORN_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SORN_AUTO_MIGRATE" default:"false"`
}

type FederalRegisterConfig struct {
	BaseURL       string        `envconfig:"SORN_FR_BASE_URL" default:"https://www.federalregister.gov/api/v1"`
	APIKey        string        `envconfig:"SORN_FR_API_KEY"`
	APIKeyMode    string        `envconfig:"SORN_FR_API_KEY_MODE" default:"query"`
	ReadTimeout   time.Duration `envconfig:"SORN_FR_READ_TIMEOUT" default:"30s"`
	SubmitTimeout time.Duration `envconfig:"SORN_FR_SUBMIT_TIMEOUT" default:"60s"`
	RatePerSecond float64       `envconfig:"SORN_FR_RATE_PER_SECOND" default:"0"`
	RateBurst     int           `envconfig:"SORN_FR_RATE_BURST" default:"1"`
}

func (f FederalRegisterConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.APIKeyMode)) {
	case APIKeyModeQuery, APIKeyModeHeader:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvFRAPIKeyMode, APIKeyModeQuery, APIKeyModeHeader)
	}
	if f.ReadTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvFRReadTimeout)
	}
	if f.SubmitTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvFRSubmitTimeout)
	}
	if _, err := url.ParseRequestURI(f.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", EnvFRBaseURL, err)
	}
	return nil
}

type NotificationsConfig struct {
	EmailEnabled     bool          `envconfig:"SORN_NOTIFY_EMAIL_ENABLED" default:"true"`
	AdminEnabled     bool          `envconfig:"SORN_NOTIFY_ADMIN_ENABLED" default:"true"`
	AdminEmails      []string      `envconfig:"SORN_NOTIFY_ADMIN_EMAILS"`
	CustomRecipients []string      `envconfig:"SORN_NOTIFY_CUSTOM_RECIPIENTS"`
	FromEmail        string        `envconfig:"SORN_NOTIFY_FROM_EMAIL" default:"no-reply@localhost"`
	SiteName         string        `envconfig:"SORN_NOTIFY_SITE_NAME" default:"SORN Manager"`
	DateFormat       string        `envconfig:"SORN_NOTIFY_DATE_FORMAT" default:"January 2, 2006"`
	SlackWebhookURL  string        `envconfig:"SORN_NOTIFY_SLACK_WEBHOOK_URL"`
	TeamsWebhookURL  string        `envconfig:"SORN_NOTIFY_TEAMS_WEBHOOK_URL"`
	TemplatesFile    string        `envconfig:"SORN_NOTIFY_TEMPLATES_FILE"`
	WebhookTimeout   time.Duration `envconfig:"SORN_NOTIFY_WEBHOOK_TIMEOUT" default:"10s"`
}

func (n NotificationsConfig) validate() error {
	if err := validateWebhookURL(EnvSlackWebhookURL, n.SlackWebhookURL); err != nil {
		return err
	}
	if err := validateWebhookURL(EnvTeamsWebhookURL, n.TeamsWebhookURL); err != nil {
		return err
	}
	return nil
}

// validateWebhookURL accepts an empty value as "channel disabled".
func validateWebhookURL(env, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute https url", env)
	}
	return nil
}

type SendgridConfig struct {
	APIKey string `envconfig:"SORN_SENDGRID_API_KEY"`
}

type LifecycleConfig struct {
	ReconcileQuiescence time.Duration `envconfig:"SORN_RECONCILE_QUIESCENCE" default:"5m"`
	ReconcileBatchSize  int           `envconfig:"SORN_RECONCILE_BATCH_SIZE" default:"50"`
	RetryMaxAttempts    int           `envconfig:"SORN_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBatchSize      int           `envconfig:"SORN_RETRY_BATCH_SIZE" default:"10"`
	ArchiveThreshold    int64         `envconfig:"SORN_ARCHIVE_THRESHOLD" default:"1000"`
	ArchiveRetention    time.Duration `envconfig:"SORN_ARCHIVE_RETENTION" default:"2160h"`
	ArchiveBatchSize    int           `envconfig:"SORN_ARCHIVE_BATCH_SIZE" default:"100"`
	ErrorEventRetention time.Duration `envconfig:"SORN_ERROR_EVENT_RETENTION" default:"720h"`
	TerminalRetention   time.Duration `envconfig:"SORN_TERMINAL_EVENT_RETENTION" default:"2160h"`
}

type CronConfig struct {
	Tick              time.Duration `envconfig:"SORN_CRON_TICK" default:"1m"`
	LockTTL           time.Duration `envconfig:"SORN_CRON_LOCK_TTL" default:"10m"`
	ReconcileInterval time.Duration `envconfig:"SORN_CRON_RECONCILE_INTERVAL" default:"15m"`
	RetryInterval     time.Duration `envconfig:"SORN_CRON_RETRY_INTERVAL" default:"4h"`
	ArchiveInterval   time.Duration `envconfig:"SORN_CRON_ARCHIVE_INTERVAL" default:"24h"`
	PruneInterval     time.Duration `envconfig:"SORN_CRON_PRUNE_INTERVAL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SORN_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SORN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SORN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"SORN_PUBSUB_DOMAIN_TOPIC" default:"sorn-submission-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SORN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SORN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SORN_OUTBOX_MAX_ATTEMPTS" default:"10"`

	PublishTimeout time.Duration `envconfig:"SORN_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxBackoff     time.Duration `envconfig:"SORN_OUTBOX_MAX_BACKOFF" default:"10s"`
	Retention      time.Duration `envconfig:"SORN_OUTBOX_RETENTION" default:"168h"`
	DLQRetention   time.Duration `envconfig:"SORN_OUTBOX_DLQ_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

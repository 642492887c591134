package config

const EnvPrefix = "SORN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	APIKeyModeQuery  = "query"
	APIKeyModeHeader = "header"
)

const (
	EnvAppEnv  = "SORN_APP_ENV"
	EnvPort    = "SORN_APP_PORT"
	EnvBaseURL = "SORN_APP_BASE_URL"

	EnvDBDSN    = "SORN_DB_DSN"
	EnvDBDriver = "SORN_DB_DRIVER"
	EnvDBHost   = "SORN_DB_HOST"
	EnvDBUser   = "SORN_DB_USER"
	EnvDBName   = "SORN_DB_NAME"

	EnvRedisURL     = "SORN_REDIS_URL"
	EnvRedisEnabled = "SORN_REDIS_ENABLED"

	EnvFRBaseURL       = "SORN_FR_BASE_URL"
	EnvFRAPIKey        = "SORN_FR_API_KEY"
	EnvFRAPIKeyMode    = "SORN_FR_API_KEY_MODE"
	EnvFRReadTimeout   = "SORN_FR_READ_TIMEOUT"
	EnvFRSubmitTimeout = "SORN_FR_SUBMIT_TIMEOUT"

	EnvAdminEmails     = "SORN_NOTIFY_ADMIN_EMAILS"
	EnvSlackWebhookURL = "SORN_NOTIFY_SLACK_WEBHOOK_URL"
	EnvTeamsWebhookURL = "SORN_NOTIFY_TEAMS_WEBHOOK_URL"

	EnvRetryMaxAttempts = "SORN_RETRY_MAX_ATTEMPTS"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

const EnvPrefix = "ENGAGEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	EnvAppEnv   = "ENGAGEMENT_APP_ENV"
	EnvPort     = "ENGAGEMENT_APP_PORT"
	EnvLogLevel = "ENGAGEMENT_LOG_LEVEL"

	EnvDBDriver = "ENGAGEMENT_DB_DRIVER"
	EnvDBDSN    = "ENGAGEMENT_DB_DSN"
	EnvDBPath   = "ENGAGEMENT_DB_PATH"

	EnvRedisURL = "ENGAGEMENT_REDIS_URL"

	EnvButtondownAPIKey      = "ENGAGEMENT_BUTTONDOWN_API_KEY"
	EnvButtondownLookback    = "ENGAGEMENT_BUTTONDOWN_LOOKBACK_DAYS"
	EnvButtondownOverlap     = "ENGAGEMENT_BUTTONDOWN_SYNC_OVERLAP"
	EnvButtondownMaxAttempts = "ENGAGEMENT_BUTTONDOWN_MAX_ATTEMPTS"

	EnvSyncInterval = "ENGAGEMENT_SYNC_INTERVAL"

	EnvJWTSecret         = "ENGAGEMENT_JWT_SECRET"
	EnvDashboardPassword = "ENGAGEMENT_DASHBOARD_PASSWORD_HASH"
)

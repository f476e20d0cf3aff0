package config

// EnvPrefix is handed to envconfig; every field carries its full name.
const EnvPrefix = "GENIE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv        = "GENIE_APP_ENV"
	EnvPort          = "GENIE_APP_PORT"
	EnvDBDSN         = "GENIE_DB_DSN"
	EnvDBHost        = "GENIE_DB_HOST"
	EnvDBUser        = "GENIE_DB_USER"
	EnvDBName        = "GENIE_DB_NAME"
	EnvUseSQLite     = "GENIE_USE_SQLITE"
	EnvRedisURL      = "GENIE_REDIS_URL"
	EnvJWTSecret     = "GENIE_JWT_SECRET"
	EnvStripeSecret  = "GENIE_STRIPE_WEBHOOK_SECRET"
	EnvStarterPrice  = "GENIE_STRIPE_STARTER_PRICE_ID"
	EnvProPrice      = "GENIE_STRIPE_PROFESSIONAL_PRICE_ID"
	EnvHardenedUsage = "GENIE_HARDENED_USAGE_INCREMENT"
	EnvStripeEnv     = "GENIE_STRIPE_ENV"
	EnvCORSOrigins   = "GENIE_CORS_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

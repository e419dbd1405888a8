package config

// EnvPrefix is the envconfig prefix for all service configuration.
const EnvPrefix = "DREAMS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "DREAMS_DB_DSN"
	EnvDBHost = "DREAMS_DB_HOST"
	EnvDBUser = "DREAMS_DB_USER"
	EnvDBName = "DREAMS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

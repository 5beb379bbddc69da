package config

const (
	EnvPrefix = "MEDRUN"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MEDRUN_APP_ENV"
	EnvPort     = "MEDRUN_APP_PORT"
	EnvLogLevel = "MEDRUN_LOG_LEVEL"

	EnvDBDSN  = "MEDRUN_DB_DSN"
	EnvDBHost = "MEDRUN_DB_HOST"
	EnvDBUser = "MEDRUN_DB_USER"
	EnvDBName = "MEDRUN_DB_NAME"

	EnvRedisURL = "MEDRUN_REDIS_URL"

	EnvJWTSecret  = "MEDRUN_JWT_SECRET"
	EnvJWTIssuer  = "MEDRUN_JWT_ISSUER"
	EnvJWTExpMins = "MEDRUN_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "MEDRUN_GCP_PROJECT_ID"

	EnvPubSubDomainTopic       = "MEDRUN_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubNotificationSub   = "MEDRUN_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubLifecycleSub      = "MEDRUN_PUBSUB_LIFECYCLE_SUBSCRIPTION"
	EnvPaymentsProvider        = "MEDRUN_PAYMENTS_PROVIDER"
	EnvPaymentsGatewayTimeout  = "MEDRUN_PAYMENTS_GATEWAY_TIMEOUT"
	EnvDeliveryOfferTTL        = "MEDRUN_DELIVERY_OFFER_TTL"
	EnvOrdersPendingTTL        = "MEDRUN_ORDERS_PENDING_TTL"
	EnvSquareAccessToken       = "MEDRUN_SQUARE_ACCESS_TOKEN"
	EnvSquareLocationID        = "MEDRUN_SQUARE_LOCATION_ID"
	EnvCronSchedule            = "MEDRUN_CRON_SCHEDULE"
	EnvEventingIdempotencyTTL  = "MEDRUN_EVENTING_IDEMPOTENCY_TTL"
	EnvOutboxPublishBatchSize  = "MEDRUN_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvFeatureFlagUseSQLite    = "MEDRUN_USE_SQLITE"
	EnvFeatureFlagsAutoMigrate = "MEDRUN_AUTO_MIGRATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

const (
	PaymentsProviderSquare  = "square"
	PaymentsProviderSandbox = "sandbox"
)

package outbox

import "time"

type Config struct {
	DBDSN                string        `envconfig:"ATL_DB_DSN" required:"true"`
	MetricsAddr          string        `envconfig:"ATL_METRICS_ADDR" default:"0.0.0.0:9091"`
	LogLevel             string        `envconfig:"ATL_LOG_LEVEL" default:"info"`
	MasterKey            string        `envconfig:"ATL_MASTER_KEY" required:"true"`
	KeyVersion           int           `envconfig:"ATL_KEY_VERSION" default:"1"`
	PollInterval         time.Duration `envconfig:"ATL_DRAIN_POLL_INTERVAL" default:"1s"`
	IdleBackoff          time.Duration `envconfig:"ATL_DRAIN_IDLE_BACKOFF" default:"5s"`
	BatchSize            int           `envconfig:"ATL_DRAIN_BATCH_SIZE" default:"32"`
	LockTTL              time.Duration `envconfig:"ATL_OUTBOX_LOCK_TTL" default:"5m"`
	RetryBase            time.Duration `envconfig:"ATL_RETRY_BASE" default:"10s"`
	RetryCap             time.Duration `envconfig:"ATL_RETRY_CAP" default:"10m"`
	LookaheadMonths      int           `envconfig:"ATL_PARTITION_LOOKAHEAD_MONTHS" default:"3"`
	HousekeepingInterval time.Duration `envconfig:"ATL_HOUSEKEEPING_INTERVAL" default:"1h"`
	ShutdownTimeout      time.Duration `envconfig:"ATL_SHUTDOWN_TIMEOUT" default:"30s"`
}

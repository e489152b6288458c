package api

import "time"

type Config struct {
	HTTPAddr          string        `envconfig:"ATL_HTTP_ADDR" default:"0.0.0.0:8080"`
	DBDSN             string        `envconfig:"ATL_DB_DSN" required:"true"`
	MetricsAddr       string        `envconfig:"ATL_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel          string        `envconfig:"ATL_LOG_LEVEL" default:"info"`
	ShutdownTimeout   time.Duration `envconfig:"ATL_SHUTDOWN_TIMEOUT" default:"30s"`
	AuthSecret        string        `envconfig:"ATL_AUTH_SECRET" required:"true"`
	MasterKey         string        `envconfig:"ATL_MASTER_KEY" required:"true"`
	KeyVersion        int           `envconfig:"ATL_KEY_VERSION" default:"1"`
	ArchiveRoot       string        `envconfig:"ATL_ARCHIVE_ROOT" default:"/var/lib/atl/archive"`
	OutboxMaxAttempts int           `envconfig:"ATL_OUTBOX_MAX_ATTEMPTS" default:"5"`

	// Shared with the worker's horizon maintenance so an on-demand ensure
	// extends the horizon by the same amount.
	PartitionLookahead int `envconfig:"ATL_PARTITION_LOOKAHEAD_MONTHS" default:"3"`
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the full DDL for the atl schema. Idempotent, applied at
// startup. The audit_events table is declaratively range-partitioned by
// event_ts; monthly child tables are created by horizon maintenance, not
// here.
const schema = `
CREATE SCHEMA IF NOT EXISTS atl;

CREATE TABLE IF NOT EXISTS atl.audit_events (
	event_id        TEXT NOT NULL,
	event_ts        TIMESTAMPTZ NOT NULL,
	tenant_id       TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	severity        TEXT NOT NULL CHECK (severity IN ('info', 'warning', 'error', 'critical')),
	schema_version  INT NOT NULL DEFAULT 1,
	instance_id     TEXT,
	step_id         TEXT,
	entity_type     TEXT,
	entity_id       TEXT,
	entity_snapshot BYTEA,
	actor           JSONB NOT NULL,
	actor_id        TEXT NOT NULL,
	actor_is_admin  BOOLEAN NOT NULL DEFAULT false,
	action          TEXT NOT NULL,
	state_before    BYTEA,
	state_after     BYTEA,
	detail          BYTEA,
	correlation_id  TEXT,
	session_id      TEXT,
	trace_id        TEXT,
	origin_ip       TEXT,
	chain_seq       BIGINT NOT NULL,
	hash_prev       TEXT NOT NULL,
	hash_curr       TEXT NOT NULL,
	key_version     INT NOT NULL DEFAULT 1,
	redacted        BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, event_id, event_ts)
) PARTITION BY RANGE (event_ts);

CREATE INDEX IF NOT EXISTS audit_events_tenant_ts
	ON atl.audit_events (tenant_id, event_ts DESC);
CREATE INDEX IF NOT EXISTS audit_events_tenant_instance
	ON atl.audit_events (tenant_id, instance_id, event_ts);
CREATE INDEX IF NOT EXISTS audit_events_tenant_correlation
	ON atl.audit_events (tenant_id, correlation_id)
	WHERE correlation_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS audit_events_tenant_entity
	ON atl.audit_events (tenant_id, entity_type, entity_id);
CREATE INDEX IF NOT EXISTS audit_events_tenant_seq
	ON atl.audit_events (tenant_id, chain_seq);

-- Dedup guard: re-insertion of the same logical event is a silent no-op.
-- Enforced only for records that carry a correlation id.
CREATE UNIQUE INDEX IF NOT EXISTS audit_events_dedup
	ON atl.audit_events (tenant_id, correlation_id, event_ts, event_type, actor_id)
	WHERE correlation_id IS NOT NULL;

-- Stored events are append-only. The only sanctioned mutation is the
-- key-rotation rewrite, which runs with atl.allow_rewrite set for the
-- transaction. Retention removal is a whole-partition drop (DDL), which
-- this trigger never sees.
CREATE OR REPLACE FUNCTION atl.reject_event_mutation() RETURNS trigger AS $fn$
BEGIN
	IF TG_OP = 'UPDATE' AND current_setting('atl.allow_rewrite', true) = 'on' THEN
		RETURN NEW;
	END IF;
	RAISE EXCEPTION 'ATL_IMMUTABLE: audit events are append-only (%)', TG_OP;
END
$fn$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_events_immutable ON atl.audit_events;
CREATE TRIGGER audit_events_immutable
	BEFORE UPDATE OR DELETE ON atl.audit_events
	FOR EACH ROW EXECUTE FUNCTION atl.reject_event_mutation();

CREATE TABLE IF NOT EXISTS atl.chain_heads (
	tenant_id  TEXT PRIMARY KEY,
	chain_seq  BIGINT NOT NULL,
	last_hash  TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS atl.hash_anchors (
	tenant_id   TEXT NOT NULL,
	anchor_date DATE NOT NULL,
	last_hash   TEXT NOT NULL,
	event_count BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, anchor_date)
);

CREATE TABLE IF NOT EXISTS atl.outbox (
	item_id         TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	payload         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processing', 'persisted', 'failed', 'dead')),
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL DEFAULT 5,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	locked_by       TEXT,
	locked_at       TIMESTAMPTZ,
	last_error      JSONB,
	event_id        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS outbox_claimable
	ON atl.outbox (next_attempt_at, created_at)
	WHERE status IN ('pending', 'failed', 'processing');

CREATE TABLE IF NOT EXISTS atl.partitions (
	partition_name TEXT PRIMARY KEY,
	range_start    TIMESTAMPTZ NOT NULL,
	range_end      TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	dropped_at     TIMESTAMPTZ,
	UNIQUE (range_start, range_end)
);

CREATE TABLE IF NOT EXISTS atl.archive_markers (
	partition_name TEXT PRIMARY KEY,
	range_start    TIMESTAMPTZ NOT NULL,
	range_end      TIMESTAMPTZ NOT NULL,
	export_path    TEXT NOT NULL,
	content_digest TEXT NOT NULL,
	row_count      BIGINT NOT NULL,
	exported_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	exported_by    TEXT NOT NULL,
	detached_at    TIMESTAMPTZ
);
`

// Migrate applies the atl schema. Safe to run concurrently from multiple
// instances; everything is IF NOT EXISTS or CREATE OR REPLACE.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

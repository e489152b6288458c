package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lzjever/mbos-atl/internal/core"
)

// AtlAuditEvent is a stored ledger row. Payload columns hold ciphertext;
// decryption happens in the ledger service.
type AtlAuditEvent struct {
	EventID        string
	EventTS        pgtype.Timestamptz
	TenantID       string
	EventType      string
	Severity       string
	SchemaVersion  int32
	InstanceID     pgtype.Text
	StepID         pgtype.Text
	EntityType     pgtype.Text
	EntityID       pgtype.Text
	EntitySnapshot []byte
	Actor          []byte
	ActorID        string
	ActorIsAdmin   bool
	Action         string
	StateBefore    []byte
	StateAfter     []byte
	Detail         []byte
	CorrelationID  pgtype.Text
	SessionID      pgtype.Text
	TraceID        pgtype.Text
	OriginIP       pgtype.Text
	ChainSeq       int64
	HashPrev       string
	HashCurr       string
	KeyVersion     int32
	Redacted       bool
	CreatedAt      pgtype.Timestamptz
}

const eventColumns = `event_id, event_ts, tenant_id, event_type, severity, schema_version,
	instance_id, step_id, entity_type, entity_id, entity_snapshot,
	actor, actor_id, actor_is_admin, action,
	state_before, state_after, detail,
	correlation_id, session_id, trace_id, origin_ip,
	chain_seq, hash_prev, hash_curr, key_version, redacted, created_at`

func scanAuditEvent(row pgx.Row) (AtlAuditEvent, error) {
	var e AtlAuditEvent
	err := row.Scan(
		&e.EventID, &e.EventTS, &e.TenantID, &e.EventType, &e.Severity, &e.SchemaVersion,
		&e.InstanceID, &e.StepID, &e.EntityType, &e.EntityID, &e.EntitySnapshot,
		&e.Actor, &e.ActorID, &e.ActorIsAdmin, &e.Action,
		&e.StateBefore, &e.StateAfter, &e.Detail,
		&e.CorrelationID, &e.SessionID, &e.TraceID, &e.OriginIP,
		&e.ChainSeq, &e.HashPrev, &e.HashCurr, &e.KeyVersion, &e.Redacted, &e.CreatedAt,
	)
	return e, err
}

// AcquireTenantChainLock serializes chain-pointer assignment for one tenant
// for the duration of the current transaction. Appends for other tenants
// proceed in parallel.
func (q *Queries) AcquireTenantChainLock(ctx context.Context, tenantID string) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID)
	return err
}

type AtlChainHead struct {
	TenantID  string
	ChainSeq  int64
	LastHash  string
	UpdatedAt pgtype.Timestamptz
}

// GetChainHead returns the tenant's last chain position, or pgx.ErrNoRows
// for a tenant with no events yet.
func (q *Queries) GetChainHead(ctx context.Context, tenantID string) (AtlChainHead, error) {
	row := q.db.QueryRow(ctx,
		`SELECT tenant_id, chain_seq, last_hash, updated_at FROM atl.chain_heads WHERE tenant_id = $1`,
		tenantID)
	var h AtlChainHead
	err := row.Scan(&h.TenantID, &h.ChainSeq, &h.LastHash, &h.UpdatedAt)
	return h, err
}

func (q *Queries) UpsertChainHead(ctx context.Context, tenantID string, chainSeq int64, lastHash string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO atl.chain_heads (tenant_id, chain_seq, last_hash, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET chain_seq = EXCLUDED.chain_seq, last_hash = EXCLUDED.last_hash, updated_at = now()`,
		tenantID, chainSeq, lastHash)
	return err
}

type InsertEventParams struct {
	EventID        string
	EventTS        pgtype.Timestamptz
	TenantID       string
	EventType      string
	Severity       string
	SchemaVersion  int32
	InstanceID     pgtype.Text
	StepID         pgtype.Text
	EntityType     pgtype.Text
	EntityID       pgtype.Text
	EntitySnapshot []byte
	Actor          []byte
	ActorID        string
	ActorIsAdmin   bool
	Action         string
	StateBefore    []byte
	StateAfter     []byte
	Detail         []byte
	CorrelationID  pgtype.Text
	SessionID      pgtype.Text
	TraceID        pgtype.Text
	OriginIP       pgtype.Text
	ChainSeq       int64
	HashPrev       string
	HashCurr       string
	KeyVersion     int32
}

// InsertEvent appends one immutable record. Returns pgx.ErrNoRows when the
// dedup guard suppressed the insert (same logical event already stored).
func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) (string, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO atl.audit_events (
			event_id, event_ts, tenant_id, event_type, severity, schema_version,
			instance_id, step_id, entity_type, entity_id, entity_snapshot,
			actor, actor_id, actor_is_admin, action,
			state_before, state_after, detail,
			correlation_id, session_id, trace_id, origin_ip,
			chain_seq, hash_prev, hash_curr, key_version
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26
		)
		ON CONFLICT (tenant_id, correlation_id, event_ts, event_type, actor_id)
			WHERE correlation_id IS NOT NULL
			DO NOTHING
		RETURNING event_id`,
		arg.EventID, arg.EventTS, arg.TenantID, arg.EventType, arg.Severity, arg.SchemaVersion,
		arg.InstanceID, arg.StepID, arg.EntityType, arg.EntityID, arg.EntitySnapshot,
		arg.Actor, arg.ActorID, arg.ActorIsAdmin, arg.Action,
		arg.StateBefore, arg.StateAfter, arg.Detail,
		arg.CorrelationID, arg.SessionID, arg.TraceID, arg.OriginIP,
		arg.ChainSeq, arg.HashPrev, arg.HashCurr, arg.KeyVersion)
	var id string
	err := row.Scan(&id)
	return id, err
}

type FindDuplicateParams struct {
	TenantID      string
	CorrelationID string
	EventTS       pgtype.Timestamptz
	EventType     string
	ActorID       string
}

// FindDuplicate resolves the stored event that suppressed a deduped insert.
func (q *Queries) FindDuplicate(ctx context.Context, arg FindDuplicateParams) (AtlAuditEvent, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1 AND correlation_id = $2 AND event_ts = $3
			AND event_type = $4 AND actor_id = $5`,
		arg.TenantID, arg.CorrelationID, arg.EventTS, arg.EventType, arg.ActorID)
	return scanAuditEvent(row)
}

type GetEventParams struct {
	TenantID string
	EventID  string
	EventTS  pgtype.Timestamptz
}

func (q *Queries) GetEvent(ctx context.Context, arg GetEventParams) (AtlAuditEvent, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1 AND event_id = $2
			AND ($3::timestamptz IS NULL OR event_ts = $3)`,
		arg.TenantID, arg.EventID, arg.EventTS)
	return scanAuditEvent(row)
}

func (q *Queries) GetEventBySeq(ctx context.Context, tenantID string, chainSeq int64) (AtlAuditEvent, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1 AND chain_seq = $2`,
		tenantID, chainSeq)
	return scanAuditEvent(row)
}

type ListEventsParams struct {
	TenantID      string
	InstanceID    pgtype.Text
	CorrelationID pgtype.Text
	EntityType    pgtype.Text
	EntityID      pgtype.Text
	From          pgtype.Timestamptz
	To            pgtype.Timestamptz
	Cursor        pgtype.Timestamptz
	CursorSeq     int64
	Limit         int32
}

// ListEvents returns a chronological, bounded page of a tenant's timeline.
// The cursor is a (event_ts, chain_seq) pair matching the sort order, so
// pages resume after the exact boundary event even when neighbours share a
// timestamp.
func (q *Queries) ListEvents(ctx context.Context, arg ListEventsParams) ([]AtlAuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1
			AND ($2::text IS NULL OR instance_id = $2)
			AND ($3::text IS NULL OR correlation_id = $3)
			AND ($4::text IS NULL OR entity_type = $4)
			AND ($5::text IS NULL OR entity_id = $5)
			AND ($6::timestamptz IS NULL OR event_ts >= $6)
			AND ($7::timestamptz IS NULL OR event_ts < $7)
			AND ($8::timestamptz IS NULL
				OR event_ts > $8
				OR (event_ts = $8 AND chain_seq > $9))
		ORDER BY event_ts ASC, chain_seq ASC
		LIMIT $10`,
		arg.TenantID, arg.InstanceID, arg.CorrelationID, arg.EntityType, arg.EntityID,
		arg.From, arg.To, arg.Cursor, arg.CursorSeq, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []AtlAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type VerifyRangeParams struct {
	TenantID string
	From     pgtype.Timestamptz
	To       pgtype.Timestamptz
}

// ListEventsForVerify returns a tenant's events in chain order, inclusive of
// the range bounds.
func (q *Queries) ListEventsForVerify(ctx context.Context, arg VerifyRangeParams) ([]AtlAuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1 AND event_ts >= $2 AND event_ts <= $3
		ORDER BY chain_seq ASC`,
		arg.TenantID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []AtlAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AllowRewrite arms the sanctioned rewrite path for the current transaction.
// Outside a transaction carrying this setting, the immutability trigger
// rejects every UPDATE and DELETE on audit_events.
func (q *Queries) AllowRewrite(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `SET LOCAL atl.allow_rewrite = 'on'`)
	return err
}

type SelectForRotationParams struct {
	TenantID   string
	From       pgtype.Timestamptz
	To         pgtype.Timestamptz
	KeyVersion int32
	Limit      int32
}

// SelectEventsForRotation picks a batch of events still sealed under an old
// key version, locking them for the rewrite.
func (q *Queries) SelectEventsForRotation(ctx context.Context, arg SelectForRotationParams) ([]AtlAuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE tenant_id = $1 AND event_ts >= $2 AND event_ts <= $3 AND key_version <> $4
		ORDER BY chain_seq ASC
		LIMIT $5
		FOR UPDATE`,
		arg.TenantID, arg.From, arg.To, arg.KeyVersion, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []AtlAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type RewriteCiphertextParams struct {
	TenantID       string
	EventID        string
	EventTS        pgtype.Timestamptz
	EntitySnapshot []byte
	StateBefore    []byte
	StateAfter     []byte
	Detail         []byte
	KeyVersion     int32
}

// translateMutationError maps a rejection raised by the immutability trigger
// onto the domain error taxonomy. Everything else passes through unchanged.
func translateMutationError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Message, "ATL_IMMUTABLE") {
		return core.NewAppError(core.ErrImmutabilityViolation, "audit events are append-only")
	}
	return err
}

// RewriteEventCiphertext replaces only the encrypted payload columns and the
// key version. Identity, hash fields and business content are untouched.
// Fails unless AllowRewrite was called in the same transaction.
func (q *Queries) RewriteEventCiphertext(ctx context.Context, arg RewriteCiphertextParams) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE atl.audit_events
		SET entity_snapshot = $4, state_before = $5, state_after = $6, detail = $7, key_version = $8
		WHERE tenant_id = $1 AND event_id = $2 AND event_ts = $3`,
		arg.TenantID, arg.EventID, arg.EventTS,
		arg.EntitySnapshot, arg.StateBefore, arg.StateAfter, arg.Detail, arg.KeyVersion)
	if err != nil {
		return translateMutationError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s not found for rewrite", arg.EventID)
	}
	return nil
}

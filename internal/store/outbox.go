package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type AtlOutboxItem struct {
	ItemID        string
	TenantID      string
	Payload       []byte
	Status        string
	Attempts      int32
	MaxAttempts   int32
	NextAttemptAt pgtype.Timestamptz
	LockedBy      pgtype.Text
	LockedAt      pgtype.Timestamptz
	LastError     []byte
	EventID       pgtype.Text
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

const outboxColumns = `item_id, tenant_id, payload, status, attempts, max_attempts,
	next_attempt_at, locked_by, locked_at, last_error, event_id, created_at, updated_at`

func scanOutboxItem(row pgx.Row) (AtlOutboxItem, error) {
	var i AtlOutboxItem
	err := row.Scan(
		&i.ItemID, &i.TenantID, &i.Payload, &i.Status, &i.Attempts, &i.MaxAttempts,
		&i.NextAttemptAt, &i.LockedBy, &i.LockedAt, &i.LastError, &i.EventID,
		&i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

type EnqueueOutboxParams struct {
	ItemID      string
	TenantID    string
	Payload     []byte
	MaxAttempts int32
}

func (q *Queries) EnqueueOutbox(ctx context.Context, arg EnqueueOutboxParams) (AtlOutboxItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO atl.outbox (item_id, tenant_id, payload, max_attempts)
		VALUES ($1, $2, $3, $4)
		RETURNING `+outboxColumns,
		arg.ItemID, arg.TenantID, arg.Payload, arg.MaxAttempts)
	return scanOutboxItem(row)
}

type ClaimOutboxBatchParams struct {
	WorkerID    string
	Limit       int32
	LockTTLSecs float64
}

// ClaimOutboxBatch locks a batch of drainable items to one worker: pending
// items, failed items whose backoff has elapsed, and processing items whose
// lock lease expired (crashed worker). SKIP LOCKED keeps concurrent workers
// from contending on the same rows.
func (q *Queries) ClaimOutboxBatch(ctx context.Context, arg ClaimOutboxBatchParams) ([]AtlOutboxItem, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE atl.outbox o
		SET status = 'processing', locked_by = $1, locked_at = now(), updated_at = now()
		FROM (
			SELECT item_id FROM atl.outbox
			WHERE (status = 'pending')
				OR (status = 'failed' AND next_attempt_at <= now())
				OR (status = 'processing' AND locked_at < now() - make_interval(secs => $3))
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) c
		WHERE o.item_id = c.item_id
		RETURNING `+qualifiedOutboxColumns("o"),
		arg.WorkerID, arg.Limit, arg.LockTTLSecs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AtlOutboxItem
	for rows.Next() {
		i, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func qualifiedOutboxColumns(alias string) string {
	return alias + `.item_id, ` + alias + `.tenant_id, ` + alias + `.payload, ` +
		alias + `.status, ` + alias + `.attempts, ` + alias + `.max_attempts, ` +
		alias + `.next_attempt_at, ` + alias + `.locked_by, ` + alias + `.locked_at, ` +
		alias + `.last_error, ` + alias + `.event_id, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type MarkPersistedParams struct {
	ItemID  string
	EventID string
}

func (q *Queries) MarkOutboxPersisted(ctx context.Context, arg MarkPersistedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE atl.outbox
		SET status = 'persisted', event_id = $2, locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE item_id = $1`,
		arg.ItemID, arg.EventID)
	return err
}

type MarkFailedParams struct {
	ItemID        string
	Attempts      int32
	LastError     []byte
	NextAttemptAt pgtype.Timestamptz
}

func (q *Queries) MarkOutboxFailed(ctx context.Context, arg MarkFailedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE atl.outbox
		SET status = 'failed', attempts = $2, last_error = $3, next_attempt_at = $4,
			locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE item_id = $1`,
		arg.ItemID, arg.Attempts, arg.LastError, arg.NextAttemptAt)
	return err
}

type MarkDeadParams struct {
	ItemID    string
	Attempts  int32
	LastError []byte
}

func (q *Queries) MarkOutboxDead(ctx context.Context, arg MarkDeadParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE atl.outbox
		SET status = 'dead', attempts = $2, last_error = $3,
			locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE item_id = $1`,
		arg.ItemID, arg.Attempts, arg.LastError)
	return err
}

// ReplayDeadOutbox returns a dead item to the pending pool with a fresh
// attempt budget. Returns pgx.ErrNoRows when the item is missing or not dead.
func (q *Queries) ReplayDeadOutbox(ctx context.Context, itemID string) (AtlOutboxItem, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE atl.outbox
		SET status = 'pending', attempts = 0, next_attempt_at = now(),
			locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE item_id = $1 AND status = 'dead'
		RETURNING `+outboxColumns,
		itemID)
	return scanOutboxItem(row)
}

func (q *Queries) GetOutboxItem(ctx context.Context, itemID string) (AtlOutboxItem, error) {
	row := q.db.QueryRow(ctx, `SELECT `+outboxColumns+` FROM atl.outbox WHERE item_id = $1`, itemID)
	return scanOutboxItem(row)
}

func (q *Queries) ListDeadOutbox(ctx context.Context, limit int32) ([]AtlOutboxItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM atl.outbox
		WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AtlOutboxItem
	for rows.Next() {
		i, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// GetOutboxQueueDepth counts items eligible for draining now.
func (q *Queries) GetOutboxQueueDepth(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, `
		SELECT count(*) FROM atl.outbox
		WHERE status = 'pending' OR (status = 'failed' AND next_attempt_at <= now())`)
	var n int64
	err := row.Scan(&n)
	return n, err
}

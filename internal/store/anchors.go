package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type AtlHashAnchor struct {
	TenantID   string
	AnchorDate pgtype.Date
	LastHash   string
	EventCount int64
	CreatedAt  pgtype.Timestamptz
}

type SealAnchorParams struct {
	TenantID string
	DayStart time.Time
	DayEnd   time.Time
}

// SealAnchor writes the tenant's daily anchor: the hash_curr of the day's
// last event (by chain order) and the day's event count. Insert-only; an
// existing anchor is never overwritten.
func (q *Queries) SealAnchor(ctx context.Context, arg SealAnchorParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO atl.hash_anchors (tenant_id, anchor_date, last_hash, event_count)
		SELECT $1, $2::date, e.hash_curr,
			(SELECT count(*) FROM atl.audit_events
			 WHERE tenant_id = $1 AND event_ts >= $2 AND event_ts < $3)
		FROM atl.audit_events e
		WHERE e.tenant_id = $1 AND e.event_ts >= $2 AND e.event_ts < $3
		ORDER BY e.chain_seq DESC
		LIMIT 1
		ON CONFLICT (tenant_id, anchor_date) DO NOTHING`,
		arg.TenantID, arg.DayStart.UTC(), arg.DayEnd.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetAnchor(ctx context.Context, tenantID string, day time.Time) (AtlHashAnchor, error) {
	row := q.db.QueryRow(ctx, `
		SELECT tenant_id, anchor_date, last_hash, event_count, created_at
		FROM atl.hash_anchors
		WHERE tenant_id = $1 AND anchor_date = $2::date`,
		tenantID, day.UTC())
	var a AtlHashAnchor
	err := row.Scan(&a.TenantID, &a.AnchorDate, &a.LastHash, &a.EventCount, &a.CreatedAt)
	return a, err
}

// ListUnanchoredTenants finds tenants that have events on the given day but
// no sealed anchor for it yet.
func (q *Queries) ListUnanchoredTenants(ctx context.Context, dayStart, dayEnd time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT e.tenant_id
		FROM atl.audit_events e
		WHERE e.event_ts >= $1 AND e.event_ts < $2
			AND NOT EXISTS (
				SELECT 1 FROM atl.hash_anchors a
				WHERE a.tenant_id = e.tenant_id AND a.anchor_date = $1::date
			)`,
		dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type AtlArchiveMarker struct {
	PartitionName string
	RangeStart    pgtype.Timestamptz
	RangeEnd      pgtype.Timestamptz
	ExportPath    string
	ContentDigest string
	RowCount      int64
	ExportedAt    pgtype.Timestamptz
	ExportedBy    string
	DetachedAt    pgtype.Timestamptz
}

const markerColumns = `partition_name, range_start, range_end, export_path,
	content_digest, row_count, exported_at, exported_by, detached_at`

func scanArchiveMarker(row pgx.Row) (AtlArchiveMarker, error) {
	var m AtlArchiveMarker
	err := row.Scan(
		&m.PartitionName, &m.RangeStart, &m.RangeEnd, &m.ExportPath,
		&m.ContentDigest, &m.RowCount, &m.ExportedAt, &m.ExportedBy, &m.DetachedAt,
	)
	return m, err
}

type InsertArchiveMarkerParams struct {
	PartitionName string
	RangeStart    pgtype.Timestamptz
	RangeEnd      pgtype.Timestamptz
	ExportPath    string
	ContentDigest string
	RowCount      int64
	ExportedBy    string
}

// InsertArchiveMarker records a completed export exactly once per partition.
// Returns false if a marker already exists (the export is not repeated).
func (q *Queries) InsertArchiveMarker(ctx context.Context, arg InsertArchiveMarkerParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO atl.archive_markers
			(partition_name, range_start, range_end, export_path, content_digest, row_count, exported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (partition_name) DO NOTHING`,
		arg.PartitionName, arg.RangeStart, arg.RangeEnd, arg.ExportPath,
		arg.ContentDigest, arg.RowCount, arg.ExportedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetArchiveMarker(ctx context.Context, partitionName string) (AtlArchiveMarker, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+markerColumns+` FROM atl.archive_markers WHERE partition_name = $1`,
		partitionName)
	return scanArchiveMarker(row)
}

// ListEventsForExport returns every event in the range, grouped by tenant
// in chain order, for streaming into a cold-store export.
func (q *Queries) ListEventsForExport(ctx context.Context, from, to pgtype.Timestamptz) ([]AtlAuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM atl.audit_events
		WHERE event_ts >= $1 AND event_ts < $2
		ORDER BY tenant_id, chain_seq`,
		from, to)
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

// SetMarkerDetached stamps the detach timestamp when the partition is
// dropped. The only mutation a marker ever receives.
func (q *Queries) SetMarkerDetached(ctx context.Context, partitionName string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE atl.archive_markers SET detached_at = now()
		WHERE partition_name = $1 AND detached_at IS NULL`,
		partitionName)
	return err
}

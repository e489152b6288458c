package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type AtlPartition struct {
	PartitionName string
	RangeStart    pgtype.Timestamptz
	RangeEnd      pgtype.Timestamptz
	CreatedAt     pgtype.Timestamptz
	DroppedAt     pgtype.Timestamptz
}

func scanPartition(row pgx.Row) (AtlPartition, error) {
	var p AtlPartition
	err := row.Scan(&p.PartitionName, &p.RangeStart, &p.RangeEnd, &p.CreatedAt, &p.DroppedAt)
	return p, err
}

type CreatePartitionParams struct {
	PartitionName string
	RangeStart    time.Time
	RangeEnd      time.Time
}

// CreatePartition creates the monthly child table and its metadata row.
// Idempotent: a no-op if the partition already exists. The table name is
// derived from the month, never from user input, so building DDL with it is
// safe.
func (q *Queries) CreatePartition(ctx context.Context, arg CreatePartitionParams) (bool, error) {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS atl.%s PARTITION OF atl.audit_events FOR VALUES FROM ('%s') TO ('%s')`,
		arg.PartitionName,
		arg.RangeStart.UTC().Format(time.RFC3339),
		arg.RangeEnd.UTC().Format(time.RFC3339),
	)
	if _, err := q.db.Exec(ctx, ddl); err != nil {
		return false, fmt.Errorf("create partition %s: %w", arg.PartitionName, err)
	}
	tag, err := q.db.Exec(ctx, `
		INSERT INTO atl.partitions (partition_name, range_start, range_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition_name) DO NOTHING`,
		arg.PartitionName, arg.RangeStart, arg.RangeEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) GetPartition(ctx context.Context, name string) (AtlPartition, error) {
	row := q.db.QueryRow(ctx, `
		SELECT partition_name, range_start, range_end, created_at, dropped_at
		FROM atl.partitions WHERE partition_name = $1`, name)
	return scanPartition(row)
}

func (q *Queries) ListPartitions(ctx context.Context) ([]AtlPartition, error) {
	rows, err := q.db.Query(ctx, `
		SELECT partition_name, range_start, range_end, created_at, dropped_at
		FROM atl.partitions
		ORDER BY range_start`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parts []AtlPartition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// DetachAndDropPartition removes a partition's storage and marks its
// metadata in one step. Must run inside a transaction together with the
// retention precondition checks.
func (q *Queries) DetachAndDropPartition(ctx context.Context, name string) error {
	if _, err := q.db.Exec(ctx,
		fmt.Sprintf(`ALTER TABLE atl.audit_events DETACH PARTITION atl.%s`, name)); err != nil {
		return fmt.Errorf("detach partition %s: %w", name, err)
	}
	if _, err := q.db.Exec(ctx, fmt.Sprintf(`DROP TABLE atl.%s`, name)); err != nil {
		return fmt.Errorf("drop partition %s: %w", name, err)
	}
	if _, err := q.db.Exec(ctx,
		`UPDATE atl.partitions SET dropped_at = now() WHERE partition_name = $1`, name); err != nil {
		return err
	}
	return nil
}

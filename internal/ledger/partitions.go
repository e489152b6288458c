package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

// EnsureHorizon creates any missing monthly partitions covering
// [now, now+lookaheadMonths]. Idempotent and safe to run concurrently with
// appends and with itself.
func (s *Service) EnsureHorizon(ctx context.Context, now time.Time, lookaheadMonths int) ([]string, error) {
	var created []string
	base := core.MonthStart(now)
	for m := 0; m <= lookaheadMonths; m++ {
		start := base.AddDate(0, m, 0)
		name, err := s.ensureMonth(ctx, start)
		if err != nil {
			return created, err
		}
		if name != "" {
			created = append(created, name)
		}
	}
	return created, nil
}

// EnsureRange creates partitions covering every month touched by [from, to].
// Used for backfill ingestion of historical event timestamps.
func (s *Service) EnsureRange(ctx context.Context, from, to time.Time) error {
	for start := core.MonthStart(from); !start.After(to); start = start.AddDate(0, 1, 0) {
		if _, err := s.ensureMonth(ctx, start); err != nil {
			return err
		}
	}
	return nil
}

// ensureCoverage guarantees a partition exists for the month of ts, so an
// append never depends on the housekeeping horizon: backfilled or far-future
// timestamps create their month on demand. Writing into a month already
// removed by retention is refused.
func (s *Service) ensureCoverage(ctx context.Context, ts time.Time) error {
	p, err := s.queries.GetPartition(ctx, core.PartitionName(ts))
	switch {
	case err == nil:
		if p.DroppedAt.Valid {
			return core.NewAppError(core.ErrValidation, "event_ts falls in a segment removed by retention")
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		_, err := s.ensureMonth(ctx, core.MonthStart(ts))
		return err
	default:
		return err
	}
}

func (s *Service) ensureMonth(ctx context.Context, start time.Time) (string, error) {
	rangeStart, rangeEnd := core.MonthRange(start)
	name := core.PartitionName(start)
	created, err := s.queries.CreatePartition(ctx, store.CreatePartitionParams{
		PartitionName: name,
		RangeStart:    rangeStart,
		RangeEnd:      rangeEnd,
	})
	if err != nil {
		return "", err
	}
	if !created {
		return "", nil
	}
	observability.PartitionsEnsuredTotal.Inc()
	s.log.Info("partition created", zap.String("partition", name))
	return name, nil
}

func (s *Service) ListPartitions(ctx context.Context) ([]core.Partition, error) {
	rows, err := s.queries.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	parts := make([]core.Partition, len(rows))
	for i, p := range rows {
		parts[i] = core.Partition{
			Name:       p.PartitionName,
			RangeStart: p.RangeStart.Time,
			RangeEnd:   p.RangeEnd.Time,
			CreatedAt:  p.CreatedAt.Time,
		}
		if p.DroppedAt.Valid {
			t := p.DroppedAt.Time
			parts[i].DroppedAt = &t
		}
	}
	return parts, nil
}

// DropPartition physically removes a sealed partition's storage and
// metadata in one transaction. It is the retention path's whole-segment
// delete: it requires a prior archive marker with a recorded export and
// never touches individual rows. Callers must hold the retention
// capability; the API boundary enforces that.
func (s *Service) DropPartition(ctx context.Context, name string) error {
	p, err := s.queries.GetPartition(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.NewAppError(core.ErrNotFound, "partition not found")
		}
		return err
	}
	if p.DroppedAt.Valid {
		return core.NewAppError(core.ErrConflict, "partition already dropped")
	}
	if !core.Sealed(p.RangeEnd.Time, time.Now()) {
		return core.NewAppError(core.ErrRetentionPrecondition, "partition is not sealed; current and future segments cannot be dropped")
	}

	marker, err := s.queries.GetArchiveMarker(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.NewAppError(core.ErrRetentionPrecondition, "no archive marker exists for this partition")
		}
		return err
	}
	if marker.ExportPath == "" {
		return core.NewAppError(core.ErrRetentionPrecondition, "archive marker has no export location")
	}
	if !marker.RangeStart.Time.Equal(p.RangeStart.Time) || !marker.RangeEnd.Time.Equal(p.RangeEnd.Time) {
		return core.NewAppError(core.ErrRetentionPrecondition, "archive marker range does not match partition range")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	qtx := s.queries.WithTx(tx)

	if err := qtx.DetachAndDropPartition(ctx, name); err != nil {
		return err
	}
	if err := qtx.SetMarkerDetached(ctx, name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	observability.PartitionsDroppedTotal.Inc()
	s.log.Info("partition dropped",
		zap.String("partition", name),
		zap.Int64("archived_rows", marker.RowCount),
	)
	return nil
}

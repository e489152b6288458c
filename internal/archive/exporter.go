// Package archive exports sealed partitions to cold storage and records the
// provenance markers that gate retention drops.
package archive

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

type Exporter struct {
	queries *store.Queries
	root    string
	log     *zap.Logger
}

func New(pool *pgxpool.Pool, root string, log *zap.Logger) *Exporter {
	return &Exporter{
		queries: store.New(pool),
		root:    root,
		log:     log,
	}
}

// exportRow is one JSONL line in a cold-store export. Payload columns stay
// ciphertext exactly as stored; hash fields are included so an archived
// partition remains independently checkable against its anchors.
type exportRow struct {
	EventID        string    `json:"event_id"`
	EventTS        time.Time `json:"event_ts"`
	TenantID       string    `json:"tenant_id"`
	EventType      string    `json:"event_type"`
	Severity       string    `json:"severity"`
	SchemaVersion  int32     `json:"schema_version"`
	InstanceID     *string   `json:"instance_id,omitempty"`
	StepID         *string   `json:"step_id,omitempty"`
	EntityType     *string   `json:"entity_type,omitempty"`
	EntityID       *string   `json:"entity_id,omitempty"`
	EntitySnapshot []byte    `json:"entity_snapshot,omitempty"`
	Actor          json.RawMessage `json:"actor"`
	ActorID        string    `json:"actor_id"`
	ActorIsAdmin   bool      `json:"actor_is_admin"`
	Action         string    `json:"action"`
	StateBefore    []byte    `json:"state_before,omitempty"`
	StateAfter     []byte    `json:"state_after,omitempty"`
	Detail         []byte    `json:"detail,omitempty"`
	CorrelationID  *string   `json:"correlation_id,omitempty"`
	SessionID      *string   `json:"session_id,omitempty"`
	TraceID        *string   `json:"trace_id,omitempty"`
	OriginIP       *string   `json:"origin_ip,omitempty"`
	ChainSeq       int64     `json:"chain_seq"`
	HashPrev       string    `json:"hash_prev"`
	HashCurr       string    `json:"hash_curr"`
	KeyVersion     int32     `json:"key_version"`
	Redacted       bool      `json:"redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArchivePartition exports a sealed partition's rows as JSONL, digests the
// export, and writes exactly one archive marker. Re-archiving a partition
// that already has a marker returns the existing marker unchanged.
func (e *Exporter) ArchivePartition(ctx context.Context, name, operator string) (*core.ArchiveMarker, error) {
	start := time.Now()
	defer func() {
		observability.ArchiveDuration.Observe(time.Since(start).Seconds())
	}()

	p, err := e.queries.GetPartition(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewAppError(core.ErrNotFound, "partition not found")
		}
		return nil, err
	}
	if p.DroppedAt.Valid {
		return nil, core.NewAppError(core.ErrConflict, "partition already dropped")
	}
	if !core.Sealed(p.RangeEnd.Time, time.Now()) {
		return nil, core.NewAppError(core.ErrConflict, "partition is not sealed; only past segments can be archived")
	}

	if marker, err := e.queries.GetArchiveMarker(ctx, name); err == nil {
		return markerFromRow(&marker), nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	rows, err := e.queries.ListEventsForExport(ctx, p.RangeStart, p.RangeEnd)
	if err != nil {
		return nil, err
	}

	exportPath := filepath.Join(e.root, name+".jsonl")
	digest, count, err := e.writeExport(exportPath, rows)
	if err != nil {
		return nil, err
	}

	inserted, err := e.queries.InsertArchiveMarker(ctx, store.InsertArchiveMarkerParams{
		PartitionName: name,
		RangeStart:    p.RangeStart,
		RangeEnd:      p.RangeEnd,
		ExportPath:    exportPath,
		ContentDigest: digest,
		RowCount:      count,
		ExportedBy:    operator,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost a race with a concurrent archive; theirs wins.
		marker, err := e.queries.GetArchiveMarker(ctx, name)
		if err != nil {
			return nil, err
		}
		return markerFromRow(&marker), nil
	}

	observability.ArchiveRowsTotal.Add(float64(count))
	e.log.Info("partition archived",
		zap.String("partition", name),
		zap.String("export_path", exportPath),
		zap.Int64("rows", count),
		zap.String("digest", digest),
	)

	marker, err := e.queries.GetArchiveMarker(ctx, name)
	if err != nil {
		return nil, err
	}
	return markerFromRow(&marker), nil
}

func markerFromRow(m *store.AtlArchiveMarker) *core.ArchiveMarker {
	out := &core.ArchiveMarker{
		PartitionName: m.PartitionName,
		RangeStart:    m.RangeStart.Time,
		RangeEnd:      m.RangeEnd.Time,
		ExportPath:    m.ExportPath,
		ContentDigest: m.ContentDigest,
		RowCount:      m.RowCount,
		ExportedAt:    m.ExportedAt.Time,
		ExportedBy:    m.ExportedBy,
	}
	if m.DetachedAt.Valid {
		t := m.DetachedAt.Time
		out.DetachedAt = &t
	}
	return out
}

func (e *Exporter) writeExport(path string, rows []store.AtlAuditEvent) (string, int64, error) {
	if err := os.MkdirAll(e.root, 0o750); err != nil {
		return "", 0, fmt.Errorf("create archive root: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	w := bufio.NewWriter(io.MultiWriter(f, h))
	enc := json.NewEncoder(w)

	var count int64
	for i := range rows {
		if err := enc.Encode(toExportRow(&rows[i])); err != nil {
			return "", 0, fmt.Errorf("encode export row: %w", err)
		}
		count++
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	if err := f.Sync(); err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), count, nil
}

func toExportRow(r *store.AtlAuditEvent) exportRow {
	return exportRow{
		EventID:        r.EventID,
		EventTS:        r.EventTS.Time.UTC(),
		TenantID:       r.TenantID,
		EventType:      r.EventType,
		Severity:       r.Severity,
		SchemaVersion:  r.SchemaVersion,
		InstanceID:     textPtr(r.InstanceID.String, r.InstanceID.Valid),
		StepID:         textPtr(r.StepID.String, r.StepID.Valid),
		EntityType:     textPtr(r.EntityType.String, r.EntityType.Valid),
		EntityID:       textPtr(r.EntityID.String, r.EntityID.Valid),
		EntitySnapshot: r.EntitySnapshot,
		Actor:          r.Actor,
		ActorID:        r.ActorID,
		ActorIsAdmin:   r.ActorIsAdmin,
		Action:         r.Action,
		StateBefore:    r.StateBefore,
		StateAfter:     r.StateAfter,
		Detail:         r.Detail,
		CorrelationID:  textPtr(r.CorrelationID.String, r.CorrelationID.Valid),
		SessionID:      textPtr(r.SessionID.String, r.SessionID.Valid),
		TraceID:        textPtr(r.TraceID.String, r.TraceID.Valid),
		OriginIP:       textPtr(r.OriginIP.String, r.OriginIP.Valid),
		ChainSeq:       r.ChainSeq,
		HashPrev:       r.HashPrev,
		HashCurr:       r.HashCurr,
		KeyVersion:     r.KeyVersion,
		Redacted:       r.Redacted,
		CreatedAt:      r.CreatedAt.Time.UTC(),
	}
}

func textPtr(s string, valid bool) *string {
	if !valid {
		return nil
	}
	return &s
}

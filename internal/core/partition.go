package core

import (
	"fmt"
	"time"
)

// The ledger timeline is divided into monthly UTC segments. Each segment is
// independently creatable and droppable, so retention is a metadata-only
// partition drop rather than a row-by-row delete.

type Partition struct {
	Name       string     `json:"partition_name"`
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	CreatedAt  time.Time  `json:"created_at"`
	DroppedAt  *time.Time `json:"dropped_at,omitempty"`
}

// ArchiveMarker records that a partition's contents were exported to cold
// storage. It must exist before the partition may be dropped.
type ArchiveMarker struct {
	PartitionName string     `json:"partition_name"`
	RangeStart    time.Time  `json:"range_start"`
	RangeEnd      time.Time  `json:"range_end"`
	ExportPath    string     `json:"export_path"`
	ContentDigest string     `json:"content_digest"`
	RowCount      int64      `json:"row_count"`
	ExportedAt    time.Time  `json:"exported_at"`
	ExportedBy    string     `json:"exported_by"`
	DetachedAt    *time.Time `json:"detached_at,omitempty"`
}

// MonthStart truncates t to the first instant of its UTC month.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthRange returns the [start, end) bounds of the UTC month containing t.
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := MonthStart(t)
	return start, start.AddDate(0, 1, 0)
}

// PartitionName returns the child table name for the month containing t,
// e.g. audit_events_202608.
func PartitionName(t time.Time) string {
	start := MonthStart(t)
	return fmt.Sprintf("audit_events_%04d%02d", start.Year(), int(start.Month()))
}

// Sealed reports whether the month containing t lies entirely in the past,
// i.e. no new appends can target its partition.
func Sealed(rangeEnd, now time.Time) bool {
	return !rangeEnd.After(MonthStart(now))
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("atl"),
		postgres.WithUsername("atl"),
		postgres.WithPassword("atl_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections"),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	pool, err := NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("failed to run migrations: %s", err)
	}

	queries := New(pool)

	t.Run("EnqueueOutbox", func(t *testing.T) {
		item, err := queries.EnqueueOutbox(ctx, EnqueueOutboxParams{
			ItemID:      "item-1",
			TenantID:    "acme",
			Payload:     []byte(`{"event_type":"user.login"}`),
			MaxAttempts: 3,
		})
		if err != nil {
			t.Fatalf("failed to enqueue: %s", err)
		}
		if item.Status != "pending" {
			t.Errorf("expected status pending, got %s", item.Status)
		}
		if item.MaxAttempts != 3 {
			t.Errorf("expected max_attempts 3, got %d", item.MaxAttempts)
		}
	})

	t.Run("ClaimOutboxBatch", func(t *testing.T) {
		items, err := queries.ClaimOutboxBatch(ctx, ClaimOutboxBatchParams{
			WorkerID:    "worker-a",
			Limit:       10,
			LockTTLSecs: 300,
		})
		if err != nil {
			t.Fatalf("failed to claim: %s", err)
		}
		if len(items) != 1 {
			t.Fatalf("expected 1 claimed item, got %d", len(items))
		}
		if items[0].Status != "processing" {
			t.Errorf("expected status processing, got %s", items[0].Status)
		}
		if items[0].LockedBy.String != "worker-a" {
			t.Errorf("expected locked_by worker-a, got %s", items[0].LockedBy.String)
		}

		// A second claim must not see the locked item.
		again, err := queries.ClaimOutboxBatch(ctx, ClaimOutboxBatchParams{
			WorkerID:    "worker-b",
			Limit:       10,
			LockTTLSecs: 300,
		})
		if err != nil {
			t.Fatalf("failed to claim: %s", err)
		}
		if len(again) != 0 {
			t.Errorf("expected no claimable items, got %d", len(again))
		}
	})

	t.Run("FailedItemRespectsBackoff", func(t *testing.T) {
		err := queries.MarkOutboxFailed(ctx, MarkFailedParams{
			ItemID:        "item-1",
			Attempts:      1,
			LastError:     []byte(`{"error":"boom"}`),
			NextAttemptAt: pgtype.Timestamptz{Time: time.Now().Add(time.Hour), Valid: true},
		})
		if err != nil {
			t.Fatalf("failed to mark failed: %s", err)
		}

		items, err := queries.ClaimOutboxBatch(ctx, ClaimOutboxBatchParams{
			WorkerID:    "worker-a",
			Limit:       10,
			LockTTLSecs: 300,
		})
		if err != nil {
			t.Fatalf("failed to claim: %s", err)
		}
		if len(items) != 0 {
			t.Errorf("expected backoff to defer item, got %d items", len(items))
		}

		// Collapse the backoff window and the item becomes claimable.
		err = queries.MarkOutboxFailed(ctx, MarkFailedParams{
			ItemID:        "item-1",
			Attempts:      1,
			LastError:     []byte(`{"error":"boom"}`),
			NextAttemptAt: pgtype.Timestamptz{Time: time.Now().Add(-time.Second), Valid: true},
		})
		if err != nil {
			t.Fatalf("failed to mark failed: %s", err)
		}
		items, err = queries.ClaimOutboxBatch(ctx, ClaimOutboxBatchParams{
			WorkerID:    "worker-a",
			Limit:       10,
			LockTTLSecs: 300,
		})
		if err != nil {
			t.Fatalf("failed to claim: %s", err)
		}
		if len(items) != 1 {
			t.Fatalf("expected 1 claimable item after backoff, got %d", len(items))
		}
		if items[0].Attempts != 1 {
			t.Errorf("expected attempts 1, got %d", items[0].Attempts)
		}
	})

	t.Run("DeadAndReplay", func(t *testing.T) {
		err := queries.MarkOutboxDead(ctx, MarkDeadParams{
			ItemID:    "item-1",
			Attempts:  3,
			LastError: []byte(`{"error":"exhausted"}`),
		})
		if err != nil {
			t.Fatalf("failed to mark dead: %s", err)
		}

		items, err := queries.ClaimOutboxBatch(ctx, ClaimOutboxBatchParams{
			WorkerID:    "worker-a",
			Limit:       10,
			LockTTLSecs: 300,
		})
		if err != nil {
			t.Fatalf("failed to claim: %s", err)
		}
		if len(items) != 0 {
			t.Errorf("dead item must not be claimable, got %d items", len(items))
		}

		dead, err := queries.ListDeadOutbox(ctx, 10)
		if err != nil {
			t.Fatalf("failed to list dead: %s", err)
		}
		if len(dead) != 1 || dead[0].ItemID != "item-1" {
			t.Fatalf("expected item-1 in dead list, got %v", dead)
		}

		replayed, err := queries.ReplayDeadOutbox(ctx, "item-1")
		if err != nil {
			t.Fatalf("failed to replay: %s", err)
		}
		if replayed.Status != "pending" {
			t.Errorf("expected status pending after replay, got %s", replayed.Status)
		}
		if replayed.Attempts != 0 {
			t.Errorf("expected attempts reset to 0, got %d", replayed.Attempts)
		}

		// Replaying a non-dead item is a no-op error.
		if _, err := queries.ReplayDeadOutbox(ctx, "item-1"); err == nil {
			t.Error("expected error replaying a pending item")
		}
	})

	t.Run("QueueDepth", func(t *testing.T) {
		depth, err := queries.GetOutboxQueueDepth(ctx)
		if err != nil {
			t.Fatalf("failed to get depth: %s", err)
		}
		if depth != 1 {
			t.Errorf("expected depth 1, got %d", depth)
		}
	})

	t.Run("CreatePartitionIdempotent", func(t *testing.T) {
		start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)

		created, err := queries.CreatePartition(ctx, CreatePartitionParams{
			PartitionName: "audit_events_202605",
			RangeStart:    start,
			RangeEnd:      end,
		})
		if err != nil {
			t.Fatalf("failed to create partition: %s", err)
		}
		if !created {
			t.Error("expected first create to report created")
		}

		created, err = queries.CreatePartition(ctx, CreatePartitionParams{
			PartitionName: "audit_events_202605",
			RangeStart:    start,
			RangeEnd:      end,
		})
		if err != nil {
			t.Fatalf("repeat create must not fail: %s", err)
		}
		if created {
			t.Error("expected repeat create to be a no-op")
		}

		parts, err := queries.ListPartitions(ctx)
		if err != nil {
			t.Fatalf("failed to list partitions: %s", err)
		}
		if len(parts) != 1 {
			t.Errorf("expected 1 partition, got %d", len(parts))
		}
	})
}

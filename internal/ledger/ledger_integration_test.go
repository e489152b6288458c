package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/archive"
	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/crypto"
	"github.com/lzjever/mbos-atl/internal/store"
)

const testMaster = "6368616e676520746869732070617373776f726420746f206120736563726574"

func testDraft(tenant string, ts time.Time, n int) *core.EventDraft {
	return &core.EventDraft{
		TenantID:      tenant,
		EventTS:       ts,
		EventType:     "user.login",
		Severity:      core.SeverityInfo,
		SchemaVersion: 1,
		Actor:         json.RawMessage(`{"source":"test"}`),
		ActorID:       "tester",
		Action:        fmt.Sprintf("login attempt %d", n),
		Detail:        json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
	}
}

func TestLedgerIntegration(t *testing.T) {
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

	pool, err := store.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		t.Fatalf("failed to run migrations: %s", err)
	}

	keyring, err := crypto.NewKeyring(testMaster, 1)
	if err != nil {
		t.Fatalf("failed to build keyring: %s", err)
	}
	svc := New(pool, keyring, zap.NewNop())

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.EnsureRange(ctx, from, to); err != nil {
		t.Fatalf("failed to ensure partitions: %s", err)
	}

	t.Run("AppendBuildsChain", func(t *testing.T) {
		tenant := "tenant-chain"
		base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

		var prevHash string
		for i := 1; i <= 5; i++ {
			res, err := svc.Append(ctx, testDraft(tenant, base.Add(time.Duration(i)*time.Minute), i))
			if err != nil {
				t.Fatalf("append %d failed: %s", i, err)
			}
			if res.Deduped {
				t.Fatalf("append %d unexpectedly deduped", i)
			}
			if res.ChainSeq != int64(i) {
				t.Errorf("expected chain_seq %d, got %d", i, res.ChainSeq)
			}
			event, err := svc.GetEvent(ctx, tenant, res.EventID, &res.EventTS)
			if err != nil {
				t.Fatalf("get event %d failed: %s", i, err)
			}
			if i == 1 {
				if event.HashPrev == "" {
					t.Error("first event must link to the genesis hash")
				}
			} else if event.HashPrev != prevHash {
				t.Errorf("event %d hash_prev = %s, want %s", i, event.HashPrev, prevHash)
			}
			if string(event.Detail) != fmt.Sprintf(`{"n":%d}`, i) {
				t.Errorf("event %d detail round-trip failed: %s", i, event.Detail)
			}
			prevHash = event.HashCurr
		}

		result, err := svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if !result.OK {
			t.Errorf("expected intact chain, first violation %s", result.FirstViolationID)
		}
		if result.Checked != 5 {
			t.Errorf("expected 5 events checked, got %d", result.Checked)
		}
	})

	t.Run("ConcurrentAppendsDoNotFork", func(t *testing.T) {
		tenant := "tenant-concurrent"
		base := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)

		const workers = 8
		const perWorker = 5

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		seqs := make(chan int64, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					res, err := svc.Append(ctx, testDraft(tenant, base.Add(time.Duration(w*perWorker+i)*time.Second), w*perWorker+i))
					if err != nil {
						errs <- err
						return
					}
					seqs <- res.ChainSeq
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		close(seqs)

		for err := range errs {
			t.Fatalf("concurrent append failed: %s", err)
		}

		seen := make(map[int64]bool)
		for s := range seqs {
			if seen[s] {
				t.Fatalf("chain forked: duplicate chain_seq %d", s)
			}
			seen[s] = true
		}
		if len(seen) != workers*perWorker {
			t.Fatalf("expected %d events, got %d", workers*perWorker, len(seen))
		}
		for s := int64(1); s <= int64(workers*perWorker); s++ {
			if !seen[s] {
				t.Errorf("missing chain_seq %d", s)
			}
		}

		result, err := svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if !result.OK {
			t.Errorf("expected intact chain, first violation %s", result.FirstViolationID)
		}
	})

	t.Run("DedupSuppressesReplay", func(t *testing.T) {
		tenant := "tenant-dedup"
		ts := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
		corr := "corr-123"

		d := testDraft(tenant, ts, 1)
		d.CorrelationID = &corr

		first, err := svc.Append(ctx, d)
		if err != nil {
			t.Fatalf("first append failed: %s", err)
		}
		if first.Deduped {
			t.Fatal("first append must not dedupe")
		}

		second, err := svc.Append(ctx, d)
		if err != nil {
			t.Fatalf("replayed append failed: %s", err)
		}
		if !second.Deduped {
			t.Fatal("replayed append must dedupe")
		}
		if second.EventID != first.EventID {
			t.Errorf("dedup returned %s, want original %s", second.EventID, first.EventID)
		}

		// The chain head must not have advanced: the next distinct event
		// takes seq 2, not 3.
		next, err := svc.Append(ctx, testDraft(tenant, ts.Add(time.Minute), 2))
		if err != nil {
			t.Fatalf("follow-up append failed: %s", err)
		}
		if next.ChainSeq != 2 {
			t.Errorf("expected chain_seq 2 after dedup, got %d", next.ChainSeq)
		}

		result, err := svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if !result.OK || result.Checked != 2 {
			t.Errorf("expected 2 intact events, got checked=%d ok=%v", result.Checked, result.OK)
		}
	})

	t.Run("BackfilledTimestampDoesNotBreakVerify", func(t *testing.T) {
		tenant := "tenant-backfill"
		day := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)

		// The second event is backfilled with the previous day's timestamp,
		// so a verification window over the 10th selects chain_seq 1 and 3
		// with an interior gap.
		timestamps := []time.Time{day, day.AddDate(0, 0, -1), day.Add(time.Hour)}
		for i, ts := range timestamps {
			if _, err := svc.Append(ctx, testDraft(tenant, ts, i+1)); err != nil {
				t.Fatalf("append %d failed: %s", i+1, err)
			}
		}

		dayStart := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
		result, err := svc.VerifyIntegrity(ctx, tenant, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if !result.OK {
			t.Errorf("intact chain reported violation at %s", result.FirstViolationID)
		}
		if result.Checked != 2 {
			t.Errorf("expected 2 events checked in window, got %d", result.Checked)
		}

		result, err = svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("full verify failed: %s", err)
		}
		if !result.OK || result.Checked != 3 {
			t.Errorf("expected 3 intact events, got checked=%d ok=%v", result.Checked, result.OK)
		}
	})

	t.Run("AppendOutsideHorizonCreatesPartition", func(t *testing.T) {
		tenant := "tenant-horizon"
		ts := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

		res, err := svc.Append(ctx, testDraft(tenant, ts, 1))
		if err != nil {
			t.Fatalf("append outside ensured range failed: %s", err)
		}
		if _, err := svc.GetEvent(ctx, tenant, res.EventID, &res.EventTS); err != nil {
			t.Fatalf("get event failed: %s", err)
		}

		parts, err := svc.ListPartitions(ctx)
		if err != nil {
			t.Fatalf("list partitions failed: %s", err)
		}
		found := false
		for _, p := range parts {
			if p.Name == "audit_events_202506" {
				found = true
			}
		}
		if !found {
			t.Error("expected partition audit_events_202506 to be created on demand")
		}
	})

	t.Run("TimelinePagesThroughEqualTimestamps", func(t *testing.T) {
		tenant := "tenant-cursor"
		shared := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

		for i := 1; i <= 3; i++ {
			if _, err := svc.Append(ctx, testDraft(tenant, shared, i)); err != nil {
				t.Fatalf("append %d failed: %s", i, err)
			}
		}

		var got []string
		var cursor *time.Time
		var cursorSeq int64
		for page := 0; page < 4; page++ {
			events, err := svc.Timeline(ctx, TimelineQuery{
				TenantID:  tenant,
				Cursor:    cursor,
				CursorSeq: cursorSeq,
				Limit:     1,
			})
			if err != nil {
				t.Fatalf("timeline page %d failed: %s", page, err)
			}
			if len(events) == 0 {
				break
			}
			got = append(got, events[0].EventID)
			ts := events[0].EventTS
			cursor, cursorSeq = &ts, events[0].ChainSeq
		}

		if len(got) != 3 {
			t.Fatalf("expected 3 events across pages, got %d", len(got))
		}
		seen := make(map[string]bool)
		for _, id := range got {
			if seen[id] {
				t.Fatalf("event %s returned on two pages", id)
			}
			seen[id] = true
		}
	})

	t.Run("DirectMutationRejected", func(t *testing.T) {
		tenant := "tenant-immutable"
		ts := time.Date(2026, 5, 13, 9, 0, 0, 0, time.UTC)

		res, err := svc.Append(ctx, testDraft(tenant, ts, 1))
		if err != nil {
			t.Fatalf("append failed: %s", err)
		}

		_, err = pool.Exec(ctx,
			`UPDATE atl.audit_events SET action = 'rewritten' WHERE tenant_id = $1 AND event_id = $2`,
			tenant, res.EventID)
		if err == nil {
			t.Error("expected UPDATE to be rejected")
		}

		_, err = pool.Exec(ctx,
			`DELETE FROM atl.audit_events WHERE tenant_id = $1 AND event_id = $2`,
			tenant, res.EventID)
		if err == nil {
			t.Error("expected DELETE to be rejected")
		}

		// The rewrite query without the override armed is mapped onto the
		// domain error instead of leaking a raw database failure.
		err = svc.Queries().RewriteEventCiphertext(ctx, store.RewriteCiphertextParams{
			TenantID:   tenant,
			EventID:    res.EventID,
			EventTS:    pgtype.Timestamptz{Time: res.EventTS, Valid: true},
			KeyVersion: 1,
		})
		if appErr, ok := err.(*core.AppError); !ok || appErr.Code != core.ErrImmutabilityViolation {
			t.Fatalf("expected immutability violation, got %v", err)
		}

		// The row is untouched.
		event, err := svc.GetEvent(ctx, tenant, res.EventID, &res.EventTS)
		if err != nil {
			t.Fatalf("get event failed: %s", err)
		}
		if event.Action != "login attempt 1" {
			t.Errorf("expected original action, got %s", event.Action)
		}
	})

	t.Run("CorruptCiphertextIsSurfaced", func(t *testing.T) {
		tenant := "tenant-ciphertext"
		ts := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)

		res, err := svc.Append(ctx, testDraft(tenant, ts, 1))
		if err != nil {
			t.Fatalf("append failed: %s", err)
		}

		// Mangle the stored ciphertext through the rewrite override.
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %s", err)
		}
		if _, err := tx.Exec(ctx, `SET LOCAL atl.allow_rewrite = 'on'`); err != nil {
			t.Fatalf("set local failed: %s", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE atl.audit_events SET detail = $3 WHERE tenant_id = $1 AND event_id = $2`,
			tenant, res.EventID, []byte{0x00, 0x01, 0x02}); err != nil {
			t.Fatalf("corrupt update failed: %s", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit failed: %s", err)
		}

		_, err = svc.GetEvent(ctx, tenant, res.EventID, &res.EventTS)
		if appErr, ok := err.(*core.AppError); !ok || appErr.Code != core.ErrIntegrityViolation {
			t.Fatalf("expected integrity violation for corrupt ciphertext, got %v", err)
		}
	})

	t.Run("TamperIsDetected", func(t *testing.T) {
		tenant := "tenant-tamper"
		base := time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC)

		ids := make([]string, 0, 3)
		for i := 1; i <= 3; i++ {
			res, err := svc.Append(ctx, testDraft(tenant, base.Add(time.Duration(i)*time.Minute), i))
			if err != nil {
				t.Fatalf("append %d failed: %s", i, err)
			}
			ids = append(ids, res.EventID)
		}

		// Forge the second event the way an attacker with rewrite access
		// would: arm the rotation override and edit content in place.
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %s", err)
		}
		if _, err := tx.Exec(ctx, `SET LOCAL atl.allow_rewrite = 'on'`); err != nil {
			t.Fatalf("set local failed: %s", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE atl.audit_events SET action = 'forged' WHERE tenant_id = $1 AND event_id = $2`,
			tenant, ids[1]); err != nil {
			t.Fatalf("tamper update failed: %s", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit failed: %s", err)
		}

		result, err := svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if result.OK {
			t.Fatal("expected verification to fail after tamper")
		}
		if result.FirstViolationID != ids[1] {
			t.Errorf("expected first violation %s, got %s", ids[1], result.FirstViolationID)
		}
	})

	t.Run("KeyRotationPreservesChain", func(t *testing.T) {
		tenant := "tenant-rotate"
		base := time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)

		var firstID string
		var firstTS time.Time
		for i := 1; i <= 4; i++ {
			res, err := svc.Append(ctx, testDraft(tenant, base.Add(time.Duration(i)*time.Minute), i))
			if err != nil {
				t.Fatalf("append %d failed: %s", i, err)
			}
			if i == 1 {
				firstID = res.EventID
				firstTS = res.EventTS
			}
		}

		rotated, err := svc.RotateKeys(ctx, tenant, from, to, 2)
		if err != nil {
			t.Fatalf("rotation failed: %s", err)
		}
		if rotated != 4 {
			t.Errorf("expected 4 rotated events, got %d", rotated)
		}

		event, err := svc.GetEvent(ctx, tenant, firstID, &firstTS)
		if err != nil {
			t.Fatalf("get event after rotation failed: %s", err)
		}
		if event.KeyVersion != 2 {
			t.Errorf("expected key_version 2, got %d", event.KeyVersion)
		}
		if string(event.Detail) != `{"n":1}` {
			t.Errorf("payload corrupted by rotation: %s", event.Detail)
		}

		result, err := svc.VerifyIntegrity(ctx, tenant, from, to)
		if err != nil {
			t.Fatalf("verify failed: %s", err)
		}
		if !result.OK {
			t.Errorf("rotation broke the chain, first violation %s", result.FirstViolationID)
		}

		// Rotation is idempotent for already-current rows.
		rotated, err = svc.RotateKeys(ctx, tenant, from, to, 2)
		if err != nil {
			t.Fatalf("repeat rotation failed: %s", err)
		}
		if rotated != 0 {
			t.Errorf("expected 0 rotated on repeat, got %d", rotated)
		}
	})

	t.Run("RetentionRequiresArchive", func(t *testing.T) {
		tenant := "tenant-retention"
		base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

		for i := 1; i <= 3; i++ {
			if _, err := svc.Append(ctx, testDraft(tenant, base.Add(time.Duration(i)*time.Minute), i)); err != nil {
				t.Fatalf("append %d failed: %s", i, err)
			}
		}

		const name = "audit_events_202603"

		// Drop without an archive marker fails the precondition.
		err := svc.DropPartition(ctx, name)
		if appErr, ok := err.(*core.AppError); !ok || appErr.Code != core.ErrRetentionPrecondition {
			t.Fatalf("expected retention precondition error, got %v", err)
		}

		exporter := archive.New(pool, t.TempDir(), zap.NewNop())
		marker, err := exporter.ArchivePartition(ctx, name, "test-operator")
		if err != nil {
			t.Fatalf("archive failed: %s", err)
		}
		if marker.RowCount != 3 {
			t.Errorf("expected 3 exported rows, got %d", marker.RowCount)
		}
		if marker.ContentDigest == "" {
			t.Error("expected a content digest")
		}

		// Re-archiving returns the existing marker unchanged.
		again, err := exporter.ArchivePartition(ctx, name, "other-operator")
		if err != nil {
			t.Fatalf("repeat archive failed: %s", err)
		}
		if again.ExportedBy != "test-operator" || again.ContentDigest != marker.ContentDigest {
			t.Error("repeat archive must not re-export")
		}

		if err := svc.DropPartition(ctx, name); err != nil {
			t.Fatalf("drop after archive failed: %s", err)
		}

		// Dropped data is gone; the drop is recorded.
		events, err := svc.Timeline(ctx, TimelineQuery{TenantID: tenant, Limit: 10})
		if err != nil {
			t.Fatalf("timeline failed: %s", err)
		}
		if len(events) != 0 {
			t.Errorf("expected empty timeline after drop, got %d events", len(events))
		}

		err = svc.DropPartition(ctx, name)
		if appErr, ok := err.(*core.AppError); !ok || appErr.Code != core.ErrConflict {
			t.Fatalf("expected conflict on double drop, got %v", err)
		}

		// The dropped month refuses new appends instead of silently
		// recreating its partition.
		_, err = svc.Append(ctx, testDraft(tenant, base.Add(time.Hour), 4))
		if appErr, ok := err.(*core.AppError); !ok || appErr.Code != core.ErrValidation {
			t.Fatalf("expected validation error for dropped segment, got %v", err)
		}
	})

	t.Run("UnarchivedOrUnsealedPartitionCannotDrop", func(t *testing.T) {
		// No archive marker exists for this partition, and while its range
		// end is in the future it is not sealed either.
		err := svc.DropPartition(ctx, "audit_events_202612")
		if appErr, ok := err.(*core.AppError); !ok ||
			(appErr.Code != core.ErrRetentionPrecondition && appErr.Code != core.ErrConflict) {
			t.Fatalf("expected precondition failure, got %v", err)
		}
	})
}

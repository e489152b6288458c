// Package outbox drains the durable ingestion buffer into the ledger.
// Producers enqueue drafts through the API; the drain worker converts each
// staged item into exactly one chained audit event, with retries, backoff
// and a dead-letter terminal state.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/ledger"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

type Worker struct {
	pool     *pgxpool.Pool
	queries  *store.Queries
	ledger   *ledger.Service
	cfg      Config
	log      *zap.Logger
	workerID string
}

func New(pool *pgxpool.Pool, ledgerSvc *ledger.Service, cfg Config, log *zap.Logger) *Worker {
	host, _ := os.Hostname()
	return &Worker{
		pool:     pool,
		queries:  store.New(pool),
		ledger:   ledgerSvc,
		cfg:      cfg,
		log:      log,
		workerID: fmt.Sprintf("%s-%s", host, core.NewID()),
	}
}

// Run is the drain loop: claim a batch under a lock lease, convert each item
// into a durable audit event, release or retry. A crashed worker's claims
// expire with the lease and are picked up by another worker.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("outbox worker started", zap.String("worker_id", w.workerID))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopping")
			return
		default:
		}

		items, err := w.queries.ClaimOutboxBatch(ctx, store.ClaimOutboxBatchParams{
			WorkerID:    w.workerID,
			Limit:       int32(w.cfg.BatchSize),
			LockTTLSecs: w.cfg.LockTTL.Seconds(),
		})
		if err != nil {
			w.log.Error("claim batch failed", zap.Error(err))
			if !w.sleep(ctx, w.cfg.IdleBackoff) {
				return
			}
			continue
		}
		if len(items) == 0 {
			observability.DrainEmptyTotal.Inc()
			if !w.sleep(ctx, w.cfg.IdleBackoff) {
				return
			}
			continue
		}

		for i := range items {
			item := &items[i]
			log := observability.ItemLogger(w.log, item.ItemID, item.TenantID, int(item.Attempts)+1)
			w.process(ctx, item, log)
		}

		if depth, err := w.queries.GetOutboxQueueDepth(ctx); err == nil {
			observability.OutboxQueueDepth.Set(float64(depth))
		}

		if !w.sleep(ctx, w.cfg.PollInterval) {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, item *store.AtlOutboxItem, log *zap.Logger) {
	var draft core.EventDraft
	if err := json.Unmarshal(item.Payload, &draft); err != nil {
		w.fail(ctx, item, fmt.Errorf("decode payload: %w", err), log)
		return
	}

	result, err := w.ledger.Append(ctx, &draft)
	if err != nil {
		w.fail(ctx, item, err, log)
		return
	}

	if err := w.queries.MarkOutboxPersisted(ctx, store.MarkPersistedParams{
		ItemID:  item.ItemID,
		EventID: result.EventID,
	}); err != nil {
		log.Error("mark persisted failed", zap.Error(err))
		return
	}
	observability.DrainTotal.WithLabelValues("persisted").Inc()
	if result.Deduped {
		log.Info("item deduped onto existing event", zap.String("event_id", result.EventID))
	} else {
		log.Info("item persisted", zap.String("event_id", result.EventID), zap.Int64("chain_seq", result.ChainSeq))
	}
}

func (w *Worker) fail(ctx context.Context, item *store.AtlOutboxItem, itemErr error, log *zap.Logger) {
	errJSON, _ := json.Marshal(map[string]string{"error": itemErr.Error()})
	attempts := item.Attempts + 1

	if attempts >= item.MaxAttempts {
		exhausted := core.NewAppError(core.ErrDeliveryExhausted, itemErr.Error())
		deadJSON, _ := json.Marshal(exhausted)
		if err := w.queries.MarkOutboxDead(ctx, store.MarkDeadParams{
			ItemID:    item.ItemID,
			Attempts:  attempts,
			LastError: deadJSON,
		}); err != nil {
			log.Error("mark dead failed", zap.Error(err))
			return
		}
		observability.DrainTotal.WithLabelValues("dead").Inc()
		log.Error("item dead-lettered after exhausting retries", zap.Error(exhausted))
		return
	}

	backoff := core.NextBackoff(int(attempts), w.cfg.RetryBase, w.cfg.RetryCap)
	if err := w.queries.MarkOutboxFailed(ctx, store.MarkFailedParams{
		ItemID:        item.ItemID,
		Attempts:      attempts,
		LastError:     errJSON,
		NextAttemptAt: pgtype.Timestamptz{Time: time.Now().Add(backoff), Valid: true},
	}); err != nil {
		log.Error("mark failed failed", zap.Error(err))
		return
	}
	observability.DrainTotal.WithLabelValues("failed").Inc()
	observability.DrainRetryTotal.Inc()
	log.Warn("item failed, will retry",
		zap.Error(itemErr),
		zap.Duration("backoff", backoff),
	)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/api/middleware"
	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

type VerifyRequest struct {
	TenantID string     `json:"tenant_id"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

// Verify recomputes the hash chain over a tenant's range and reports the
// first violation, if any.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "invalid JSON body"))
		return
	}
	if req.TenantID == "" {
		WriteError(w, core.NewAppError(core.ErrValidation, "tenant_id is required"))
		return
	}
	from := time.Time{}
	to := time.Now().UTC()
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}

	result, err := a.ledger.VerifyIntegrity(ctx, req.TenantID, from, to)
	if err != nil {
		a.writeServiceError(w, err, "verification failed")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// ListDeadLetters lists outbox items that exhausted their retry budget.
func (a *API) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)

	items, err := a.queries.ListDeadOutbox(ctx, int32(limit))
	if err != nil {
		a.log.Error("list dead letters failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list dead letters"))
		return
	}

	resp := make([]core.OutboxItem, len(items))
	for i := range items {
		resp[i] = outboxItemFromRow(&items[i])
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": resp})
}

// ReplayDeadLetter returns a dead item to the pending pool. Dedup on the
// correlation key keeps a replayed item that actually persisted earlier from
// producing a second event.
func (a *API) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := chi.URLParam(r, "item_id")

	item, err := a.queries.ReplayDeadOutbox(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			observability.DeadLetterReplayTotal.WithLabelValues("rejected").Inc()
			if existing, gerr := a.queries.GetOutboxItem(ctx, itemID); gerr == nil {
				msg := "item is not dead"
				existingItem := outboxItemFromRow(&existing)
				if !existingItem.IsTerminal() {
					msg = "item is still in flight"
				}
				WriteError(w, core.NewAppError(core.ErrConflict, msg))
				return
			}
			WriteError(w, core.NewAppError(core.ErrNotFound, "item not found"))
			return
		}
		a.log.Error("replay failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to replay item"))
		return
	}

	observability.DeadLetterReplayTotal.WithLabelValues("replayed").Inc()
	a.log.Info("dead letter replayed",
		zap.String("item_id", item.ItemID),
		zap.String("tenant_id", item.TenantID),
		zap.String("operator", middleware.GetPrincipal(r).Subject),
	)
	WriteAccepted(w, item.ItemID)
}

// ListPartitions lists monthly segment metadata, dropped segments included.
func (a *API) ListPartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := a.ledger.ListPartitions(r.Context())
	if err != nil {
		a.log.Error("list partitions failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list partitions"))
		return
	}
	if parts == nil {
		parts = []core.Partition{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"partitions": parts})
}

// EnsurePartitions extends the partition horizon on demand.
func (a *API) EnsurePartitions(w http.ResponseWriter, r *http.Request) {
	created, err := a.ledger.EnsureHorizon(r.Context(), time.Now().UTC(), a.cfg.PartitionLookahead)
	if err != nil {
		a.log.Error("ensure partitions failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to ensure partitions"))
		return
	}
	if created == nil {
		created = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"created": created})
}

// ArchivePartition exports a sealed partition to cold storage and records
// the archive marker that later authorizes a retention drop.
func (a *API) ArchivePartition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	operator := middleware.GetPrincipal(r).Subject

	marker, err := a.exporter.ArchivePartition(r.Context(), name, operator)
	if err != nil {
		a.writeServiceError(w, err, "archive failed")
		return
	}

	WriteJSON(w, http.StatusOK, marker)
}

// DropPartition drops an archived, sealed partition. The retention
// capability is required by the router; the service enforces the archive
// marker precondition.
func (a *API) DropPartition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := a.ledger.DropPartition(r.Context(), name); err != nil {
		a.writeServiceError(w, err, "drop partition failed")
		return
	}

	a.log.Info("partition dropped",
		zap.String("partition", name),
		zap.String("operator", middleware.GetPrincipal(r).Subject),
	)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"dropped": name})
}

type RotateKeysRequest struct {
	TenantID   string    `json:"tenant_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	NewVersion int       `json:"new_version"`
}

// RotateKeys re-encrypts a tenant's payload columns under a new key version.
// Hashes are computed over plaintext, so the chain is unaffected.
func (a *API) RotateKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RotateKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "invalid JSON body"))
		return
	}
	if req.TenantID == "" {
		WriteError(w, core.NewAppError(core.ErrValidation, "tenant_id is required"))
		return
	}
	if req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To) {
		WriteError(w, core.NewAppError(core.ErrValidation, "from must precede to"))
		return
	}

	rotated, err := a.ledger.RotateKeys(ctx, req.TenantID, req.From, req.To, req.NewVersion)
	if err != nil {
		a.writeServiceError(w, err, "key rotation failed")
		return
	}

	a.log.Info("keys rotated",
		zap.String("tenant_id", req.TenantID),
		zap.Int("new_version", req.NewVersion),
		zap.Int64("rotated", rotated),
		zap.String("operator", middleware.GetPrincipal(r).Subject),
	)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rotated":     rotated,
		"new_version": req.NewVersion,
	})
}

func outboxItemFromRow(i *store.AtlOutboxItem) core.OutboxItem {
	item := core.OutboxItem{
		ItemID:        i.ItemID,
		TenantID:      i.TenantID,
		Payload:       i.Payload,
		Status:        core.OutboxStatus(i.Status),
		Attempts:      int(i.Attempts),
		MaxAttempts:   int(i.MaxAttempts),
		NextAttemptAt: i.NextAttemptAt.Time,
		LastError:     i.LastError,
		CreatedAt:     i.CreatedAt.Time,
		UpdatedAt:     i.UpdatedAt.Time,
	}
	if i.LockedBy.Valid {
		s := i.LockedBy.String
		item.LockedBy = &s
	}
	if i.LockedAt.Valid {
		t := i.LockedAt.Time
		item.LockedAt = &t
	}
	if i.EventID.Valid {
		s := i.EventID.String
		item.EventID = &s
	}
	return item
}

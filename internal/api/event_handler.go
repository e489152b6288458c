package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/api/middleware"
	"github.com/lzjever/mbos-atl/internal/auth"
	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/store"
)

// SubmitEvent stages a draft in the outbox and returns 202. The event
// becomes durable ledger state when the drain worker picks it up; producers
// poll the item or rely on correlation-keyed dedup to resubmit safely.
func (a *API) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var draft core.EventDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "invalid JSON body"))
		return
	}
	if verr := draft.Validate(); verr != nil {
		WriteError(w, verr)
		return
	}

	principal := middleware.GetPrincipal(r)
	if !principal.Has(auth.CapAdmin) && principal.Tenant != draft.TenantID {
		WriteError(w, core.NewAppError(core.ErrUnauthorized, "token is not scoped to this tenant"))
		return
	}

	payload, err := json.Marshal(&draft)
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to encode event"))
		return
	}

	item, err := a.queries.EnqueueOutbox(ctx, store.EnqueueOutboxParams{
		ItemID:      core.NewID(),
		TenantID:    draft.TenantID,
		Payload:     payload,
		MaxAttempts: int32(a.cfg.OutboxMaxAttempts),
	})
	if err != nil {
		a.log.Error("enqueue failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to accept event"))
		return
	}

	WriteAccepted(w, item.ItemID)
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/api/middleware"
	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/ledger"
)

// ListTimeline returns a chronological page of a tenant's events, filtered
// by workflow instance, correlation, or entity.
func (a *API) ListTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := chi.URLParam(r, "tenant")

	principal := middleware.GetPrincipal(r)
	if !principal.CanReadTenant(tenant) {
		WriteError(w, core.NewAppError(core.ErrUnauthorized, "token cannot read this tenant"))
		return
	}

	q := r.URL.Query()
	query := ledger.TimelineQuery{
		TenantID:      tenant,
		InstanceID:    q.Get("instance_id"),
		CorrelationID: q.Get("correlation_id"),
		EntityType:    q.Get("entity_type"),
		EntityID:      q.Get("entity_id"),
		Limit:         int32(parseLimit(q.Get("limit"), 50, 500)),
	}

	var err error
	if query.From, err = parseTimeParam(q.Get("from")); err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "from must be RFC3339"))
		return
	}
	if query.To, err = parseTimeParam(q.Get("to")); err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "to must be RFC3339"))
		return
	}
	if c := q.Get("cursor"); c != "" {
		t, seq, err := decodeCursor(c)
		if err != nil {
			WriteError(w, core.NewAppError(core.ErrValidation, "invalid cursor"))
			return
		}
		query.Cursor = &t
		query.CursorSeq = seq
	}

	events, err := a.ledger.Timeline(ctx, query)
	if err != nil {
		a.log.Error("timeline query failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list events"))
		return
	}

	var nextCursor string
	if int32(len(events)) == query.Limit {
		last := events[len(events)-1]
		nextCursor = encodeCursor(last.EventTS, last.ChainSeq)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"next_cursor": nextCursor,
	})
}

// GetEvent returns a single event. An optional event_ts query param pins the
// partition the lookup touches.
func (a *API) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := chi.URLParam(r, "tenant")
	eventID := chi.URLParam(r, "event_id")

	principal := middleware.GetPrincipal(r)
	if !principal.CanReadTenant(tenant) {
		WriteError(w, core.NewAppError(core.ErrUnauthorized, "token cannot read this tenant"))
		return
	}

	ts, err := parseTimeParam(r.URL.Query().Get("event_ts"))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrValidation, "event_ts must be RFC3339"))
		return
	}

	event, err := a.ledger.GetEvent(ctx, tenant, eventID, ts)
	if err != nil {
		a.writeServiceError(w, err, "get event failed")
		return
	}

	WriteJSON(w, http.StatusOK, event)
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

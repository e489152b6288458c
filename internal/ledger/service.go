// Package ledger implements the append-only audit event store: chained
// appends, timeline reads, integrity verification, partition lifecycle and
// the two sanctioned mutation paths (key rotation, retention drop).
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/crypto"
	"github.com/lzjever/mbos-atl/internal/hashchain"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

type Service struct {
	pool    *pgxpool.Pool
	queries *store.Queries
	keyring *crypto.Keyring
	log     *zap.Logger
}

func New(pool *pgxpool.Pool, keyring *crypto.Keyring, log *zap.Logger) *Service {
	return &Service{
		pool:    pool,
		queries: store.New(pool),
		keyring: keyring,
		log:     log,
	}
}

type AppendResult struct {
	EventID  string    `json:"event_id"`
	EventTS  time.Time `json:"event_ts"`
	ChainSeq int64     `json:"chain_seq"`
	HashCurr string    `json:"hash_curr"`
	Deduped  bool      `json:"deduped"`
}

// Append converts a validated draft into exactly one durable, chained
// record. The per-tenant advisory lock serializes "read last hash, compute
// next hash, insert" so hash_prev always references the true immediate
// predecessor; appends for different tenants run in parallel. A draft whose
// dedup key already exists is a silent no-op returning the stored event.
func (s *Service) Append(ctx context.Context, draft *core.EventDraft) (*AppendResult, error) {
	if verr := draft.Validate(); verr != nil {
		observability.AppendTotal.WithLabelValues("error").Inc()
		return nil, verr
	}

	start := time.Now()
	defer func() {
		observability.AppendDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.ensureCoverage(ctx, draft.EventTS); err != nil {
		observability.AppendTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	qtx := s.queries.WithTx(tx)

	lockStart := time.Now()
	if err := qtx.AcquireTenantChainLock(ctx, draft.TenantID); err != nil {
		return nil, err
	}
	observability.ChainLockWaitSeconds.Observe(time.Since(lockStart).Seconds())

	prev := hashchain.Genesis(draft.TenantID)
	var seq int64 = 1
	head, err := qtx.GetChainHead(ctx, draft.TenantID)
	switch {
	case err == nil:
		prev = head.LastHash
		seq = head.ChainSeq + 1
	case errors.Is(err, pgx.ErrNoRows):
		// First event for this tenant.
	default:
		return nil, err
	}

	event := eventFromDraft(draft, core.NewID(), seq, prev)
	event.HashCurr = hashchain.Compute(event, prev)

	params, err := s.encryptInsertParams(event)
	if err != nil {
		observability.AppendTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if _, err := qtx.InsertEvent(ctx, params); err != nil {
		if errors.Is(err, pgx.ErrNoRows) && draft.CorrelationID != nil {
			// Dedup guard suppressed the insert: the same logical event is
			// already stored. Do not advance the chain head.
			dup, derr := qtx.FindDuplicate(ctx, store.FindDuplicateParams{
				TenantID:      draft.TenantID,
				CorrelationID: *draft.CorrelationID,
				EventTS:       params.EventTS,
				EventType:     draft.EventType,
				ActorID:       draft.ActorID,
			})
			if derr != nil {
				return nil, derr
			}
			if cerr := tx.Commit(ctx); cerr != nil {
				return nil, cerr
			}
			observability.AppendTotal.WithLabelValues("deduped").Inc()
			return &AppendResult{
				EventID:  dup.EventID,
				EventTS:  dup.EventTS.Time,
				ChainSeq: dup.ChainSeq,
				HashCurr: dup.HashCurr,
				Deduped:  true,
			}, nil
		}
		observability.AppendTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := qtx.UpsertChainHead(ctx, draft.TenantID, seq, event.HashCurr); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		observability.AppendTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	observability.AppendTotal.WithLabelValues("stored").Inc()
	return &AppendResult{
		EventID:  event.EventID,
		EventTS:  event.EventTS,
		ChainSeq: seq,
		HashCurr: event.HashCurr,
	}, nil
}

// GetEvent returns a single decrypted event. ts, when known, pins the
// partition the lookup touches.
func (s *Service) GetEvent(ctx context.Context, tenantID, eventID string, ts *time.Time) (*core.AuditEvent, error) {
	arg := store.GetEventParams{TenantID: tenantID, EventID: eventID}
	if ts != nil {
		arg.EventTS = timestamptz(*ts)
	}
	row, err := s.queries.GetEvent(ctx, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewAppError(core.ErrNotFound, "event not found")
		}
		return nil, err
	}
	return s.decryptRow(&row)
}

type TimelineQuery struct {
	TenantID      string
	InstanceID    string
	CorrelationID string
	EntityType    string
	EntityID      string
	From          *time.Time
	To            *time.Time
	Cursor        *time.Time
	CursorSeq     int64
	Limit         int32
}

// Timeline returns a bounded chronological page of a tenant's events.
func (s *Service) Timeline(ctx context.Context, query TimelineQuery) ([]*core.AuditEvent, error) {
	arg := store.ListEventsParams{
		TenantID:      query.TenantID,
		InstanceID:    textOrNull(query.InstanceID),
		CorrelationID: textOrNull(query.CorrelationID),
		EntityType:    textOrNull(query.EntityType),
		EntityID:      textOrNull(query.EntityID),
		Limit:         query.Limit,
	}
	if query.From != nil {
		arg.From = timestamptz(*query.From)
	}
	if query.To != nil {
		arg.To = timestamptz(*query.To)
	}
	if query.Cursor != nil {
		arg.Cursor = timestamptz(*query.Cursor)
		arg.CursorSeq = query.CursorSeq
	}
	rows, err := s.queries.ListEvents(ctx, arg)
	if err != nil {
		return nil, err
	}
	events := make([]*core.AuditEvent, 0, len(rows))
	for i := range rows {
		e, err := s.decryptRow(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// Queries exposes the underlying query layer for collaborators that share
// the pool (outbox worker, API handlers).
func (s *Service) Queries() *store.Queries {
	return s.queries
}

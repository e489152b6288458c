package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

// RunHousekeeping maintains the ledger's calendar state on a fixed interval:
// partitions exist ahead of the write horizon, and completed days get their
// per-tenant anchors sealed.
func (w *Worker) RunHousekeeping(ctx context.Context) {
	w.housekeepOnce(ctx)
	ticker := time.NewTicker(w.cfg.HousekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("housekeeping stopping")
			return
		case <-ticker.C:
			w.housekeepOnce(ctx)
		}
	}
}

func (w *Worker) housekeepOnce(ctx context.Context) {
	now := time.Now().UTC()

	created, err := w.ledger.EnsureHorizon(ctx, now, w.cfg.LookaheadMonths)
	if err != nil {
		w.log.Error("partition horizon maintenance failed", zap.Error(err))
	} else if len(created) > 0 {
		w.log.Info("partition horizon extended", zap.Strings("created", created))
	}

	// Seal anchors for the most recent completed day. Earlier unsealed days
	// are caught lazily by verification.
	dayEnd := now.Truncate(24 * time.Hour)
	dayStart := dayEnd.Add(-24 * time.Hour)
	tenants, err := w.queries.ListUnanchoredTenants(ctx, dayStart, dayEnd)
	if err != nil {
		w.log.Error("anchor candidate scan failed", zap.Error(err))
		return
	}
	for _, tenant := range tenants {
		sealed, err := w.queries.SealAnchor(ctx, store.SealAnchorParams{
			TenantID: tenant,
			DayStart: dayStart,
			DayEnd:   dayEnd,
		})
		if err != nil {
			w.log.Error("anchor seal failed", zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		if sealed {
			observability.AnchorsSealedTotal.Inc()
			w.log.Info("anchor sealed",
				zap.String("tenant_id", tenant),
				zap.String("anchor_date", dayStart.Format("2006-01-02")),
			)
		}
	}
}

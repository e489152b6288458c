package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
	"github.com/lzjever/mbos-atl/internal/observability"
	"github.com/lzjever/mbos-atl/internal/store"
)

const rotateBatchSize = 500

// RotateKeys re-encrypts the payload columns of a tenant's events in a time
// range under a new key version. This is one of the two sanctioned bypasses
// of immutability: each batch transaction arms the rewrite trigger override
// and touches only ciphertext and key_version. Identity, hash fields and
// plaintext content are preserved, so verification is unaffected. Callers
// must hold the retention capability; the API boundary enforces that.
func (s *Service) RotateKeys(ctx context.Context, tenantID string, from, to time.Time, newVersion int) (int64, error) {
	if newVersion < 1 {
		return 0, core.NewAppError(core.ErrValidation, "new_key_version must be >= 1")
	}
	if _, err := s.keyring.Encrypt(newVersion, []byte("derivation-check")); err != nil {
		return 0, core.NewAppError(core.ErrValidation, "cannot derive requested key version")
	}

	var total int64
	for {
		n, err := s.rotateBatch(ctx, tenantID, from, to, newVersion)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		observability.RotatedEventsTotal.Add(float64(n))
	}
	s.log.Info("key rotation complete",
		zap.String("tenant_id", tenantID),
		zap.Int("new_key_version", newVersion),
		zap.Int64("rotated", total),
	)
	return total, nil
}

func (s *Service) rotateBatch(ctx context.Context, tenantID string, from, to time.Time, newVersion int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	qtx := s.queries.WithTx(tx)

	if err := qtx.AllowRewrite(ctx); err != nil {
		return 0, err
	}

	rows, err := qtx.SelectEventsForRotation(ctx, store.SelectForRotationParams{
		TenantID:   tenantID,
		From:       timestamptz(from),
		To:         timestamptz(to),
		KeyVersion: int32(newVersion),
		Limit:      rotateBatchSize,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, tx.Commit(ctx)
	}

	for i := range rows {
		r := &rows[i]
		rewritten, err := s.reseal(r, newVersion)
		if err != nil {
			return 0, err
		}
		if err := qtx.RewriteEventCiphertext(ctx, rewritten); err != nil {
			var appErr *core.AppError
			if errors.As(err, &appErr) && appErr.Code == core.ErrImmutabilityViolation {
				// A rejected rewrite means the override was not armed for
				// this transaction. Security relevant, never silent.
				s.log.Error("immutability trigger rejected rotation rewrite",
					zap.String("tenant_id", tenantID),
					zap.String("event_id", r.EventID),
				)
			}
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// reseal decrypts a row with its recorded key version and re-encrypts under
// the new one.
func (s *Service) reseal(r *store.AtlAuditEvent, newVersion int) (store.RewriteCiphertextParams, error) {
	old := int(r.KeyVersion)
	out := store.RewriteCiphertextParams{
		TenantID:   r.TenantID,
		EventID:    r.EventID,
		EventTS:    r.EventTS,
		KeyVersion: int32(newVersion),
	}
	for _, col := range []struct {
		src []byte
		dst *[]byte
	}{
		{r.EntitySnapshot, &out.EntitySnapshot},
		{r.StateBefore, &out.StateBefore},
		{r.StateAfter, &out.StateAfter},
		{r.Detail, &out.Detail},
	} {
		plain, err := s.keyring.Decrypt(old, col.src)
		if err != nil {
			return out, err
		}
		sealed, err := s.keyring.Encrypt(newVersion, plain)
		if err != nil {
			return out, err
		}
		*col.dst = sealed
	}
	return out, nil
}

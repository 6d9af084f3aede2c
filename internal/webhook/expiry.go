package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

// ExpireStale settles pending transactions created before cutoff. The
// provider is asked first so a payment that did go through is completed
// rather than expired; anything still unresolved is failed with
// ExpiredMessage. It returns how many transactions were expired.
func (r *Reconciler) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := database.ListStalePending(r.db.GetDB().WithContext(ctx), cutoff, limit)
	if err != nil {
		return 0, errs.Persistence("list stale transactions", err)
	}

	expired := 0
	for _, t := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if t.ProviderRef == nil {
			continue
		}
		log := r.logger.WithFields(logrus.Fields{
			"transaction_id": t.ID,
			"provider":       t.Provider,
			"created_at":     t.CreatedAt,
		})

		status, message := r.lastWord(ctx, t)
		if status == "" {
			status, message = models.TransactionFailed, ExpiredMessage
		}

		_, err := r.Apply(ctx, t.Provider, *t.ProviderRef, status, message)
		switch {
		case errors.Is(err, errs.ErrReplayNoOp):
			continue
		case err != nil:
			log.WithError(err).Error("Failed to settle stale transaction")
			continue
		}
		if message == ExpiredMessage {
			expired++
			log.Info("Pending transaction expired")
		} else {
			log.WithField("status", status).Info("Stale transaction settled from provider status")
		}
	}
	r.metrics.RecordExpired(expired)
	return expired, nil
}

// lastWord polls the provider once. Errors and unknown providers yield "".
func (r *Reconciler) lastWord(ctx context.Context, t models.Transaction) (models.TransactionStatus, string) {
	g, err := r.gateways.Get(t.Provider)
	if err != nil {
		return "", ""
	}
	st, err := r.fetch(ctx, g, *t.ProviderRef)
	if err != nil {
		r.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Status poll failed before expiry")
		return "", ""
	}
	return st.Status, st.Message
}

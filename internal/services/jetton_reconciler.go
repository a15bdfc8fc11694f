package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
	"github.com/toncenter/examples/internal/types"
)

// ReconcileJettons runs phase C: every configured jetton wallet stream is read
// with its own cursor and matched against leg query ids of that jetton.
// A failing stream does not stop the others.
func (r *LedgerReconciler) ReconcileJettons(ctx context.Context) error {
	names := make([]string, 0, len(r.jettons))
	for name := range r.jettons {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		route := r.jettons[name]
		streamKey := models.JettonStreamKey(name)
		err := r.consume(ctx, streamKey, route.WalletAddress.String(), func(ctx context.Context, tx repository.Store, txn *types.Transaction) ([]events.Event, error) {
			return r.applyLeg(ctx, tx, name, txn)
		})
		if err != nil {
			logrus.WithError(err).WithField("jetton", name).Error("❌ [JettonReconciler] Stream reconcile failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *LedgerReconciler) applyLeg(ctx context.Context, tx repository.Store, jetton string, txn *types.Transaction) ([]events.Event, error) {
	rec := highload.ClassifyJettonWalletTx(txn, r.hotWallet)
	metrics.RecordsProcessed.WithLabelValues(models.JettonStreamKey(jetton), rec.Kind.String()).Inc()
	if rec.Kind != highload.RecordTokenLeg {
		return nil, nil
	}

	request, err := tx.FindRequestByLeg(ctx, jetton, rec.LegQueryID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if request.LegOutcome != models.LegOutcomeUnknown {
		return nil, nil
	}

	outcome := models.LegOutcomeSucceeded
	if !rec.Emitted {
		outcome = models.LegOutcomeFailed
	}
	if err := tx.UpdateLegOutcome(ctx, request.ID, outcome, rec.TxID.String()); err != nil {
		return nil, err
	}
	metrics.OutcomesRecorded.WithLabelValues("leg", string(outcome)).Inc()

	notify := []events.Event{{
		Type:      events.TypeLegSettled,
		RequestID: request.ID,
		Jetton:    jetton,
		TxRef:     rec.TxID.String(),
		Message:   fmt.Sprintf("jetton %s leg %d %s", jetton, rec.LegQueryID, outcome),
	}}
	if outcome == models.LegOutcomeFailed {
		notify = append(notify, events.Event{
			Type:      events.TypeAlert,
			Reason:    events.AlertLegFailed,
			RequestID: request.ID,
			Jetton:    jetton,
			TxRef:     rec.TxID.String(),
			Message:   fmt.Sprintf("request %s jetton %s leg %d was not sent", request.ID, jetton, rec.LegQueryID),
		})
	}
	return notify, nil
}

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/interfaces"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
	"github.com/toncenter/examples/internal/types"
)

// LedgerReconciler consumes the hot wallet and jetton wallet transaction
// streams and records batch and leg outcomes
type LedgerReconciler struct {
	store     repository.Store
	ledger    interfaces.LedgerClient
	hotWallet *address.Address
	jettons   map[string]JettonRoute
	publisher events.Publisher
	pageSize  int
	archival  bool
}

// NewLedgerReconciler creates a new LedgerReconciler instance
func NewLedgerReconciler(store repository.Store, ledger interfaces.LedgerClient, hotWallet *address.Address, jettons map[string]JettonRoute, publisher events.Publisher, pageSize int, archival bool) *LedgerReconciler {
	if pageSize < 2 {
		pageSize = 20
	}
	return &LedgerReconciler{
		store:     store,
		ledger:    ledger,
		hotWallet: hotWallet,
		jettons:   jettons,
		publisher: publisher,
		pageSize:  pageSize,
		archival:  archival,
	}
}

// collectTransactions returns every transaction of address newer than the
// cursor, oldest first. Pages are newest first with an inclusive start, so
// the last item of a full page is dropped and re-read as the next page's head.
func collectTransactions(ctx context.Context, ledger interfaces.LedgerClient, addr string, cursor *models.LedgerCursor, pageSize int, archival bool) ([]types.Transaction, error) {
	var collected []types.Transaction
	var from *types.TransactionID

	for {
		page, err := ledger.GetTransactions(ctx, addr, pageSize, from, archival)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transactions of %s: %w", addr, err)
		}

		full := len(page) >= pageSize
		items := page
		if full {
			items = page[:len(page)-1]
		}
		for _, tx := range items {
			if cursor != nil && tx.ID.LT <= cursor.LT {
				return reverse(collected), nil
			}
			collected = append(collected, tx)
		}
		if !full {
			return reverse(collected), nil
		}

		next := page[len(page)-1].ID
		from = &next
	}
}

func reverse(txs []types.Transaction) []types.Transaction {
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs
}

func (r *LedgerReconciler) loadCursor(ctx context.Context, streamKey string) (*models.LedgerCursor, error) {
	cursor, err := r.store.GetCursor(ctx, streamKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor %s: %w", streamKey, err)
	}
	return cursor, nil
}

// applyFunc records the outcome of one record inside the cursor transaction and
// returns the events to publish once it committed
type applyFunc func(ctx context.Context, tx repository.Store, txn *types.Transaction) ([]events.Event, error)

// consume applies records of one stream strictly in ledger order. Every record
// commits together with its cursor advance, so a crash never loses or repeats one.
func (r *LedgerReconciler) consume(ctx context.Context, streamKey, addr string, apply applyFunc) error {
	cursor, err := r.loadCursor(ctx, streamKey)
	if err != nil {
		return err
	}

	txs, err := collectTransactions(ctx, r.ledger, addr, cursor, r.pageSize, r.archival)
	if err != nil {
		return err
	}

	for i := range txs {
		txn := &txs[i]
		if cursor != nil && txn.ID.LT <= cursor.LT {
			continue // duplicate delivery
		}

		next := &models.LedgerCursor{
			StreamKey: streamKey,
			LT:        txn.ID.LT,
			Hash:      txn.ID.Hash,
			Utime:     txn.Utime,
		}
		var notify []events.Event
		err := r.store.Transaction(ctx, func(tx repository.Store) error {
			var err error
			if notify, err = apply(ctx, tx, txn); err != nil {
				return err
			}
			return tx.SaveCursor(ctx, next)
		})
		if err != nil {
			return fmt.Errorf("failed to apply %s record %s: %w", streamKey, txn.ID, err)
		}

		cursor = next
		metrics.CursorLT.WithLabelValues(streamKey).Set(float64(next.LT))
		for _, event := range notify {
			if event.Type == events.TypeAlert {
				alert(ctx, r.publisher, event.Reason, event)
			} else {
				publish(ctx, r.publisher, event)
			}
		}
	}
	return nil
}

// Reconcile runs phases A and B over new hot wallet transactions
func (r *LedgerReconciler) Reconcile(ctx context.Context) error {
	return r.consume(ctx, models.StreamHotWallet, r.hotWallet.String(), r.applyHotWallet)
}

func (r *LedgerReconciler) applyHotWallet(ctx context.Context, tx repository.Store, txn *types.Transaction) ([]events.Event, error) {
	rec := highload.ClassifyHotWalletTx(txn, r.hotWallet)
	metrics.RecordsProcessed.WithLabelValues(models.StreamHotWallet, rec.Kind.String()).Inc()

	switch rec.Kind {
	case highload.RecordExternalDispatch:
		return r.applyDispatch(ctx, tx, rec)
	case highload.RecordInternalDispatch:
		return r.applyMembers(ctx, tx, rec)
	default:
		if rec.Err != nil {
			logrus.WithError(rec.Err).WithField("tx", rec.TxID.String()).Debug("[LedgerReconciler] skipping malformed record")
		}
		return nil, nil
	}
}

// applyDispatch phase A: the external message of a batch was executed
func (r *LedgerReconciler) applyDispatch(ctx context.Context, tx repository.Store, rec highload.Record) ([]events.Event, error) {
	batch, err := tx.FindBatchByQuery(ctx, rec.QueryID, rec.CreatedAt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if batch.DispatchOutcome != models.DispatchOutcomePending {
		return nil, nil
	}

	outcome := models.DispatchOutcomeAckNonEmpty
	if !rec.Emitted {
		outcome = models.DispatchOutcomeAckEmpty
	}
	if err := tx.UpdateDispatchOutcome(ctx, batch.ID, outcome, rec.TxID.String()); err != nil {
		return nil, err
	}
	metrics.OutcomesRecorded.WithLabelValues("dispatch", string(outcome)).Inc()

	notify := []events.Event{{
		Type:    events.TypeBatchDispatched,
		BatchID: batch.ID,
		TxRef:   rec.TxID.String(),
		Message: fmt.Sprintf("batch %d dispatch %s", batch.ID, outcome),
	}}
	if outcome == models.DispatchOutcomeAckEmpty {
		// re-sending the same identifier cannot change the result
		if err := tx.FlagForReview(ctx, batch.ID, models.ReviewReasonDispatchEmpty); err != nil {
			return nil, err
		}
		notify = append(notify, events.Event{
			Type:    events.TypeAlert,
			Reason:  events.AlertDispatchEmpty,
			BatchID: batch.ID,
			TxRef:   rec.TxID.String(),
			Message: fmt.Sprintf("batch %d query id %d created at %d was not sent", batch.ID, rec.QueryID, rec.CreatedAt),
		})
	}
	return notify, nil
}

// applyMembers phase B: the internal_transfer to self emitted the member messages
func (r *LedgerReconciler) applyMembers(ctx context.Context, tx repository.Store, rec highload.Record) ([]events.Event, error) {
	batch, err := tx.GetBatch(ctx, rec.BatchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if batch.MemberOutcome != models.MemberOutcomeUnknown {
		return nil, nil
	}

	outcome := models.MemberOutcomeSent
	if !rec.Emitted {
		outcome = models.MemberOutcomeNotSent
	}
	if err := tx.UpdateMemberOutcome(ctx, batch.ID, outcome, rec.TxID.String()); err != nil {
		return nil, err
	}
	metrics.OutcomesRecorded.WithLabelValues("members", string(outcome)).Inc()

	notify := []events.Event{{
		Type:    events.TypeBatchSettled,
		BatchID: batch.ID,
		TxRef:   rec.TxID.String(),
		Message: fmt.Sprintf("batch %d members %s", batch.ID, outcome),
	}}
	switch {
	case outcome == models.MemberOutcomeNotSent:
		if err := tx.FlagForReview(ctx, batch.ID, models.ReviewReasonMembersNotSent); err != nil {
			return nil, err
		}
		notify = append(notify, events.Event{
			Type:    events.TypeAlert,
			Reason:  events.AlertMembersNotSent,
			BatchID: batch.ID,
			TxRef:   rec.TxID.String(),
			Message: fmt.Sprintf("batch %d did not send messages", batch.ID),
		})
	case batch.Superseded:
		if batch.ReviewReason == "" {
			if err := tx.FlagForReview(ctx, batch.ID, models.ReviewReasonExpiredAfterDispatch); err != nil {
				return nil, err
			}
		}
		notify = append(notify, events.Event{
			Type:    events.TypeAlert,
			Reason:  events.AlertExpiredAfterDispatch,
			BatchID: batch.ID,
			TxRef:   rec.TxID.String(),
			Message: fmt.Sprintf("superseded batch %d sent its members; released requests may be paid twice", batch.ID),
		})
	}
	return notify, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/interfaces"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
)

// SubmitResult outcome of one submission attempt
type SubmitResult string

const (
	SubmitOK         SubmitResult = "ok"         // transmitted; execution is confirmed only by the reconciler
	SubmitRetryable  SubmitResult = "retryable"  // transmission failed, retried next tick
	SubmitSuperseded SubmitResult = "superseded" // identifier expired, members released
	SubmitSkipped    SubmitResult = "skipped"    // dispatched, waiting for member settlement
	SubmitHeld       SubmitResult = "held"       // payload cannot be built, waiting for an operator
)

// JettonRoute where jetton members of a batch are sent
type JettonRoute struct {
	WalletAddress *address.Address // the hot wallet's jetton wallet
	ForwardAmount *big.Int         // nanotons attached to the transfer
}

// BatchSubmitter assigns dedup identifiers to batches, transmits them and
// expires the ones whose identifiers left the wallet's dedup window
type BatchSubmitter struct {
	store     repository.Store
	ledger    interfaces.LedgerClient
	wallet    *highload.Wallet
	jettons   map[string]JettonRoute
	publisher events.Publisher
	limit     int
}

// NewBatchSubmitter creates a new BatchSubmitter instance
func NewBatchSubmitter(store repository.Store, ledger interfaces.LedgerClient, wallet *highload.Wallet, jettons map[string]JettonRoute, publisher events.Publisher, batchesPerTick int) *BatchSubmitter {
	return &BatchSubmitter{
		store:     store,
		ledger:    ledger,
		wallet:    wallet,
		jettons:   jettons,
		publisher: publisher,
		limit:     batchesPerTick,
	}
}

// SubmitPending runs one submission tick over every live batch
func (s *BatchSubmitter) SubmitPending(ctx context.Context) error {
	batches, err := s.store.ListLiveBatches(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to load live batches: %w", err)
	}
	if len(batches) == 0 {
		return nil
	}

	observed, err := s.lastObservedLedgerTime(ctx)
	if err != nil {
		return err
	}

	// created_at of first submissions is the ledger's time, read once per tick
	var now int64
	if hasUnsubmitted(batches) {
		if now, err = s.ledger.GetLedgerTime(ctx, s.wallet.Address.String()); err != nil {
			return fmt.Errorf("failed to read ledger time: %w", err)
		}
	}

	logrus.Debugf("🔄 [BatchSubmitter] %d live batches", len(batches))
	for _, batch := range batches {
		result, err := s.Submit(ctx, batch, now, observed)
		if err != nil {
			// store inconsistency aborts the tick; nothing of this batch was committed
			return fmt.Errorf("batch %d: %w", batch.ID, err)
		}
		logrus.WithFields(logrus.Fields{
			"batch_id": batch.ID,
			"result":   result,
		}).Debug("[BatchSubmitter] batch processed")
	}
	return nil
}

func hasUnsubmitted(batches []*models.Batch) bool {
	for _, b := range batches {
		if !b.Submitted() {
			return true
		}
	}
	return false
}

// lastObservedLedgerTime is the time of the last hot wallet record the
// reconciler consumed; nil until the first record was seen
func (s *BatchSubmitter) lastObservedLedgerTime(ctx context.Context) (*int64, error) {
	cursor, err := s.store.GetCursor(ctx, models.StreamHotWallet)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hot wallet cursor: %w", err)
	}
	utime := cursor.Utime
	return &utime, nil
}

// Expired reports whether the batch identifier has left the dedup window as of observed
func (s *BatchSubmitter) Expired(batch *models.Batch, observed *int64) bool {
	if !batch.Submitted() || observed == nil {
		return false
	}
	return *batch.QueryCreatedAt < *observed-int64(s.wallet.Timeout)
}

// Submit processes one live batch. now is the ledger time stamped on a first
// submission, observed the last ledger time seen by the reconciler.
// Errors are returned only for store failures; send failures yield SubmitRetryable
// and payload build failures SubmitHeld.
func (s *BatchSubmitter) Submit(ctx context.Context, batch *models.Batch, now int64, observed *int64) (SubmitResult, error) {
	if batch.Superseded {
		return SubmitSkipped, nil
	}

	if !batch.Submitted() {
		members, err := s.stamp(ctx, batch, now)
		if err != nil {
			return "", err
		}
		publish(ctx, s.publisher, events.Event{
			Type:    events.TypeBatchSubmitted,
			BatchID: batch.ID,
			Message: fmt.Sprintf("batch %d stamped with query id %d created at %d", batch.ID, *batch.QueryID, *batch.QueryCreatedAt),
		})
		return s.transmit(ctx, batch, members, "first")
	}

	if batch.Held() {
		return SubmitHeld, nil
	}

	if s.Expired(batch, observed) {
		superseded, err := s.supersede(ctx, batch)
		if err != nil {
			return "", err
		}
		if !superseded {
			return SubmitSkipped, nil
		}
		return SubmitSuperseded, nil
	}

	if batch.DispatchOutcome != models.DispatchOutcomePending {
		return SubmitSkipped, nil
	}

	members, err := s.store.ListBatchMembers(ctx, batch.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load members: %w", err)
	}
	return s.transmit(ctx, batch, members, "retry")
}

// stamp allocates the query id and leg ids and persists them with created_at
// in one transaction, before anything is transmitted
func (s *BatchSubmitter) stamp(ctx context.Context, batch *models.Batch, now int64) ([]*models.WithdrawalRequest, error) {
	if now <= 0 {
		return nil, errors.New("ledger time is not known")
	}

	var members []*models.WithdrawalRequest
	var queryID highload.QueryID
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		members, err = tx.ListBatchMembers(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to load members: %w", err)
		}
		if len(members) == 0 {
			return fmt.Errorf("batch has no members: %w", repository.ErrBatchConflict)
		}

		queryID, err = highload.Allocate(ctx, tx, models.SequenceHighloadQuery)
		if err != nil {
			return err
		}

		for _, member := range members {
			if !member.IsJetton() || member.LegQueryID != nil {
				continue
			}
			legID, err := repository.NextSequence(ctx, tx, models.JettonSequenceKey(member.JettonName))
			if err != nil {
				return fmt.Errorf("failed to allocate leg id for %s: %w", member.ID, err)
			}
			if err := tx.SetLegQueryID(ctx, member.ID, legID); err != nil {
				return err
			}
			member.LegQueryID = &legID
		}

		return tx.StampBatch(ctx, batch.ID, queryID.Uint(), now)
	})
	if err != nil {
		return nil, err
	}

	qid := queryID.Uint()
	batch.QueryID = &qid
	batch.QueryCreatedAt = &now
	return members, nil
}

// supersede retires an expired batch and returns its members to the pool.
// The batch argument may be stale; the write is guarded by the stored row and
// false is returned when the reconciler resolved the batch in the meantime.
func (s *BatchSubmitter) supersede(ctx context.Context, batch *models.Batch) (bool, error) {
	var current *models.Batch
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.SupersedeLiveBatch(ctx, batch.ID); err != nil {
			return err
		}
		var err error
		if current, err = tx.GetBatch(ctx, batch.ID); err != nil {
			return err
		}
		if current.DispatchOutcome == models.DispatchOutcomeAckNonEmpty {
			return tx.FlagForReview(ctx, batch.ID, models.ReviewReasonExpiredAfterDispatch)
		}
		return nil
	})
	if errors.Is(err, repository.ErrBatchConflict) {
		logrus.WithField("batch_id", batch.ID).Info("[BatchSubmitter] Batch resolved before expiry was applied, left in place")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to supersede batch: %w", err)
	}
	dispatched := current.DispatchOutcome == models.DispatchOutcomeAckNonEmpty
	batch.Superseded = true
	batch.DispatchOutcome = current.DispatchOutcome
	batch.DispatchTx = current.DispatchTx
	if dispatched {
		batch.ReviewReason = models.ReviewReasonExpiredAfterDispatch
	}
	metrics.BatchesSuperseded.Inc()

	logrus.WithFields(logrus.Fields{
		"batch_id":   batch.ID,
		"query_id":   *batch.QueryID,
		"created_at": *batch.QueryCreatedAt,
	}).Info("⏰ [BatchSubmitter] Batch expired, members returned to the pool")
	publish(ctx, s.publisher, events.Event{
		Type:    events.TypeBatchSuperseded,
		BatchID: batch.ID,
		Message: fmt.Sprintf("batch %d expired unresolved", batch.ID),
	})
	if dispatched {
		alert(ctx, s.publisher, events.AlertExpiredAfterDispatch, events.Event{
			BatchID: batch.ID,
			TxRef:   current.DispatchTx,
			Message: fmt.Sprintf("batch %d was dispatched but its member transfer was never observed; funds may have partially moved", batch.ID),
		})
	}
	return true, nil
}

// transmit builds the payload and sends it; send failures only cost a retry.
// A payload that cannot be built holds the batch for an operator.
func (s *BatchSubmitter) transmit(ctx context.Context, batch *models.Batch, members []*models.WithdrawalRequest, attempt string) (SubmitResult, error) {
	boc, err := s.Payload(batch, members)
	if err != nil {
		metrics.BatchTransmissions.WithLabelValues(attempt, "error").Inc()
		logrus.WithError(err).WithField("batch_id", batch.ID).Error("❌ [BatchSubmitter] Failed to build payload, holding batch")
		if err := s.hold(ctx, batch, err); err != nil {
			return "", err
		}
		return SubmitHeld, nil
	}
	if err := s.ledger.SendBoc(ctx, boc); err != nil {
		metrics.BatchTransmissions.WithLabelValues(attempt, "error").Inc()
		logrus.WithError(err).WithField("batch_id", batch.ID).Warn("⚠️ [BatchSubmitter] Transmission failed, will retry")
		return SubmitRetryable, nil
	}
	metrics.BatchTransmissions.WithLabelValues(attempt, "ok").Inc()
	logrus.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"members":  len(members),
		"attempt":  attempt,
	}).Info("📤 [BatchSubmitter] Batch transmitted")
	return SubmitOK, nil
}

// hold flags the batch so that it is neither transmitted nor expired until reviewed
func (s *BatchSubmitter) hold(ctx context.Context, batch *models.Batch, cause error) error {
	if err := s.store.FlagForReview(ctx, batch.ID, models.ReviewReasonPayloadInvalid); err != nil {
		return fmt.Errorf("failed to hold batch: %w", err)
	}
	batch.ReviewReason = models.ReviewReasonPayloadInvalid
	batch.ReviewedAt = nil
	alert(ctx, s.publisher, events.AlertPayloadInvalid, events.Event{
		BatchID: batch.ID,
		Message: fmt.Sprintf("batch %d payload cannot be built: %v", batch.ID, cause),
	})
	return nil
}

// Payload builds the signed external message for a stamped batch. It is a
// pure function of the batch identifiers and members in position order.
func (s *BatchSubmitter) Payload(batch *models.Batch, members []*models.WithdrawalRequest) ([]byte, error) {
	if !batch.Submitted() {
		return nil, fmt.Errorf("batch %d has no query id", batch.ID)
	}
	queryID, err := highload.FromUint(*batch.QueryID)
	if err != nil {
		return nil, err
	}

	actions := make([]highload.Action, 0, len(members))
	for _, member := range members {
		action, err := s.action(member)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", member.ID, err)
		}
		actions = append(actions, action)
	}

	body, err := highload.BuildBatchBody(batch.ID, actions)
	if err != nil {
		return nil, err
	}
	return s.wallet.ExternalMessageBOC(highload.Transfer{
		QueryID:   queryID,
		CreatedAt: *batch.QueryCreatedAt,
		Body:      body,
	})
}

func (s *BatchSubmitter) action(member *models.WithdrawalRequest) (highload.Action, error) {
	dst, err := highload.ParseAddress(member.Destination)
	if err != nil {
		return highload.Action{}, err
	}
	amount, ok := new(big.Int).SetString(member.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return highload.Action{}, fmt.Errorf("invalid amount %q", member.Amount)
	}

	if !member.IsJetton() {
		return highload.Action{Destination: dst, Amount: amount}, nil
	}

	route, ok := s.jettons[member.JettonName]
	if !ok {
		return highload.Action{}, fmt.Errorf("unknown jetton %q", member.JettonName)
	}
	if member.LegQueryID == nil {
		return highload.Action{}, errors.New("jetton leg id is not assigned")
	}
	return highload.Action{
		Destination: route.WalletAddress,
		Amount:      route.ForwardAmount,
		Body: highload.JettonTransferBody(highload.JettonTransfer{
			QueryID:     *member.LegQueryID,
			Amount:      amount,
			Destination: dst,
			Response:    s.wallet.Address,
		}),
	}, nil
}

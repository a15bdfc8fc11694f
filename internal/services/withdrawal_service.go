package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
)

var (
	// ErrInvalidRequest the withdrawal request fails validation
	ErrInvalidRequest = errors.New("invalid withdrawal request")
	// ErrNotReleasable the batch or request is not in an escalated state
	ErrNotReleasable = errors.New("not releasable")
)

// WithdrawalService caller and operator surface of the engine
type WithdrawalService struct {
	store     repository.Store
	jettons   map[string]JettonRoute
	publisher events.Publisher
}

// NewWithdrawalService creates a new WithdrawalService instance
func NewWithdrawalService(store repository.Store, jettons map[string]JettonRoute, publisher events.Publisher) *WithdrawalService {
	return &WithdrawalService{store: store, jettons: jettons, publisher: publisher}
}

// RequestView a request with its caller-facing status
type RequestView struct {
	Request *models.WithdrawalRequest
	Status  models.RequestStatus
}

// ReviewQueue escalated work waiting for an operator
type ReviewQueue struct {
	Batches    []*models.Batch
	FailedLegs []*models.WithdrawalRequest
}

// Enqueue validates and stores a new withdrawal request
func (s *WithdrawalService) Enqueue(ctx context.Context, destination, amount string, assetKind models.AssetKind, jettonName string) (string, error) {
	if _, err := highload.ParseAddress(destination); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be a positive integer in smallest units", ErrInvalidRequest)
	}

	switch assetKind {
	case models.AssetKindNative:
		jettonName = ""
	case models.AssetKindJetton:
		if _, ok := s.jettons[jettonName]; !ok {
			return "", fmt.Errorf("%w: unsupported jetton %q", ErrInvalidRequest, jettonName)
		}
	default:
		return "", fmt.Errorf("%w: unknown asset kind %q", ErrInvalidRequest, assetKind)
	}

	request := &models.WithdrawalRequest{
		ID:          uuid.NewString(),
		Destination: destination,
		Amount:      value.String(),
		AssetKind:   assetKind,
		JettonName:  jettonName,
		LegOutcome:  models.LegOutcomeUnknown,
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		return "", fmt.Errorf("failed to store withdrawal request: %w", err)
	}

	metrics.RequestsEnqueued.WithLabelValues(string(assetKind)).Inc()
	logrus.WithFields(logrus.Fields{
		"request_id":  request.ID,
		"destination": destination,
		"amount":      request.Amount,
		"asset":       assetKind,
		"jetton":      jettonName,
	}).Info("📥 Withdrawal request enqueued")
	return request.ID, nil
}

// Status returns the request and its caller-facing status
func (s *WithdrawalService) Status(ctx context.Context, requestID string) (*RequestView, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.BatchID == nil {
		return &RequestView{Request: request, Status: models.RequestStatusPending}, nil
	}
	batch, err := s.store.GetBatch(ctx, *request.BatchID)
	if err != nil {
		return nil, fmt.Errorf("request %s points to a missing batch: %w", request.ID, err)
	}
	return &RequestView{Request: request, Status: DeriveStatus(request, batch)}, nil
}

// DeriveStatus folds batch and leg outcomes into the request status
func DeriveStatus(request *models.WithdrawalRequest, batch *models.Batch) models.RequestStatus {
	if batch == nil || batch.Superseded || !batch.Submitted() {
		return models.RequestStatusPending
	}
	if batch.Held() || batch.DispatchOutcome == models.DispatchOutcomeAckEmpty || batch.MemberOutcome == models.MemberOutcomeNotSent {
		return models.RequestStatusFailed
	}
	if batch.MemberOutcome != models.MemberOutcomeSent {
		return models.RequestStatusDispatched
	}
	if !request.IsJetton() {
		return models.RequestStatusSucceeded
	}
	switch request.LegOutcome {
	case models.LegOutcomeSucceeded:
		return models.RequestStatusSucceeded
	case models.LegOutcomeFailed:
		return models.RequestStatusFailed
	default:
		return models.RequestStatusDispatched
	}
}

// ListForReview returns escalated batches and failed jetton legs
func (s *WithdrawalService) ListForReview(ctx context.Context, limit int) (*ReviewQueue, error) {
	batches, err := s.store.ListBatchesForReview(ctx, limit)
	if err != nil {
		return nil, err
	}
	legs, err := s.store.ListFailedLegs(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &ReviewQueue{Batches: batches, FailedLegs: legs}, nil
}

// ReleaseBatch returns the members of an escalated batch to the pool and
// marks the batch reviewed. A batch superseded on expiry only gets acknowledged.
func (s *WithdrawalService) ReleaseBatch(ctx context.Context, batchID uint64) error {
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.ReviewReason == "" || batch.ReviewedAt != nil {
			return fmt.Errorf("batch %d: %w", batchID, ErrNotReleasable)
		}
		if !batch.Superseded {
			if err := tx.SupersedeBatch(ctx, batchID); err != nil {
				return err
			}
		}
		return tx.MarkReviewed(ctx, batchID)
	})
	if err != nil {
		return err
	}

	logrus.WithField("batch_id", batchID).Info("🔧 Escalated batch released by operator")
	publish(ctx, s.publisher, events.Event{
		Type:    events.TypeBatchReleased,
		BatchID: batchID,
		Message: fmt.Sprintf("batch %d released by operator", batchID),
	})
	return nil
}

// AcknowledgeBatch marks an escalated batch reviewed without re-queueing its members
func (s *WithdrawalService) AcknowledgeBatch(ctx context.Context, batchID uint64) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.ReviewReason == "" || batch.ReviewedAt != nil {
		return fmt.Errorf("batch %d: %w", batchID, ErrNotReleasable)
	}
	return s.store.MarkReviewed(ctx, batchID)
}

// ReleaseRequest returns a request whose jetton leg failed to the pool
func (s *WithdrawalService) ReleaseRequest(ctx context.Context, requestID string) error {
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		request, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request.LegOutcome != models.LegOutcomeFailed || request.BatchID == nil {
			return fmt.Errorf("request %s: %w", requestID, ErrNotReleasable)
		}
		return tx.ReleaseRequest(ctx, requestID)
	})
	if err != nil {
		return err
	}

	logrus.WithField("request_id", requestID).Info("🔧 Failed jetton request released by operator")
	publish(ctx, s.publisher, events.Event{
		Type:      events.TypeRequestReleased,
		RequestID: requestID,
		Message:   fmt.Sprintf("request %s released by operator", requestID),
	})
	return nil
}

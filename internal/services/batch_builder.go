package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
)

// BatchPolicy target batch-size band and low-traffic forcing threshold
type BatchPolicy struct {
	MinSize         int
	MaxSize         int
	ForceAfterTicks int
	MaxBacklog      int // requests loaded per tick
}

// BatchBuilder groups unbatched requests into batches
type BatchBuilder struct {
	store     repository.Store
	policy    BatchPolicy
	publisher events.Publisher

	// consecutive ticks that saw a non-empty backlog too small to batch
	lowTicks int
}

// NewBatchBuilder creates a new BatchBuilder instance
func NewBatchBuilder(store repository.Store, policy BatchPolicy, publisher events.Publisher) *BatchBuilder {
	return &BatchBuilder{store: store, policy: policy, publisher: publisher}
}

// FormBatches runs one batching tick and returns the batches it created.
// Not safe for concurrent use; the scheduler serializes ticks.
func (b *BatchBuilder) FormBatches(ctx context.Context) ([]*models.Batch, error) {
	backlog, err := b.store.ListUnbatched(ctx, b.policy.MaxBacklog)
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog: %w", err)
	}
	metrics.BacklogSize.Set(float64(len(backlog)))

	groups := b.plan(len(backlog))
	if len(groups) == 0 {
		return nil, nil
	}

	var created []*models.Batch
	offset := 0
	for _, size := range groups {
		batch, err := b.createBatch(ctx, backlog[offset:offset+size])
		if err != nil {
			return created, err
		}
		created = append(created, batch)
		offset += size
	}

	logrus.WithFields(logrus.Fields{
		"backlog": len(backlog),
		"batches": len(created),
		"held":    len(backlog) - offset,
	}).Info("📦 [BatchBuilder] Batches formed")
	return created, nil
}

// plan applies the two-speed policy to a backlog of n requests and returns the
// sizes of the batches to cut from its head
func (b *BatchBuilder) plan(n int) []int {
	p := b.policy
	switch {
	case n == 0:
		b.lowTicks = 0
		return nil

	case n > p.MaxSize:
		var sizes []int
		for n > p.MaxSize {
			sizes = append(sizes, p.MaxSize)
			n -= p.MaxSize
		}
		// the remainder waits for the next tick like any low-traffic backlog
		b.lowTicks = 0
		if n > 0 {
			b.lowTicks = 1
		}
		return sizes

	case n >= p.MinSize:
		b.lowTicks = 0
		return []int{n}

	default:
		b.lowTicks++
		if b.lowTicks >= p.ForceAfterTicks {
			b.lowTicks = 0
			return []int{n}
		}
		return nil
	}
}

// createBatch allocates a batch id and claims the members in one transaction
func (b *BatchBuilder) createBatch(ctx context.Context, members []*models.WithdrawalRequest) (*models.Batch, error) {
	ids := make([]string, len(members))
	for i, r := range members {
		ids[i] = r.ID
	}

	var batch *models.Batch
	err := b.store.Transaction(ctx, func(tx repository.Store) error {
		seq, err := repository.NextSequence(ctx, tx, models.SequenceBatchID)
		if err != nil {
			return fmt.Errorf("failed to allocate batch id: %w", err)
		}
		batch = &models.Batch{
			ID:              seq + 1,
			DispatchOutcome: models.DispatchOutcomePending,
			MemberOutcome:   models.MemberOutcomeUnknown,
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to create batch %d: %w", batch.ID, err)
		}
		if err := tx.AssignRequests(ctx, batch.ID, ids); err != nil {
			return fmt.Errorf("failed to assign requests to batch %d: %w", batch.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BatchesCreated.Inc()
	metrics.BatchSize.Observe(float64(len(members)))
	publish(ctx, b.publisher, events.Event{
		Type:    events.TypeBatchCreated,
		BatchID: batch.ID,
		Message: fmt.Sprintf("batch %d created with %d requests", batch.ID, len(members)),
	})
	return batch, nil
}

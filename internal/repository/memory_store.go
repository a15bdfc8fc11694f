package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toncenter/examples/internal/models"
)

// memoryStore is an in-process Store used for local runs and tests.
// All access is serialized by one mutex; Transaction snapshots the data and
// restores it when fn fails.
type memoryStore struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
}

type memoryData struct {
	requests  map[string]*models.WithdrawalRequest
	order     []string
	batches   map[uint64]*models.Batch
	cursors   map[string]models.LedgerCursor
	sequences map[string]uint64
}

// NewMemoryStore creates an empty in-memory Store
func NewMemoryStore() Store {
	return &memoryStore{
		mu: &sync.Mutex{},
		data: &memoryData{
			requests:  make(map[string]*models.WithdrawalRequest),
			batches:   make(map[uint64]*models.Batch),
			cursors:   make(map[string]models.LedgerCursor),
			sequences: make(map[string]uint64),
		},
	}
}

func (s *memoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		requests:  make(map[string]*models.WithdrawalRequest, len(d.requests)),
		order:     append([]string(nil), d.order...),
		batches:   make(map[uint64]*models.Batch, len(d.batches)),
		cursors:   make(map[string]models.LedgerCursor, len(d.cursors)),
		sequences: make(map[string]uint64, len(d.sequences)),
	}
	for k, v := range d.requests {
		c.requests[k] = copyRequest(v)
	}
	for k, v := range d.batches {
		c.batches[k] = copyBatch(v)
	}
	for k, v := range d.cursors {
		c.cursors[k] = v
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	return c
}

func copyRequest(r *models.WithdrawalRequest) *models.WithdrawalRequest {
	c := *r
	if r.BatchID != nil {
		v := *r.BatchID
		c.BatchID = &v
	}
	if r.LegQueryID != nil {
		v := *r.LegQueryID
		c.LegQueryID = &v
	}
	return &c
}

func copyBatch(b *models.Batch) *models.Batch {
	c := *b
	if b.QueryID != nil {
		v := *b.QueryID
		c.QueryID = &v
	}
	if b.QueryCreatedAt != nil {
		v := *b.QueryCreatedAt
		c.QueryCreatedAt = &v
	}
	if b.ReviewedAt != nil {
		v := *b.ReviewedAt
		c.ReviewedAt = &v
	}
	return &c
}

// Transaction runs fn against a view that shares the lock already held
func (s *memoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memoryStore{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *memoryStore) CreateRequest(ctx context.Context, request *models.WithdrawalRequest) error {
	defer s.lock()()
	if _, exists := s.data.requests[request.ID]; exists {
		return fmt.Errorf("withdrawal request %s already exists", request.ID)
	}
	now := time.Now()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	s.data.requests[request.ID] = copyRequest(request)
	s.data.order = append(s.data.order, request.ID)
	return nil
}

func (s *memoryStore) GetRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	defer s.lock()()
	r, ok := s.data.requests[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal request %s: %w", id, ErrNotFound)
	}
	return copyRequest(r), nil
}

func (s *memoryStore) ListUnbatched(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error) {
	defer s.lock()()
	var out []*models.WithdrawalRequest
	for _, id := range s.data.order {
		if len(out) >= limit {
			break
		}
		if r := s.data.requests[id]; r.BatchID == nil {
			out = append(out, copyRequest(r))
		}
	}
	return out, nil
}

func (s *memoryStore) CountUnbatched(ctx context.Context) (int64, error) {
	defer s.lock()()
	var n int64
	for _, r := range s.data.requests {
		if r.BatchID == nil {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListBatchMembers(ctx context.Context, batchID uint64) ([]*models.WithdrawalRequest, error) {
	defer s.lock()()
	var out []*models.WithdrawalRequest
	for _, r := range s.data.requests {
		if r.BatchID != nil && *r.BatchID == batchID {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *memoryStore) FindRequestByLeg(ctx context.Context, jettonName string, legQueryID uint64) (*models.WithdrawalRequest, error) {
	defer s.lock()()
	for _, r := range s.data.requests {
		if r.JettonName == jettonName && r.LegQueryID != nil && *r.LegQueryID == legQueryID {
			return copyRequest(r), nil
		}
	}
	return nil, fmt.Errorf("jetton %s leg %d: %w", jettonName, legQueryID, ErrNotFound)
}

func (s *memoryStore) ListFailedLegs(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error) {
	defer s.lock()()
	var out []*models.WithdrawalRequest
	for _, id := range s.data.order {
		if len(out) >= limit {
			break
		}
		if r := s.data.requests[id]; r.LegOutcome == models.LegOutcomeFailed && r.BatchID != nil {
			out = append(out, copyRequest(r))
		}
	}
	return out, nil
}

func (s *memoryStore) AssignRequests(ctx context.Context, batchID uint64, requestIDs []string) error {
	return s.Transaction(ctx, func(tx Store) error {
		d := tx.(*memoryStore).data
		for i, id := range requestIDs {
			r, ok := d.requests[id]
			if !ok {
				return fmt.Errorf("withdrawal request %s: %w", id, ErrNotFound)
			}
			if r.BatchID != nil {
				return fmt.Errorf("request %s already batched: %w", id, ErrBatchConflict)
			}
			b := batchID
			r.BatchID = &b
			r.Position = i
			r.UpdatedAt = time.Now()
		}
		return nil
	})
}

func (s *memoryStore) SetLegQueryID(ctx context.Context, requestID string, legQueryID uint64) error {
	defer s.lock()()
	r, ok := s.data.requests[requestID]
	if !ok {
		return fmt.Errorf("withdrawal request %s: %w", requestID, ErrNotFound)
	}
	v := legQueryID
	r.LegQueryID = &v
	r.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) UpdateLegOutcome(ctx context.Context, requestID string, outcome models.LegOutcome, txRef string) error {
	defer s.lock()()
	r, ok := s.data.requests[requestID]
	if !ok {
		return fmt.Errorf("withdrawal request %s: %w", requestID, ErrNotFound)
	}
	r.LegOutcome = outcome
	r.LegTx = txRef
	r.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) ReleaseRequest(ctx context.Context, requestID string) error {
	defer s.lock()()
	r, ok := s.data.requests[requestID]
	if !ok {
		return fmt.Errorf("withdrawal request %s: %w", requestID, ErrNotFound)
	}
	release(r)
	return nil
}

func release(r *models.WithdrawalRequest) {
	r.BatchID = nil
	r.Position = 0
	r.LegQueryID = nil
	r.LegOutcome = models.LegOutcomeUnknown
	r.LegTx = ""
	r.UpdatedAt = time.Now()
}

func (s *memoryStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	defer s.lock()()
	if _, exists := s.data.batches[batch.ID]; exists {
		return fmt.Errorf("batch %d already exists: %w", batch.ID, ErrBatchConflict)
	}
	now := time.Now()
	batch.CreatedAt, batch.UpdatedAt = now, now
	if batch.DispatchOutcome == "" {
		batch.DispatchOutcome = models.DispatchOutcomePending
	}
	if batch.MemberOutcome == "" {
		batch.MemberOutcome = models.MemberOutcomeUnknown
	}
	s.data.batches[batch.ID] = copyBatch(batch)
	return nil
}

func (s *memoryStore) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	defer s.lock()()
	b, ok := s.data.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	return copyBatch(b), nil
}

func (s *memoryStore) FindBatchByQuery(ctx context.Context, queryID uint32, createdAt int64) (*models.Batch, error) {
	defer s.lock()()
	for _, b := range s.data.batches {
		if b.Submitted() && *b.QueryID == queryID && *b.QueryCreatedAt == createdAt {
			return copyBatch(b), nil
		}
	}
	return nil, fmt.Errorf("batch with query %d/%d: %w", queryID, createdAt, ErrNotFound)
}

func (s *memoryStore) sortedBatches(keep func(*models.Batch) bool, limit int) []*models.Batch {
	var out []*models.Batch
	for _, b := range s.data.batches {
		if keep(b) {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memoryStore) ListLiveBatches(ctx context.Context, limit int) ([]*models.Batch, error) {
	defer s.lock()()
	return s.sortedBatches(isLive, limit), nil
}

func isLive(b *models.Batch) bool {
	if b.Superseded {
		return false
	}
	return b.DispatchOutcome == models.DispatchOutcomePending ||
		(b.DispatchOutcome == models.DispatchOutcomeAckNonEmpty && b.MemberOutcome == models.MemberOutcomeUnknown)
}

func (s *memoryStore) ListBatchesForReview(ctx context.Context, limit int) ([]*models.Batch, error) {
	defer s.lock()()
	return s.sortedBatches(func(b *models.Batch) bool {
		return b.ReviewReason != "" && b.ReviewedAt == nil
	}, limit), nil
}

func (s *memoryStore) StampBatch(ctx context.Context, id uint64, queryID uint32, createdAt int64) error {
	defer s.lock()()
	b, ok := s.data.batches[id]
	if !ok || b.QueryID != nil {
		return fmt.Errorf("batch %d already stamped or missing: %w", id, ErrBatchConflict)
	}
	q, c := queryID, createdAt
	b.QueryID, b.QueryCreatedAt = &q, &c
	b.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) SupersedeBatch(ctx context.Context, id uint64) error {
	return s.supersede(id, func(b *models.Batch) bool { return !b.Superseded })
}

func (s *memoryStore) SupersedeLiveBatch(ctx context.Context, id uint64) error {
	return s.supersede(id, isLive)
}

func (s *memoryStore) supersede(id uint64, guard func(*models.Batch) bool) error {
	defer s.lock()()
	b, ok := s.data.batches[id]
	if !ok || !guard(b) {
		return fmt.Errorf("batch %d is resolved, superseded or missing: %w", id, ErrBatchConflict)
	}
	b.Superseded = true
	b.UpdatedAt = time.Now()
	for _, r := range s.data.requests {
		if r.BatchID != nil && *r.BatchID == id {
			release(r)
		}
	}
	return nil
}

func (s *memoryStore) updateBatch(id uint64, fn func(b *models.Batch)) error {
	defer s.lock()()
	b, ok := s.data.batches[id]
	if !ok {
		return fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	fn(b)
	b.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) UpdateDispatchOutcome(ctx context.Context, id uint64, outcome models.DispatchOutcome, txRef string) error {
	return s.updateBatch(id, func(b *models.Batch) {
		b.DispatchOutcome = outcome
		b.DispatchTx = txRef
	})
}

func (s *memoryStore) UpdateMemberOutcome(ctx context.Context, id uint64, outcome models.MemberOutcome, txRef string) error {
	return s.updateBatch(id, func(b *models.Batch) {
		b.MemberOutcome = outcome
		b.MemberTx = txRef
	})
}

func (s *memoryStore) FlagForReview(ctx context.Context, id uint64, reason string) error {
	return s.updateBatch(id, func(b *models.Batch) {
		b.ReviewReason = reason
		b.ReviewedAt = nil
	})
}

func (s *memoryStore) MarkReviewed(ctx context.Context, id uint64) error {
	return s.updateBatch(id, func(b *models.Batch) {
		now := time.Now()
		b.ReviewedAt = &now
	})
}

func (s *memoryStore) GetCursor(ctx context.Context, streamKey string) (*models.LedgerCursor, error) {
	defer s.lock()()
	c, ok := s.data.cursors[streamKey]
	if !ok {
		return nil, fmt.Errorf("cursor %s: %w", streamKey, ErrNotFound)
	}
	return &c, nil
}

func (s *memoryStore) SaveCursor(ctx context.Context, cursor *models.LedgerCursor) error {
	defer s.lock()()
	cursor.UpdatedAt = time.Now()
	s.data.cursors[cursor.StreamKey] = *cursor
	return nil
}

func (s *memoryStore) GetSequence(ctx context.Context, key string) (uint64, error) {
	defer s.lock()()
	return s.data.sequences[key], nil
}

func (s *memoryStore) SetSequence(ctx context.Context, key string, value uint64) error {
	defer s.lock()()
	s.data.sequences[key] = value
	return nil
}

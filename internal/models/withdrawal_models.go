package models

import (
	"time"
)

// AssetKind distinguishes Toncoin withdrawals from jetton withdrawals
type AssetKind string

const (
	AssetKindNative AssetKind = "native" // Toncoin, sent directly by the hot wallet
	AssetKindJetton AssetKind = "jetton" // jetton, sent through the hot wallet's jetton wallet
)

// LegOutcome jetton leg settlement status
type LegOutcome string

const (
	LegOutcomeUnknown   LegOutcome = "unknown"
	LegOutcomeFailed    LegOutcome = "failed"
	LegOutcomeSucceeded LegOutcome = "succeeded"
)

// DispatchOutcome whether the highload wallet executed the batch external message
type DispatchOutcome string

const (
	DispatchOutcomePending     DispatchOutcome = "pending"      // not observed on chain yet
	DispatchOutcomeAckEmpty    DispatchOutcome = "ack_empty"    // executed, produced no out messages
	DispatchOutcomeAckNonEmpty DispatchOutcome = "ack_nonempty" // executed, internal_transfer sent
)

// MemberOutcome whether the internal_transfer to self emitted the member messages
type MemberOutcome string

const (
	MemberOutcomeUnknown MemberOutcome = "unknown"
	MemberOutcomeSent    MemberOutcome = "sent"
	MemberOutcomeNotSent MemberOutcome = "not_sent"
)

// RequestStatus caller-facing withdrawal status
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusDispatched RequestStatus = "dispatched"
	RequestStatusSucceeded  RequestStatus = "succeeded"
	RequestStatusFailed     RequestStatus = "failed_needs_manual_review"
)

// Review reasons recorded on escalated batches
const (
	ReviewReasonDispatchEmpty        = "dispatch_empty"
	ReviewReasonMembersNotSent       = "members_not_sent"
	ReviewReasonExpiredAfterDispatch = "expired_after_dispatch"
	ReviewReasonPayloadInvalid       = "payload_invalid"
)

// WithdrawalRequest a single outbound transfer from the hot wallet
type WithdrawalRequest struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"` // UUID
	Destination string    `json:"destination" gorm:"not null;size:68"`
	Amount      string    `json:"amount" gorm:"not null"` // smallest units, decimal string
	AssetKind   AssetKind `json:"asset_kind" gorm:"not null;size:16"`
	JettonName  string    `json:"jetton_name" gorm:"size:32;index:idx_request_leg"`

	// Batch membership (nil = eligible for batching)
	BatchID  *uint64 `json:"batch_id" gorm:"index"`
	Position int     `json:"position" gorm:"default:0"`

	// Jetton leg tracking
	LegQueryID *uint64    `json:"leg_query_id" gorm:"index:idx_request_leg"`
	LegOutcome LegOutcome `json:"leg_outcome" gorm:"not null;default:unknown;size:16"`
	LegTx      string     `json:"leg_tx"` // lt:hash of the jetton wallet transaction

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}

// IsJetton reports whether the request needs a jetton leg
func (r *WithdrawalRequest) IsJetton() bool {
	return r.AssetKind == AssetKindJetton
}

// Batch a group of requests sent in one highload wallet external message
type Batch struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement:false"`

	// Highload dedup key, set once at first submission
	QueryID        *uint32 `json:"query_id" gorm:"uniqueIndex:idx_batch_query"`
	QueryCreatedAt *int64  `json:"query_created_at" gorm:"uniqueIndex:idx_batch_query"`

	DispatchOutcome DispatchOutcome `json:"dispatch_outcome" gorm:"not null;default:pending;size:16;index"`
	DispatchTx      string          `json:"dispatch_tx"`
	MemberOutcome   MemberOutcome   `json:"member_outcome" gorm:"not null;default:unknown;size:16"`
	MemberTx        string          `json:"member_tx"`

	Superseded bool `json:"superseded" gorm:"not null;default:false;index"`

	// Operator escalation
	ReviewReason string     `json:"review_reason" gorm:"size:32"`
	ReviewedAt   *time.Time `json:"reviewed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Batch) TableName() string {
	return "withdrawal_batches"
}

// Submitted reports whether the batch already has its dedup identifiers
func (b *Batch) Submitted() bool {
	return b.QueryID != nil && b.QueryCreatedAt != nil
}

// Held reports whether transmission is suspended until an operator reviews
// a payload that could not be built
func (b *Batch) Held() bool {
	return b.ReviewReason == ReviewReasonPayloadInvalid && b.ReviewedAt == nil
}

// LedgerCursor last processed transaction of an account stream
type LedgerCursor struct {
	StreamKey string    `json:"stream_key" gorm:"primaryKey;size:64"`
	LT        uint64    `json:"lt" gorm:"not null"`
	Hash      string    `json:"hash" gorm:"size:64"`
	Utime     int64     `json:"utime" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (LedgerCursor) TableName() string {
	return "ledger_cursors"
}

// Sequence persisted counter (batch ids, highload query ids, jetton leg ids)
type Sequence struct {
	Key       string    `json:"key" gorm:"column:seq_key;primaryKey;size:64"`
	Value     uint64    `json:"value" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Sequence) TableName() string {
	return "sequences"
}

// Stream and sequence keys
const (
	StreamHotWallet       = "hot_wallet"
	SequenceBatchID       = "batch_id"
	SequenceHighloadQuery = "highload_query_id"
)

// JettonStreamKey cursor key of a jetton wallet stream
func JettonStreamKey(jettonName string) string {
	return "jetton:" + jettonName
}

// JettonSequenceKey leg query id sequence of a jetton
func JettonSequenceKey(jettonName string) string {
	return "jetton_query_id:" + jettonName
}

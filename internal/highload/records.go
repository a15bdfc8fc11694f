package highload

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/examples/internal/types"
)

// RecordKind classification of a ledger transaction
type RecordKind int

const (
	RecordUnrecognized RecordKind = iota
	RecordExternalDispatch
	RecordInternalDispatch
	RecordTokenLeg
)

func (k RecordKind) String() string {
	switch k {
	case RecordExternalDispatch:
		return "external_dispatch"
	case RecordInternalDispatch:
		return "internal_dispatch"
	case RecordTokenLeg:
		return "token_leg"
	default:
		return "unrecognized"
	}
}

// Record what a transaction means for the withdrawal engine.
// Only the fields of its Kind are set.
type Record struct {
	Kind RecordKind
	TxID types.TransactionID

	// RecordExternalDispatch
	QueryID   uint32
	CreatedAt int64

	// RecordInternalDispatch
	BatchID uint64

	// RecordTokenLeg
	LegQueryID uint64

	// Emitted reports whether the record produced effects: any out message for
	// dispatch records, a non-bounced transfer for token legs.
	Emitted bool

	// Err why the record is RecordUnrecognized, nil for foreign records
	Err error
}

var errNoBody = errors.New("message has no body")

// ParseAddress accepts user-friendly and raw address forms
func ParseAddress(s string) (*address.Address, error) {
	addr, err := address.ParseAddr(s)
	if err == nil {
		return addr, nil
	}
	raw, rawErr := address.ParseRawAddr(s)
	if rawErr != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return raw, nil
}

// SameAddress compares addresses ignoring flags and encoding
func SameAddress(a, b *address.Address) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

func isAddress(s string, want *address.Address) bool {
	if s == "" {
		return false
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return false
	}
	return SameAddress(addr, want)
}

func bodySlice(msg *types.Message) (*cell.Slice, error) {
	if msg == nil || len(msg.Body) == 0 {
		return nil, errNoBody
	}
	c, err := cell.FromBOC(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode body: %w", err)
	}
	return c.BeginParse(), nil
}

func unrecognized(tx *types.Transaction, err error) Record {
	return Record{Kind: RecordUnrecognized, TxID: tx.ID, Err: err}
}

// ClassifyHotWalletTx classifies a transaction of the hot wallet stream
func ClassifyHotWalletTx(tx *types.Transaction, hotWallet *address.Address) Record {
	if tx.InMsg == nil {
		return unrecognized(tx, nil)
	}
	emitted := len(tx.OutMsgs) > 0

	if tx.IsExternal() {
		body, err := bodySlice(tx.InMsg)
		if err != nil {
			return unrecognized(tx, err)
		}
		inner, err := body.LoadRef()
		if err != nil {
			return unrecognized(tx, fmt.Errorf("external body without inner message: %w", err))
		}
		if _, err := inner.LoadUInt(32 + 8); err != nil { // subwallet id, send mode
			return unrecognized(tx, err)
		}
		queryID, err := inner.LoadUInt(queryIDBits)
		if err != nil {
			return unrecognized(tx, err)
		}
		createdAt, err := inner.LoadUInt(64)
		if err != nil {
			return unrecognized(tx, err)
		}
		return Record{
			Kind:      RecordExternalDispatch,
			TxID:      tx.ID,
			QueryID:   uint32(queryID),
			CreatedAt: int64(createdAt),
			Emitted:   emitted,
		}
	}

	if !isAddress(tx.InMsg.Source, hotWallet) {
		return unrecognized(tx, nil)
	}
	body, err := bodySlice(tx.InMsg)
	if err != nil {
		return unrecognized(tx, err)
	}
	op, err := body.LoadUInt(32)
	if err != nil {
		return unrecognized(tx, err)
	}
	if op != OpInternalTransfer {
		return unrecognized(tx, fmt.Errorf("unknown op 0x%x", op))
	}
	batchID, err := body.LoadUInt(64)
	if err != nil {
		return unrecognized(tx, err)
	}
	return Record{Kind: RecordInternalDispatch, TxID: tx.ID, BatchID: batchID, Emitted: emitted}
}

// ClassifyJettonWalletTx classifies a transaction of the hot wallet's jetton wallet stream
func ClassifyJettonWalletTx(tx *types.Transaction, hotWallet *address.Address) Record {
	if tx.InMsg == nil || tx.IsExternal() {
		return unrecognized(tx, nil)
	}
	if !isAddress(tx.InMsg.Source, hotWallet) {
		return unrecognized(tx, nil)
	}
	body, err := bodySlice(tx.InMsg)
	if err != nil {
		return unrecognized(tx, err)
	}
	op, err := body.LoadUInt(32)
	if err != nil {
		return unrecognized(tx, err)
	}
	if op != OpJettonTransfer {
		return unrecognized(tx, fmt.Errorf("unknown op 0x%x", op))
	}
	legQueryID, err := body.LoadUInt(64)
	if err != nil {
		return unrecognized(tx, err)
	}

	// the jetton wallet either forwards the transfer or bounces it back to the sender
	bounced := len(tx.OutMsgs) == 1 && isAddress(tx.OutMsgs[0].Destination, hotWallet)
	return Record{
		Kind:       RecordTokenLeg,
		TxID:       tx.ID,
		LegQueryID: legQueryID,
		Emitted:    len(tx.OutMsgs) > 0 && !bounced,
	}
}

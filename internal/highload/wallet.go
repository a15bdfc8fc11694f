package highload

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// DefaultSubwalletID is the subwallet id used by the reference highload v3 deployments
	DefaultSubwalletID = 0x10ad
	// DefaultSendMode pays fees separately and ignores action errors
	DefaultSendMode = 3

	maxTimeout = 1<<22 - 1
)

// Signer signs the hash of the inner highload message
type Signer interface {
	Sign(message []byte) []byte
}

// Wallet builds signed external messages for a highload wallet v3
type Wallet struct {
	Address       *address.Address
	SubwalletID   uint32
	Timeout       uint32 // seconds, the contract's dedup window
	ForwardAmount *big.Int
	Signer        Signer
}

// Transfer one external message carrying a batch body
type Transfer struct {
	QueryID   QueryID
	CreatedAt int64
	Body      *cell.Cell
}

func (w *Wallet) validate() error {
	if w.Address == nil {
		return errors.New("highload wallet address is not set")
	}
	if w.Signer == nil {
		return errors.New("highload wallet signer is not set")
	}
	if w.Timeout == 0 || w.Timeout > maxTimeout {
		return fmt.Errorf("highload wallet timeout %d out of range", w.Timeout)
	}
	if w.ForwardAmount == nil || w.ForwardAmount.Sign() <= 0 {
		return errors.New("highload wallet forward amount must be positive")
	}
	return nil
}

// ExternalMessage builds the signed external message for a transfer.
// The result depends only on its inputs, so a retry reproduces the same bytes.
func (w *Wallet) ExternalMessage(t Transfer) (*cell.Cell, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if t.Body == nil {
		return nil, errors.New("transfer body is empty")
	}
	if t.CreatedAt < 0 {
		return nil, fmt.Errorf("invalid created_at %d", t.CreatedAt)
	}

	toSelf := InternalMessage(w.Address, w.ForwardAmount, t.Body)
	inner := cell.BeginCell().
		MustStoreUInt(uint64(w.SubwalletID), 32).
		MustStoreRef(toSelf).
		MustStoreUInt(DefaultSendMode, 8).
		MustStoreUInt(uint64(t.QueryID.Uint()), queryIDBits).
		MustStoreUInt(uint64(t.CreatedAt), 64).
		MustStoreUInt(uint64(w.Timeout), 22).
		EndCell()

	signature := w.Signer.Sign(inner.Hash())
	if len(signature) != 64 {
		return nil, fmt.Errorf("signer returned %d byte signature", len(signature))
	}
	body := cell.BeginCell().
		MustStoreSlice(signature, 512).
		MustStoreRef(inner).
		EndCell()

	return cell.BeginCell().
		MustStoreUInt(0b10, 2). // ext_in_msg_info
		MustStoreUInt(0, 2).    // src: addr_none
		MustStoreAddr(w.Address).
		MustStoreCoins(0).       // import_fee
		MustStoreBoolBit(false). // no state init
		MustStoreBoolBit(true).  // body in ref
		MustStoreRef(body).
		EndCell(), nil
}

// ExternalMessageBOC serializes the signed external message for sendBoc
func (w *Wallet) ExternalMessageBOC(t Transfer) ([]byte, error) {
	msg, err := w.ExternalMessage(t)
	if err != nil {
		return nil, err
	}
	return msg.ToBOC(), nil
}

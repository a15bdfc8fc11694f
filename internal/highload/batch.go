package highload

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Opcodes used by the highload wallet v3 and TEP-74 jetton wallets
const (
	OpInternalTransfer = 0xae42e5a4
	OpActionSendMsg    = 0x0ec3c86d
	OpJettonTransfer   = 0x0f8a7ea5

	// MaxActions is the highload wallet limit of out actions per internal_transfer
	MaxActions = 254

	actionSendMode = 1
)

// Action one outgoing message of a batch
type Action struct {
	Destination *address.Address
	Amount      *big.Int
	Body        *cell.Cell // nil for a plain Toncoin transfer
}

// JettonTransfer parameters of a TEP-74 transfer body
type JettonTransfer struct {
	QueryID     uint64
	Amount      *big.Int
	Destination *address.Address
	Response    *address.Address
}

// InternalMessage builds a bounceable-by-address internal message with no state init
func InternalMessage(dst *address.Address, amount *big.Int, body *cell.Cell) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(0, 1).                  // int_msg_info$0
		MustStoreBoolBit(true).               // ihr_disabled
		MustStoreBoolBit(dst.IsBounceable()). // bounce
		MustStoreBoolBit(false).              // bounced
		MustStoreUInt(0, 2).                  // src: addr_none
		MustStoreAddr(dst).                   // dest
		MustStoreBigCoins(amount).            // value
		MustStoreBoolBit(false).              // extra currencies
		MustStoreCoins(0).                    // ihr_fee
		MustStoreCoins(0).                    // fwd_fee
		MustStoreUInt(0, 64).                 // created_lt
		MustStoreUInt(0, 32).                 // created_at
		MustStoreBoolBit(false)               // init
	if body == nil {
		return b.MustStoreBoolBit(false).EndCell()
	}
	return b.MustStoreBoolBit(true).MustStoreRef(body).EndCell()
}

// JettonTransferBody builds the transfer body sent to the hot wallet's jetton wallet
func JettonTransferBody(t JettonTransfer) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(OpJettonTransfer, 32).
		MustStoreUInt(t.QueryID, 64).
		MustStoreBigCoins(t.Amount).
		MustStoreAddr(t.Destination).
		MustStoreAddr(t.Response).
		MustStoreBoolBit(false). // custom_payload
		MustStoreCoins(0).       // forward_ton_amount
		MustStoreBoolBit(false). // forward_payload in place, empty
		EndCell()
}

// BuildBatchBody builds the internal_transfer body the hot wallet sends to itself.
// The action list is a right fold: the first action is the head cell and the
// last one references the empty cell.
func BuildBatchBody(batchID uint64, actions []Action) (*cell.Cell, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("batch %d has no actions", batchID)
	}
	if len(actions) > MaxActions {
		return nil, fmt.Errorf("batch %d has %d actions, max %d", batchID, len(actions), MaxActions)
	}

	prev := cell.BeginCell().EndCell()
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if a.Destination == nil || a.Amount == nil || a.Amount.Sign() < 0 {
			return nil, fmt.Errorf("batch %d action %d is incomplete", batchID, i)
		}
		prev = cell.BeginCell().
			MustStoreRef(prev).
			MustStoreUInt(OpActionSendMsg, 32).
			MustStoreUInt(actionSendMode, 8).
			MustStoreRef(InternalMessage(a.Destination, a.Amount, a.Body)).
			EndCell()
	}

	return cell.BeginCell().
		MustStoreUInt(OpInternalTransfer, 32).
		MustStoreUInt(batchID, 64).
		MustStoreRef(prev).
		EndCell(), nil
}

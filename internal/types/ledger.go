package types

import (
	"fmt"
	"strconv"
	"strings"
)

// TransactionID logical time + hash pair identifying an account transaction
type TransactionID struct {
	LT   uint64 `json:"lt"`
	Hash string `json:"hash"`
}

// String renders the id as lt:hash
func (id TransactionID) String() string {
	return fmt.Sprintf("%d:%s", id.LT, id.Hash)
}

// ParseTransactionID parses the lt:hash form produced by String
func ParseTransactionID(s string) (TransactionID, error) {
	lt, hash, ok := strings.Cut(s, ":")
	if !ok {
		return TransactionID{}, fmt.Errorf("invalid transaction id %q", s)
	}
	v, err := strconv.ParseUint(lt, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("invalid transaction lt %q: %w", lt, err)
	}
	return TransactionID{LT: v, Hash: hash}, nil
}

// Message in or out message of a transaction
type Message struct {
	Source      string `json:"source"` // empty for external messages
	Destination string `json:"destination"`
	Value       string `json:"value"`
	BodyType    string `json:"body_type"`
	Body        []byte `json:"body"` // BOC of the message body, nil when absent
}

// Transaction one ledger record of an account
type Transaction struct {
	ID      TransactionID `json:"transaction_id"`
	Utime   int64         `json:"utime"`
	InMsg   *Message      `json:"in_msg"`
	OutMsgs []Message     `json:"out_msgs"`
}

// IsExternal reports whether the transaction was triggered by an external message
func (tx *Transaction) IsExternal() bool {
	return tx.InMsg != nil && tx.InMsg.Source == ""
}

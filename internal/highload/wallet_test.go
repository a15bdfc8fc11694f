package highload

import (
	"bytes"
	"crypto/ed25519"
	"math/big"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/examples/internal/keys"
	"github.com/toncenter/examples/internal/types"
)

func testAddress(fill byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{fill}, 32))
}

func testWallet(t *testing.T) (*Wallet, *keys.KeyPair) {
	t.Helper()
	kp, err := keys.FromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return &Wallet{
		Address:       testAddress(0x11),
		SubwalletID:   DefaultSubwalletID,
		Timeout:       3600,
		ForwardAmount: big.NewInt(100_000_000),
		Signer:        kp,
	}, kp
}

func testBody(t *testing.T) *cell.Cell {
	t.Helper()
	body, err := BuildBatchBody(42, []Action{
		{Destination: testAddress(0x21), Amount: big.NewInt(1_000)},
		{Destination: testAddress(0x22), Amount: big.NewInt(2_000)},
	})
	if err != nil {
		t.Fatalf("BuildBatchBody: %v", err)
	}
	return body
}

func TestBuildBatchBodyLayout(t *testing.T) {
	first := Action{Destination: testAddress(0x21), Amount: big.NewInt(1_000)}
	second := Action{Destination: testAddress(0x22), Amount: big.NewInt(2_000)}
	body, err := BuildBatchBody(42, []Action{first, second})
	if err != nil {
		t.Fatalf("BuildBatchBody: %v", err)
	}

	s := body.BeginParse()
	if op, _ := s.LoadUInt(32); op != OpInternalTransfer {
		t.Fatalf("op = 0x%x", op)
	}
	if id, _ := s.LoadUInt(64); id != 42 {
		t.Fatalf("batch id = %d", id)
	}

	node, err := s.LoadRef()
	if err != nil {
		t.Fatalf("missing action list: %v", err)
	}
	for i, want := range []Action{first, second} {
		prev, err := node.LoadRef()
		if err != nil {
			t.Fatalf("action %d: missing prev: %v", i, err)
		}
		if op, _ := node.LoadUInt(32); op != OpActionSendMsg {
			t.Fatalf("action %d: op = 0x%x", i, op)
		}
		if mode, _ := node.LoadUInt(8); mode != 1 {
			t.Fatalf("action %d: mode = %d", i, mode)
		}
		msg, err := node.LoadRef()
		if err != nil {
			t.Fatalf("action %d: missing message: %v", i, err)
		}
		msgCell, err := msg.ToCell()
		if err != nil {
			t.Fatalf("action %d: %v", i, err)
		}
		expected := InternalMessage(want.Destination, want.Amount, nil)
		if !bytes.Equal(msgCell.Hash(), expected.Hash()) {
			t.Fatalf("action %d: message does not match destination %s", i, want.Destination)
		}
		node = prev
	}
	if node.BitsLeft() != 0 || node.RefsNum() != 0 {
		t.Fatal("action list does not end with the empty cell")
	}
}

func TestBuildBatchBodyLimits(t *testing.T) {
	if _, err := BuildBatchBody(1, nil); err == nil {
		t.Fatal("empty batch accepted")
	}
	actions := make([]Action, MaxActions+1)
	for i := range actions {
		actions[i] = Action{Destination: testAddress(0x21), Amount: big.NewInt(1)}
	}
	if _, err := BuildBatchBody(1, actions); err == nil {
		t.Fatal("oversized batch accepted")
	}
	if _, err := BuildBatchBody(1, actions[:MaxActions]); err != nil {
		t.Fatalf("batch of %d rejected: %v", MaxActions, err)
	}
}

func TestExternalMessageIsDeterministicAndSigned(t *testing.T) {
	w, kp := testWallet(t)
	transfer := Transfer{QueryID: QueryID{Shift: 2, BitNumber: 9}, CreatedAt: 1_700_000_000, Body: testBody(t)}

	first, err := w.ExternalMessageBOC(transfer)
	if err != nil {
		t.Fatalf("ExternalMessageBOC: %v", err)
	}
	second, err := w.ExternalMessageBOC(transfer)
	if err != nil {
		t.Fatalf("ExternalMessageBOC: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("retry produced different bytes")
	}

	msg, err := cell.FromBOC(first)
	if err != nil {
		t.Fatalf("FromBOC: %v", err)
	}
	body, err := msg.BeginParse().LoadRef()
	if err != nil {
		t.Fatalf("external body: %v", err)
	}
	sig, err := body.LoadSlice(512)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	inner, err := body.LoadRef()
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	innerCell, err := inner.ToCell()
	if err != nil {
		t.Fatalf("inner cell: %v", err)
	}
	if !ed25519.Verify(kp.PublicKey(), innerCell.Hash(), sig) {
		t.Fatal("signature does not verify")
	}

	if sub, _ := inner.LoadUInt(32); sub != DefaultSubwalletID {
		t.Fatalf("subwallet id = %d", sub)
	}
	if _, err := inner.LoadRef(); err != nil {
		t.Fatalf("message to self: %v", err)
	}
	if mode, _ := inner.LoadUInt(8); mode != DefaultSendMode {
		t.Fatalf("send mode = %d", mode)
	}
	if q, _ := inner.LoadUInt(23); q != uint64(transfer.QueryID.Uint()) {
		t.Fatalf("query id = %d", q)
	}
	if c, _ := inner.LoadUInt(64); c != uint64(transfer.CreatedAt) {
		t.Fatalf("created_at = %d", c)
	}
	if to, _ := inner.LoadUInt(22); to != 3600 {
		t.Fatalf("timeout = %d", to)
	}
}

func TestExternalMessageValidation(t *testing.T) {
	w, _ := testWallet(t)
	w.Timeout = 0
	if _, err := w.ExternalMessage(Transfer{Body: testBody(t)}); err == nil {
		t.Fatal("zero timeout accepted")
	}
	w, _ = testWallet(t)
	if _, err := w.ExternalMessage(Transfer{}); err == nil {
		t.Fatal("empty body accepted")
	}
}

// externalBody extracts the message body the way the ledger API reports it
func externalBody(t *testing.T, w *Wallet, tr Transfer) []byte {
	t.Helper()
	msg, err := w.ExternalMessage(tr)
	if err != nil {
		t.Fatalf("ExternalMessage: %v", err)
	}
	body, err := msg.BeginParse().LoadRef()
	if err != nil {
		t.Fatalf("LoadRef: %v", err)
	}
	c, err := body.ToCell()
	if err != nil {
		t.Fatalf("ToCell: %v", err)
	}
	return c.ToBOC()
}

func TestClassifyHotWalletTx(t *testing.T) {
	w, _ := testWallet(t)
	hot := w.Address
	tr := Transfer{QueryID: QueryID{Shift: 1, BitNumber: 3}, CreatedAt: 1_700_000_123, Body: testBody(t)}
	out := []types.Message{{Destination: hot.String()}}

	tests := []struct {
		name    string
		tx      types.Transaction
		kind    RecordKind
		emitted bool
		hasErr  bool
	}{
		{
			name: "external dispatched",
			tx:   types.Transaction{InMsg: &types.Message{Body: externalBody(t, w, tr)}, OutMsgs: out},
			kind: RecordExternalDispatch, emitted: true,
		},
		{
			name: "external without effect",
			tx:   types.Transaction{InMsg: &types.Message{Body: externalBody(t, w, tr)}},
			kind: RecordExternalDispatch,
		},
		{
			name: "internal transfer to self",
			tx:   types.Transaction{InMsg: &types.Message{Source: hot.String(), Body: testBody(t).ToBOC()}, OutMsgs: out},
			kind: RecordInternalDispatch, emitted: true,
		},
		{
			name: "internal from a stranger",
			tx:   types.Transaction{InMsg: &types.Message{Source: testAddress(0x99).String(), Body: testBody(t).ToBOC()}},
			kind: RecordUnrecognized,
		},
		{
			name: "malformed external body",
			tx:   types.Transaction{InMsg: &types.Message{Body: []byte{0x01, 0x02}}},
			kind: RecordUnrecognized, hasErr: true,
		},
		{
			name: "external without body",
			tx:   types.Transaction{InMsg: &types.Message{}},
			kind: RecordUnrecognized, hasErr: true,
		},
		{
			name: "no inbound message",
			tx:   types.Transaction{},
			kind: RecordUnrecognized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ClassifyHotWalletTx(&tt.tx, hot)
			if rec.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s (err %v)", rec.Kind, tt.kind, rec.Err)
			}
			if rec.Emitted != tt.emitted {
				t.Fatalf("emitted = %v, want %v", rec.Emitted, tt.emitted)
			}
			if (rec.Err != nil) != tt.hasErr {
				t.Fatalf("err = %v, want error %v", rec.Err, tt.hasErr)
			}
			switch rec.Kind {
			case RecordExternalDispatch:
				if rec.QueryID != tr.QueryID.Uint() || rec.CreatedAt != tr.CreatedAt {
					t.Fatalf("identifiers = %d/%d", rec.QueryID, rec.CreatedAt)
				}
			case RecordInternalDispatch:
				if rec.BatchID != 42 {
					t.Fatalf("batch id = %d", rec.BatchID)
				}
			}
		})
	}
}

func TestClassifyJettonWalletTx(t *testing.T) {
	hot := testAddress(0x11)
	transfer := JettonTransferBody(JettonTransfer{
		QueryID:     17,
		Amount:      big.NewInt(5_000_000),
		Destination: testAddress(0x31),
		Response:    hot,
	}).ToBOC()

	tests := []struct {
		name    string
		outs    []types.Message
		source  string
		kind    RecordKind
		emitted bool
	}{
		{"forwarded", []types.Message{{Destination: testAddress(0x41).String()}}, hot.String(), RecordTokenLeg, true},
		{"bounced to hot wallet", []types.Message{{Destination: hot.String()}}, hot.String(), RecordTokenLeg, false},
		{"no out messages", nil, hot.String(), RecordTokenLeg, false},
		{"foreign sender", []types.Message{{Destination: testAddress(0x41).String()}}, testAddress(0x55).String(), RecordUnrecognized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := types.Transaction{
				ID:      types.TransactionID{LT: 10, Hash: "h"},
				InMsg:   &types.Message{Source: tt.source, Body: transfer},
				OutMsgs: tt.outs,
			}
			rec := ClassifyJettonWalletTx(&tx, hot)
			if rec.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", rec.Kind, tt.kind)
			}
			if rec.Emitted != tt.emitted {
				t.Fatalf("emitted = %v, want %v", rec.Emitted, tt.emitted)
			}
			if rec.Kind == RecordTokenLeg && rec.LegQueryID != 17 {
				t.Fatalf("leg query id = %d", rec.LegQueryID)
			}
		})
	}
}

func TestParseAddressForms(t *testing.T) {
	a := testAddress(0x11)
	parsed, err := ParseAddress(a.String())
	if err != nil {
		t.Fatalf("friendly form: %v", err)
	}
	if !SameAddress(a, parsed) {
		t.Fatal("friendly form parsed to another address")
	}
	raw, err := ParseAddress(a.StringRaw())
	if err != nil {
		t.Fatalf("raw form: %v", err)
	}
	if !SameAddress(a, raw) {
		t.Fatal("raw form parsed to another address")
	}
	if _, err := ParseAddress("not-an-address"); err == nil {
		t.Fatal("garbage accepted")
	}
	var target *address.Address
	if SameAddress(a, target) {
		t.Fatal("nil address matched")
	}
}

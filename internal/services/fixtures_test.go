package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/keys"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/repository"
	"github.com/toncenter/examples/internal/types"
)

const testJetton = "usdt"

func testAddress(fill byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{fill}, 32))
}

// fakeLedger serves account transactions from memory and records submissions
type fakeLedger struct {
	mu      sync.Mutex
	txs     map[string][]types.Transaction // oldest first
	sent    [][]byte
	sendErr error
	onSend  func(boc []byte)
	now     int64
}

func newFakeLedger(now int64) *fakeLedger {
	return &fakeLedger{txs: make(map[string][]types.Transaction), now: now}
}

func (l *fakeLedger) SendBoc(ctx context.Context, boc []byte) error {
	if l.onSend != nil {
		l.onSend(boc)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, append([]byte(nil), boc...))
	return nil
}

func (l *fakeLedger) GetTransactions(ctx context.Context, addr string, limit int, from *types.TransactionID, archival bool) ([]types.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.txs[addr]
	var page []types.Transaction
	started := from == nil
	for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
		if !started && all[i].ID.LT == from.LT {
			started = true
		}
		if started {
			page = append(page, all[i])
		}
	}
	return page, nil
}

func (l *fakeLedger) GetLedgerTime(ctx context.Context, addr string) (int64, error) {
	return l.now, nil
}

func (l *fakeLedger) add(addr *address.Address, txs ...types.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[addr.String()] = append(l.txs[addr.String()], txs...)
}

func (l *fakeLedger) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

func (l *fakeLedger) lastSent(t *testing.T) []byte {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return l.sent[len(l.sent)-1]
}

// recorder collects published events
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) alerts(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == events.TypeAlert && e.Reason == reason {
			n++
		}
	}
	return n
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// engine wires the services over a memory store and a fake ledger
type engine struct {
	store      repository.Store
	ledger     *fakeLedger
	events     *recorder
	wallet     *highload.Wallet
	jettons    map[string]JettonRoute
	builder    *BatchBuilder
	submitter  *BatchSubmitter
	reconciler *LedgerReconciler
	service    *WithdrawalService
	requests   []string // enqueue order
}

func newEngine(t *testing.T, policy BatchPolicy) *engine {
	t.Helper()
	kp, err := keys.FromSeed(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	e := &engine{
		store:  repository.NewMemoryStore(),
		ledger: newFakeLedger(1_000),
		events: &recorder{},
		wallet: &highload.Wallet{
			Address:       testAddress(0x11),
			SubwalletID:   highload.DefaultSubwalletID,
			Timeout:       60,
			ForwardAmount: big.NewInt(100_000_000),
			Signer:        kp,
		},
		jettons: map[string]JettonRoute{
			testJetton: {WalletAddress: testAddress(0x51), ForwardAmount: big.NewInt(50_000_000)},
		},
	}
	if policy.MaxBacklog == 0 {
		policy.MaxBacklog = 1000
	}
	e.builder = NewBatchBuilder(e.store, policy, e.events)
	e.submitter = NewBatchSubmitter(e.store, e.ledger, e.wallet, e.jettons, e.events, 100)
	e.reconciler = NewLedgerReconciler(e.store, e.ledger, e.wallet.Address, e.jettons, e.events, 3, false)
	e.service = NewWithdrawalService(e.store, e.jettons, e.events)
	return e
}

func (e *engine) enqueueNative(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		id, err := e.service.Enqueue(context.Background(), testAddress(byte(0x60+i%16)).String(), fmt.Sprint(1000+i), models.AssetKindNative, "")
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids[i] = id
	}
	e.requests = append(e.requests, ids...)
	return ids
}

func (e *engine) enqueueJetton(t *testing.T) string {
	t.Helper()
	id, err := e.service.Enqueue(context.Background(), testAddress(0x70).String(), "5000000", models.AssetKindJetton, testJetton)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.requests = append(e.requests, id)
	return id
}

// assertMembership checks that every request referencing a batch is a member
// of an existing, non-superseded batch at a distinct position, and that
// superseded batches own no requests
func (e *engine) assertMembership(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	last, err := e.store.GetSequence(ctx, models.SequenceBatchID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}

	owner := make(map[string]uint64)
	for id := uint64(1); id <= last; id++ {
		b, err := e.store.GetBatch(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("GetBatch(%d): %v", id, err)
		}
		members, err := e.store.ListBatchMembers(ctx, id)
		if err != nil {
			t.Fatalf("ListBatchMembers(%d): %v", id, err)
		}
		if b.Superseded && len(members) != 0 {
			t.Fatalf("superseded batch %d still owns %d requests", id, len(members))
		}
		for i, m := range members {
			if m.Position != i {
				t.Fatalf("batch %d member %s at position %d, want %d", id, m.ID, m.Position, i)
			}
			owner[m.ID] = id
		}
	}

	for _, id := range e.requests {
		r, err := e.store.GetRequest(ctx, id)
		if err != nil {
			t.Fatalf("GetRequest(%s): %v", id, err)
		}
		if r.BatchID == nil {
			continue
		}
		if owner[id] != *r.BatchID {
			t.Fatalf("request %s references batch %d which is missing or superseded", id, *r.BatchID)
		}
	}
}

// formOne runs a batching tick that must produce exactly one batch
func (e *engine) formOne(t *testing.T) *models.Batch {
	t.Helper()
	batches, err := e.builder.FormBatches(context.Background())
	if err != nil {
		t.Fatalf("FormBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("FormBatches created %d batches, want 1", len(batches))
	}
	e.assertMembership(t)
	return batches[0]
}

// submit runs a submission tick and checks batch membership afterwards
func (e *engine) submit(t *testing.T) {
	t.Helper()
	if err := e.submitter.SubmitPending(context.Background()); err != nil {
		t.Fatalf("SubmitPending: %v", err)
	}
	e.assertMembership(t)
}

// observe moves the hot wallet cursor to utime
func (e *engine) observe(t *testing.T, utime int64) {
	t.Helper()
	cursor := &models.LedgerCursor{StreamKey: models.StreamHotWallet, LT: uint64(utime), Utime: utime}
	if err := e.store.SaveCursor(context.Background(), cursor); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
}

func (e *engine) batch(t *testing.T, id uint64) *models.Batch {
	t.Helper()
	b, err := e.store.GetBatch(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBatch(%d): %v", id, err)
	}
	return b
}

func (e *engine) status(t *testing.T, requestID string) models.RequestStatus {
	t.Helper()
	view, err := e.service.Status(context.Background(), requestID)
	if err != nil {
		t.Fatalf("Status(%s): %v", requestID, err)
	}
	return view.Status
}

// dispatchBodies splits a transmitted external message into the inbound body
// of the external transaction and the body of the internal transfer to self
func dispatchBodies(t *testing.T, boc []byte) (external, transfer []byte) {
	t.Helper()
	msg, err := cell.FromBOC(boc)
	if err != nil {
		t.Fatalf("FromBOC: %v", err)
	}
	body, err := msg.BeginParse().LoadRef()
	if err != nil {
		t.Fatalf("external body: %v", err)
	}
	bodyCell, err := body.ToCell()
	if err != nil {
		t.Fatalf("external body: %v", err)
	}
	inner, err := body.LoadRef()
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	toSelf, err := inner.LoadRef()
	if err != nil {
		t.Fatalf("message to self: %v", err)
	}
	transferBody, err := toSelf.LoadRef()
	if err != nil {
		t.Fatalf("transfer body: %v", err)
	}
	transferCell, err := transferBody.ToCell()
	if err != nil {
		t.Fatalf("transfer body: %v", err)
	}
	return bodyCell.ToBOC(), transferCell.ToBOC()
}

// chain builds hot wallet transactions with increasing logical time
type chain struct {
	lt    uint64
	utime int64
}

func (c *chain) next(in *types.Message, outs ...types.Message) types.Transaction {
	c.lt += 10
	c.utime++
	return types.Transaction{
		ID:      types.TransactionID{LT: c.lt, Hash: fmt.Sprintf("%064x", c.lt)},
		Utime:   c.utime,
		InMsg:   in,
		OutMsgs: outs,
	}
}

func (e *engine) externalTx(c *chain, body []byte, emitted bool) types.Transaction {
	var outs []types.Message
	if emitted {
		outs = []types.Message{{Destination: e.wallet.Address.String()}}
	}
	return c.next(&types.Message{Body: body}, outs...)
}

func (e *engine) internalTx(c *chain, body []byte, emitted bool) types.Transaction {
	var outs []types.Message
	if emitted {
		outs = []types.Message{{Destination: testAddress(0x60).String()}}
	}
	return c.next(&types.Message{Source: e.wallet.Address.String(), Body: body}, outs...)
}

var errSend = errors.New("connection reset")

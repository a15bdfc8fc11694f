package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/models"
)

var smallBatches = BatchPolicy{MinSize: 1, MaxSize: 50, ForceAfterTicks: 1}

func TestSubmitStampsBeforeTransmitting(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, smallBatches)
	e.enqueueNative(t, 2)
	jettonID := e.enqueueJetton(t)
	b := e.formOne(t)

	var stampedAtSend bool
	e.ledger.onSend = func([]byte) {
		stored, err := e.store.GetBatch(ctx, b.ID)
		stampedAtSend = err == nil && stored.Submitted()
	}
	e.submit(t)
	if !stampedAtSend {
		t.Fatal("identifiers were not persisted before transmission")
	}

	stored := e.batch(t, b.ID)
	if *stored.QueryID != 0 || *stored.QueryCreatedAt != e.ledger.now {
		t.Fatalf("stamped %d/%d, want 0/%d", *stored.QueryID, *stored.QueryCreatedAt, e.ledger.now)
	}
	jetton, _ := e.store.GetRequest(ctx, jettonID)
	if jetton.LegQueryID == nil || *jetton.LegQueryID != 0 {
		t.Fatalf("jetton leg id = %v, want 0", jetton.LegQueryID)
	}
	if e.status(t, jettonID) != models.RequestStatusDispatched {
		t.Fatalf("status = %s, want dispatched", e.status(t, jettonID))
	}
	if e.ledger.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", e.ledger.sentCount())
	}
}

func TestSubmitRetryReproducesPayload(t *testing.T) {
	e := newEngine(t, smallBatches)
	e.enqueueNative(t, 3)
	e.enqueueJetton(t)
	b := e.formOne(t)

	e.ledger.sendErr = errSend
	e.submit(t)
	if !e.batch(t, b.ID).Submitted() {
		t.Fatal("failed transmission lost the identifiers")
	}

	e.ledger.sendErr = nil
	e.ledger.now += 30 // later ledger time must not restamp
	e.submit(t)
	e.submit(t)
	if e.ledger.sentCount() != 2 {
		t.Fatalf("sent %d messages, want 2", e.ledger.sentCount())
	}
	if !bytes.Equal(e.ledger.sent[0], e.ledger.sent[1]) {
		t.Fatal("retry produced a different payload")
	}
	if *e.batch(t, b.ID).QueryCreatedAt != 1_000 {
		t.Fatal("retry changed created_at")
	}
}

func TestSubmitAllocatesDistinctQueryIDs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, BatchPolicy{MinSize: 1, MaxSize: 2, ForceAfterTicks: 1})
	e.enqueueNative(t, 6)
	for i := 0; i < 2; i++ {
		if _, err := e.builder.FormBatches(ctx); err != nil {
			t.Fatalf("FormBatches: %v", err)
		}
		e.assertMembership(t)
	}
	e.submit(t)

	live, _ := e.store.ListLiveBatches(ctx, 10)
	if len(live) != 3 {
		t.Fatalf("%d live batches, want 3", len(live))
	}
	seen := map[uint32]bool{}
	for _, b := range live {
		if !b.Submitted() {
			t.Fatalf("batch %d not stamped", b.ID)
		}
		if seen[*b.QueryID] {
			t.Fatalf("query id %d issued twice", *b.QueryID)
		}
		seen[*b.QueryID] = true
	}
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, smallBatches)
	ids := e.enqueueNative(t, 2)
	b := e.formOne(t)
	e.submit(t)

	// created_at 1000, timeout 60: the window closes once observed time passes 1060
	e.observe(t, 1_060)
	e.submit(t)
	if e.batch(t, b.ID).Superseded {
		t.Fatal("batch expired exactly at the edge of the window")
	}
	if e.ledger.sentCount() != 2 {
		t.Fatalf("sent %d messages, want a retry inside the window", e.ledger.sentCount())
	}

	e.observe(t, 1_061)
	e.submit(t)
	stored := e.batch(t, b.ID)
	if !stored.Superseded {
		t.Fatal("batch not superseded past the window")
	}
	if stored.ReviewReason != "" {
		t.Fatalf("undispatched expiry flagged for review: %s", stored.ReviewReason)
	}
	if e.ledger.sentCount() != 2 {
		t.Fatal("expired batch was retransmitted")
	}
	for _, id := range ids {
		if e.status(t, id) != models.RequestStatusPending {
			t.Fatalf("released request %s is %s", id, e.status(t, id))
		}
	}

	// members go back through the builder under a new batch id
	rebuilt := e.formOne(t)
	if rebuilt.ID == b.ID {
		t.Fatal("superseded batch id was reused")
	}
	members, _ := e.store.ListBatchMembers(ctx, rebuilt.ID)
	if len(members) != 2 {
		t.Fatalf("new batch has %d members, want 2", len(members))
	}
	if e.events.count(events.TypeBatchSuperseded) != 1 {
		t.Fatal("no batch.superseded event")
	}
}

func TestExpiryAfterDispatchEscalates(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, smallBatches)
	ids := e.enqueueNative(t, 2)
	b := e.formOne(t)
	e.submit(t)
	if err := e.store.UpdateDispatchOutcome(ctx, b.ID, models.DispatchOutcomeAckNonEmpty, "10:aa"); err != nil {
		t.Fatalf("UpdateDispatchOutcome: %v", err)
	}

	// dispatched batches are never retransmitted
	e.submit(t)
	if e.ledger.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", e.ledger.sentCount())
	}

	e.observe(t, 2_000)
	e.submit(t)
	stored := e.batch(t, b.ID)
	if !stored.Superseded || stored.ReviewReason != models.ReviewReasonExpiredAfterDispatch {
		t.Fatalf("batch = superseded %v review %q", stored.Superseded, stored.ReviewReason)
	}
	if stored.DispatchOutcome != models.DispatchOutcomeAckNonEmpty || stored.DispatchTx != "10:aa" {
		t.Fatalf("dispatch record lost: %s %q", stored.DispatchOutcome, stored.DispatchTx)
	}
	for _, id := range ids {
		r, _ := e.store.GetRequest(ctx, id)
		if r.BatchID != nil {
			t.Fatalf("request %s still references batch %d", id, *r.BatchID)
		}
	}
	if e.events.alerts(events.AlertExpiredAfterDispatch) != 1 {
		t.Fatal("no expired_after_dispatch alert")
	}
}

func TestExpiryUsesStoredOutcome(t *testing.T) {
	observed := int64(5_000)

	t.Run("settled after the snapshot", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t, smallBatches)
		ids := e.enqueueNative(t, 1)
		b := e.formOne(t)
		e.submit(t)
		snapshot := e.batch(t, b.ID)

		if err := e.store.UpdateDispatchOutcome(ctx, b.ID, models.DispatchOutcomeAckNonEmpty, "10:aa"); err != nil {
			t.Fatalf("UpdateDispatchOutcome: %v", err)
		}
		if err := e.store.UpdateMemberOutcome(ctx, b.ID, models.MemberOutcomeSent, "20:bb"); err != nil {
			t.Fatalf("UpdateMemberOutcome: %v", err)
		}

		result, err := e.submitter.Submit(ctx, snapshot, 0, &observed)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if result != SubmitSkipped {
			t.Fatalf("result = %s, want %s", result, SubmitSkipped)
		}
		e.assertMembership(t)

		stored := e.batch(t, b.ID)
		if stored.Superseded || stored.MemberOutcome != models.MemberOutcomeSent {
			t.Fatalf("settled batch changed: superseded %v member %s", stored.Superseded, stored.MemberOutcome)
		}
		if e.status(t, ids[0]) != models.RequestStatusSucceeded {
			t.Fatalf("status = %s, want succeeded", e.status(t, ids[0]))
		}
		if e.events.count(events.TypeBatchSuperseded) != 0 {
			t.Fatal("batch.superseded published for a settled batch")
		}
	})

	t.Run("dispatched after the snapshot", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t, smallBatches)
		e.enqueueNative(t, 1)
		b := e.formOne(t)
		e.submit(t)
		snapshot := e.batch(t, b.ID)

		if err := e.store.UpdateDispatchOutcome(ctx, b.ID, models.DispatchOutcomeAckNonEmpty, "10:aa"); err != nil {
			t.Fatalf("UpdateDispatchOutcome: %v", err)
		}

		result, err := e.submitter.Submit(ctx, snapshot, 0, &observed)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if result != SubmitSuperseded {
			t.Fatalf("result = %s, want %s", result, SubmitSuperseded)
		}
		e.assertMembership(t)

		if reason := e.batch(t, b.ID).ReviewReason; reason != models.ReviewReasonExpiredAfterDispatch {
			t.Fatalf("review reason = %q", reason)
		}
		if e.events.alerts(events.AlertExpiredAfterDispatch) != 1 {
			t.Fatal("no expired_after_dispatch alert")
		}
	})
}

func TestUnbuildablePayloadHoldsBatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, smallBatches)
	e.enqueueNative(t, 1)
	jettonID := e.enqueueJetton(t)
	b := e.formOne(t)

	route := e.jettons[testJetton]
	delete(e.jettons, testJetton)
	e.submit(t)

	stored := e.batch(t, b.ID)
	if !stored.Submitted() || !stored.Held() {
		t.Fatalf("batch = submitted %v review %q, want held", stored.Submitted(), stored.ReviewReason)
	}
	if e.ledger.sentCount() != 0 {
		t.Fatal("unbuildable batch was transmitted")
	}
	if e.events.alerts(events.AlertPayloadInvalid) != 1 {
		t.Fatal("no payload_invalid alert")
	}
	if e.status(t, jettonID) != models.RequestStatusFailed {
		t.Fatalf("status = %s, want %s", e.status(t, jettonID), models.RequestStatusFailed)
	}

	// held batches neither retry nor expire
	e.observe(t, 5_000)
	e.submit(t)
	if e.batch(t, b.ID).Superseded || e.ledger.sentCount() != 0 {
		t.Fatal("held batch was expired or retransmitted")
	}
	if e.events.alerts(events.AlertPayloadInvalid) != 1 {
		t.Fatal("held batch raised another alert")
	}

	// once the route is back and the hold acknowledged, transmission resumes
	e.jettons[testJetton] = route
	if err := e.service.AcknowledgeBatch(ctx, b.ID); err != nil {
		t.Fatalf("AcknowledgeBatch: %v", err)
	}
	result, err := e.submitter.Submit(ctx, e.batch(t, b.ID), 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result != SubmitOK || e.ledger.sentCount() != 1 {
		t.Fatalf("result = %s, sent %d", result, e.ledger.sentCount())
	}
}

func TestSubmitWithoutLedgerTimeFails(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, smallBatches)
	e.enqueueNative(t, 1)
	b := e.formOne(t)
	e.ledger.now = 0

	if err := e.submitter.SubmitPending(ctx); err == nil {
		t.Fatal("submission without ledger time succeeded")
	}
	e.assertMembership(t)
	if e.batch(t, b.ID).Submitted() {
		t.Fatal("batch stamped without ledger time")
	}
	if e.ledger.sentCount() != 0 {
		t.Fatal("message sent without ledger time")
	}
}

func TestExpired(t *testing.T) {
	e := newEngine(t, smallBatches)
	q, created := uint32(5), int64(1_000)
	stamped := &models.Batch{QueryID: &q, QueryCreatedAt: &created}
	at := func(v int64) *int64 { return &v }

	tests := []struct {
		name     string
		batch    *models.Batch
		observed *int64
		want     bool
	}{
		{"unstamped", &models.Batch{}, at(5_000), false},
		{"nothing observed", stamped, nil, false},
		{"inside window", stamped, at(1_030), false},
		{"edge", stamped, at(1_060), false},
		{"past edge", stamped, at(1_061), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.submitter.Expired(tt.batch, tt.observed); got != tt.want {
				t.Fatalf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeldBatchStatus(t *testing.T) {
	q, created := uint32(1), int64(1_000)
	held := &models.Batch{QueryID: &q, QueryCreatedAt: &created, DispatchOutcome: models.DispatchOutcomePending,
		MemberOutcome: models.MemberOutcomeUnknown, ReviewReason: models.ReviewReasonPayloadInvalid}
	request := &models.WithdrawalRequest{AssetKind: models.AssetKindNative, Amount: "1"}
	if got := DeriveStatus(request, held); got != models.RequestStatusFailed {
		t.Fatalf("DeriveStatus = %s, want %s", got, models.RequestStatusFailed)
	}
}

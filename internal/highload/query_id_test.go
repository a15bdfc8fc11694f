package highload

import (
	"context"
	"testing"

	"github.com/toncenter/examples/internal/repository"
)

func TestQueryIDWireForm(t *testing.T) {
	tests := []struct {
		name  string
		id    QueryID
		value uint32
	}{
		{"zero", QueryID{}, 0},
		{"bit only", QueryID{BitNumber: 5}, 5},
		{"shift only", QueryID{Shift: 1}, 1024},
		{"last issued", QueryID{Shift: MaxShift, BitNumber: MaxBitNumber - 1}, 8191<<10 | 1021},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Uint(); got != tt.value {
				t.Fatalf("Uint() = %d, want %d", got, tt.value)
			}
			back, err := FromUint(tt.value)
			if err != nil {
				t.Fatalf("FromUint(%d): %v", tt.value, err)
			}
			if back != tt.id {
				t.Fatalf("FromUint(%d) = %v, want %v", tt.value, back, tt.id)
			}
		})
	}
}

func TestFromUintRejectsOutOfRange(t *testing.T) {
	for _, v := range []uint32{1 << 23, 1023, 5<<10 | 1023} {
		if _, err := FromUint(v); err == nil {
			t.Errorf("FromUint(%d) succeeded, want error", v)
		}
	}
}

func TestQueryIDNext(t *testing.T) {
	tests := []struct {
		name    string
		id      QueryID
		next    QueryID
		hasNext bool
	}{
		{"within shift", QueryID{Shift: 3, BitNumber: 7}, QueryID{Shift: 3, BitNumber: 8}, true},
		{"shift carry", QueryID{Shift: 3, BitNumber: MaxBitNumber}, QueryID{Shift: 4}, true},
		{"before last", QueryID{Shift: MaxShift, BitNumber: MaxBitNumber - 2}, QueryID{Shift: MaxShift, BitNumber: MaxBitNumber - 1}, true},
		{"last wraps", QueryID{Shift: MaxShift, BitNumber: MaxBitNumber - 1}, QueryID{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.HasNext(); got != tt.hasNext {
				t.Fatalf("HasNext() = %v, want %v", got, tt.hasNext)
			}
			if got := tt.id.Next(); got != tt.next {
				t.Fatalf("Next() = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestAllocatePersistsSuccessor(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	for i := 0; i < 3; i++ {
		id, err := Allocate(ctx, store, "q")
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id.Uint() != uint32(i) {
			t.Fatalf("allocation %d returned %v", i, id)
		}
	}
	stored, err := store.GetSequence(ctx, "q")
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if stored != 3 {
		t.Fatalf("stored successor = %d, want 3", stored)
	}
}

func TestAllocateWrapsAtEndOfSpace(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	last := QueryID{Shift: MaxShift, BitNumber: MaxBitNumber - 1}
	if err := store.SetSequence(ctx, "q", uint64(last.Uint())); err != nil {
		t.Fatalf("SetSequence: %v", err)
	}

	id, err := Allocate(ctx, store, "q")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != last {
		t.Fatalf("Allocate = %v, want %v", id, last)
	}
	id, err = Allocate(ctx, store, "q")
	if err != nil {
		t.Fatalf("Allocate after wrap: %v", err)
	}
	if id != (QueryID{}) {
		t.Fatalf("Allocate after wrap = %v, want 0:0", id)
	}
}

func TestAllocateRejectsCorruptSequence(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	if err := store.SetSequence(ctx, "q", 1023); err != nil {
		t.Fatalf("SetSequence: %v", err)
	}
	if _, err := Allocate(ctx, store, "q"); err == nil {
		t.Fatal("Allocate succeeded on a bit number of 1023")
	}
}

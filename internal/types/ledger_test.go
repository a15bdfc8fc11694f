package types

import "testing"

func TestTransactionIDRoundTrip(t *testing.T) {
	id := TransactionID{LT: 47000000000001, Hash: "q1w2e3=="}
	parsed, err := ParseTransactionID(id.String())
	if err != nil {
		t.Fatalf("ParseTransactionID: %v", err)
	}
	if parsed != id {
		t.Fatalf("parsed = %+v", parsed)
	}

	for _, bad := range []string{"", "123", "abc:hash"} {
		if _, err := ParseTransactionID(bad); err == nil {
			t.Errorf("ParseTransactionID(%q) succeeded", bad)
		}
	}
}

func TestIsExternal(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
		want bool
	}{
		{"no inbound", Transaction{}, false},
		{"external", Transaction{InMsg: &Message{}}, true},
		{"internal", Transaction{InMsg: &Message{Source: "EQsender"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tx.IsExternal(); got != tt.want {
				t.Fatalf("IsExternal = %v, want %v", got, tt.want)
			}
		})
	}
}

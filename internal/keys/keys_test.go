package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func TestFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{3}, ed25519.SeedSize)
	kp, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if !bytes.Equal(kp.Seed(), seed) {
		t.Fatal("seed not preserved")
	}
	msg := []byte("batch")
	if !ed25519.Verify(kp.PublicKey(), msg, kp.Sign(msg)) {
		t.Fatal("signature does not verify")
	}

	if _, err := FromSeed(seed[:16]); err == nil {
		t.Fatal("short seed accepted")
	}
}

func TestFromEncodedSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{9}, ed25519.SeedSize)
	want, _ := FromSeed(seed)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"base64", base64.StdEncoding.EncodeToString(seed), false},
		{"hex", hex.EncodeToString(seed), false},
		{"padded", "  " + hex.EncodeToString(seed) + "\n", false},
		{"garbage", "not a seed", true},
		{"short hex", hex.EncodeToString(seed[:8]), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := FromEncodedSeed(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEncodedSeed: %v", err)
			}
			if !kp.PublicKey().Equal(want.PublicKey()) {
				t.Fatal("decoded to another key")
			}
		})
	}
}

func TestFromMnemonic(t *testing.T) {
	words := strings.Repeat("abandon ", 24)
	first, err := FromMnemonic(words)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	second, err := FromMnemonic("  " + words)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	if !first.PublicKey().Equal(second.PublicKey()) {
		t.Fatal("whitespace changed the derived key")
	}

	if _, err := FromMnemonic(strings.Repeat("abandon ", 12)); err == nil {
		t.Fatal("12-word mnemonic accepted")
	}
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.PublicKey().Equal(b.PublicKey()) {
		t.Fatal("two generated keys are equal")
	}
}

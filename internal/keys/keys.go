// Package keys holds the hot wallet signing key
package keys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	mnemonicSalt       = "TON default seed"
	mnemonicIterations = 100000
)

// KeyPair ed25519 key of the hot wallet
type KeyPair struct {
	private ed25519.PrivateKey
}

// Sign signs message with the private key
func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// PublicKey returns the public half of the key
func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Seed returns the 32-byte seed the key was derived from
func (k *KeyPair) Seed() []byte {
	return k.private.Seed()
}

// FromSeed builds a key pair from a 32-byte seed
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeyPair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// FromEncodedSeed accepts a seed in base64 or hex
func FromEncodedSeed(s string) (*KeyPair, error) {
	s = strings.TrimSpace(s)
	if seed, err := base64.StdEncoding.DecodeString(s); err == nil && len(seed) == ed25519.SeedSize {
		return FromSeed(seed)
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.New("seed is neither base64 nor hex")
	}
	return FromSeed(seed)
}

// FromMnemonic derives the key from a 24-word TON mnemonic without password
func FromMnemonic(mnemonic string) (*KeyPair, error) {
	words := strings.Fields(mnemonic)
	if len(words) != 24 {
		return nil, fmt.Errorf("mnemonic must have 24 words, got %d", len(words))
	}
	mac := hmac.New(sha512.New, []byte(strings.Join(words, " ")))
	entropy := mac.Sum(nil)
	seed := pbkdf2.Key(entropy, []byte(mnemonicSalt), mnemonicIterations, 64, sha512.New)
	return FromSeed(seed[:ed25519.SeedSize])
}

// Generate creates a new random key
func Generate() (*KeyPair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to read random seed: %w", err)
	}
	return FromSeed(seed)
}

// Copyright 2025 Certen Protocol

package chainengine

import (
	"testing"
	"time"

	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

func TestCanonicalPreimageIsDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := CanonicalPreimage(1, ts, "prevhash", "payload", "pubkey")
	b := CanonicalPreimage(1, ts, "prevhash", "payload", "pubkey")
	if string(a) != string(b) {
		t.Fatal("CanonicalPreimage is not deterministic for identical inputs")
	}
}

func TestCanonicalPreimageChangesWithAnyField(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := CanonicalPreimage(1, ts, "prevhash", "payload", "pubkey")

	variants := [][]byte{
		CanonicalPreimage(2, ts, "prevhash", "payload", "pubkey"),
		CanonicalPreimage(1, ts.Add(time.Second), "prevhash", "payload", "pubkey"),
		CanonicalPreimage(1, ts, "otherhash", "payload", "pubkey"),
		CanonicalPreimage(1, ts, "prevhash", "otherpayload", "pubkey"),
		CanonicalPreimage(1, ts, "prevhash", "payload", "otherpubkey"),
	}
	for i, v := range variants {
		if string(v) == string(base) {
			t.Fatalf("variant %d did not change the pre-image", i)
		}
	}
}

func TestGenesisPreviousHashIsSHA3Width(t *testing.T) {
	if len(GenesisPreviousHash) != len(primitives.HashHex([]byte("anything"))) {
		t.Fatalf("genesis previous hash width %d does not match SHA3-256 hex width", len(GenesisPreviousHash))
	}
}

func TestSignVerifyOverCanonicalPreimage(t *testing.T) {
	kp, err := primitives.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	pubHex, err := primitives.PublicKeyHex(kp.Public)
	if err != nil {
		t.Fatalf("PublicKeyHex: %v", err)
	}

	ts := time.Now().UTC()
	preimage := CanonicalPreimage(0, ts, GenesisPreviousHash, "hello", pubHex)
	sig := primitives.Sign(kp.Private, preimage)

	if !primitives.Verify(kp.Public, preimage, sig) {
		t.Fatal("expected signature over canonical pre-image to verify")
	}

	tampered := CanonicalPreimage(0, ts, GenesisPreviousHash, "hello!", pubHex)
	if primitives.Verify(kp.Public, tampered, sig) {
		t.Fatal("expected signature to fail against a tampered pre-image")
	}
}

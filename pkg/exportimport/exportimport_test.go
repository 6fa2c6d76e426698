// Copyright 2025 Certen Protocol

package exportimport

import (
	"testing"
	"time"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/chainengine"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

func TestValidateDestPathRejectsNonJSONExtension(t *testing.T) {
	if err := validateDestPath("/tmp/snapshot.txt"); err != apperrors.ErrInvalidExtension {
		t.Fatalf("expected ErrInvalidExtension, got %v", err)
	}
}

func TestValidateDestPathRejectsTraversal(t *testing.T) {
	if err := validateDestPath("../../etc/passwd.json"); err != apperrors.ErrPathTraversal {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestValidateDestPathAcceptsWellFormedPath(t *testing.T) {
	if err := validateDestPath("/tmp/exports/chain-snapshot.json"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func buildSnapshotBlock(t *testing.T, kp *primitives.SigningKeyPair, blockNumber uint64, previousHash, data string, ts time.Time) blockSnapshot {
	t.Helper()
	pubHex, err := primitives.PublicKeyHex(kp.Public)
	if err != nil {
		t.Fatalf("PublicKeyHex: %v", err)
	}
	preimage := chainengine.CanonicalPreimage(blockNumber, ts, previousHash, data, pubHex)
	return blockSnapshot{
		BlockNumber:     blockNumber,
		Timestamp:       ts,
		PreviousHash:    previousHash,
		Data:            data,
		SignerPublicKey: pubHex,
		Signature:       primitives.Sign(kp.Private, preimage),
		Hash:            primitives.HashHex(preimage),
	}
}

func TestVerifyBlockSnapshotAcceptsWellFormedBlock(t *testing.T) {
	kp, err := primitives.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}

	b := buildSnapshotBlock(t, kp, 0, chainengine.GenesisPreviousHash, "hello", time.Now().UTC())
	if err := verifyBlockSnapshot(b); err != nil {
		t.Fatalf("expected snapshot to verify, got %v", err)
	}
}

func TestVerifyBlockSnapshotDetectsHashTampering(t *testing.T) {
	kp, err := primitives.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}

	b := buildSnapshotBlock(t, kp, 0, chainengine.GenesisPreviousHash, "hello", time.Now().UTC())
	b.Data = "tampered"

	err = verifyBlockSnapshot(b)
	integrityErr, ok := err.(*apperrors.ImportIntegrityError)
	if !ok || integrityErr.Reason != "hash_mismatch" {
		t.Fatalf("expected hash_mismatch ImportIntegrityError, got %v", err)
	}
}

func TestVerifyBlockSnapshotDetectsSignatureTampering(t *testing.T) {
	kp, err := primitives.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}

	b := buildSnapshotBlock(t, kp, 0, chainengine.GenesisPreviousHash, "hello", time.Now().UTC())
	b.Signature[0] ^= 0xFF

	err = verifyBlockSnapshot(b)
	integrityErr, ok := err.(*apperrors.ImportIntegrityError)
	if !ok || integrityErr.Reason != "signature_mismatch" {
		t.Fatalf("expected signature_mismatch ImportIntegrityError, got %v", err)
	}
}

// Copyright 2025 Certen Protocol
//
// End-to-end scenario tests driving the façade against a live PostgreSQL
// database - the S1-S4 acceptance scenarios. Skipped entirely if
// LEDGER_TEST_DATABASE_URL is unset, the same gating repository_block_test.go
// uses. Each test opens its own Ledger against a truncated chain so
// scenarios never interfere with each other.

package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
	"github.com/certen/private-ledger/pkg/rbac"
)

func newScenarioLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not configured")
	}

	cfg := &config.Config{
		DatabaseURL:               dsn,
		DatabaseMaxConns:          5,
		DatabaseMinConns:          1,
		BMEKKeyPath:               filepath.Join(t.TempDir(), "bmek.key"),
		KeyStoreDir:               t.TempDir(),
		GenesisDir:                t.TempDir(),
		OffChainDir:               t.TempDir(),
		MaxPayloadBytes:           50 * 1024 * 1024,
		MaxOwnerNameLen:           256,
		OffChainThresholdBytes:    512 * 1024,
		ValidationEagerWarnBlocks: 100_000,
		ValidationEagerMaxBlocks:  500_000,
		ValidationStreamBatchSize: 1000,
		LockWaitTimeout:           30 * time.Second,
	}

	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	if _, err := l.db.ExecContext(ctx, `TRUNCATE blocks, authorized_keys`); err != nil {
		t.Fatalf("truncate chain tables: %v", err)
	}
	if _, err := l.db.ExecContext(ctx, `UPDATE block_sequence SET next_block_number = 0 WHERE id = 1`); err != nil {
		t.Fatalf("reset block sequence: %v", err)
	}

	return l
}

func mustMarshalPub(t *testing.T, kp *primitives.SigningKeyPair) []byte {
	t.Helper()
	raw, err := primitives.MarshalPublicKey(kp.Public)
	if err != nil {
		t.Fatalf("MarshalPublicKey: %v", err)
	}
	return raw
}

func mustKeyPair(t *testing.T) *primitives.SigningKeyPair {
	t.Helper()
	kp, err := primitives.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	return kp
}

// S1 - bootstrap & first block.
func TestScenarioS1BootstrapAndFirstBlock(t *testing.T) {
	l := newScenarioLedger(t)
	ctx := context.Background()
	admin := mustKeyPair(t)

	if err := l.CreateBootstrapAdmin(ctx, mustMarshalPub(t, admin), "admin"); err != nil {
		t.Fatalf("CreateBootstrapAdmin: %v", err)
	}

	genesis, err := l.GetBlock(ctx, 0)
	if err != nil {
		t.Fatalf("GetBlock(0): %v", err)
	}

	block, err := l.Append(ctx, admin, []byte("hello"), AppendOptions{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if block.BlockNumber != 1 {
		t.Fatalf("expected block number 1, got %d", block.BlockNumber)
	}
	if block.PreviousHash != genesis.Hash {
		t.Fatalf("expected previous hash %q (genesis), got %q", genesis.Hash, block.PreviousHash)
	}

	report, err := l.ValidateEager(ctx)
	if err != nil {
		t.Fatalf("ValidateEager: %v", err)
	}
	if report.InvalidBlockCount != 0 {
		t.Fatalf("expected a fully valid chain, got invalid blocks: %+v", report.InvalidBlocks)
	}
}

// S2 - RBAC denial.
func TestScenarioS2RBACDenial(t *testing.T) {
	l := newScenarioLedger(t)
	ctx := context.Background()
	a, b, c := mustKeyPair(t), mustKeyPair(t), mustKeyPair(t)

	if err := l.CreateBootstrapAdmin(ctx, mustMarshalPub(t, a), "a"); err != nil {
		t.Fatalf("CreateBootstrapAdmin: %v", err)
	}
	if err := l.CreateUser(ctx, a, mustMarshalPub(t, b), "b", rbac.User); err != nil {
		t.Fatalf("CreateUser(b): %v", err)
	}

	err := l.CreateUser(ctx, b, mustMarshalPub(t, c), "c", rbac.User)
	if err == nil {
		t.Fatal("expected B (USER) to be denied creating C")
	}
	var permErr *apperrors.PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected *apperrors.PermissionError, got %T (%v)", err, err)
	}
	if permErr.CallerRole != string(rbac.User) || permErr.TargetRole != string(rbac.User) || permErr.Op != rbac.OpCreateUser {
		t.Fatalf("unexpected permission error context: %+v", permErr)
	}
}

// S3 - last-super-admin protection.
func TestScenarioS3LastSuperAdminProtection(t *testing.T) {
	l := newScenarioLedger(t)
	ctx := context.Background()
	a, aPrime := mustKeyPair(t), mustKeyPair(t)

	if err := l.CreateBootstrapAdmin(ctx, mustMarshalPub(t, a), "a"); err != nil {
		t.Fatalf("CreateBootstrapAdmin: %v", err)
	}
	if err := l.CreateUser(ctx, a, mustMarshalPub(t, aPrime), "a-prime", rbac.SuperAdmin); err != nil {
		t.Fatalf("CreateUser(a-prime): %v", err)
	}

	aPubHex, err := primitives.PublicKeyHex(a.Public)
	if err != nil {
		t.Fatalf("PublicKeyHex: %v", err)
	}
	aPrimePubHex, err := primitives.PublicKeyHex(aPrime.Public)
	if err != nil {
		t.Fatalf("PublicKeyHex: %v", err)
	}

	if err := l.RevokeUser(ctx, aPrime, aPubHex); err != nil {
		t.Fatalf("expected revoking A to succeed: %v", err)
	}

	err = l.RevokeUser(ctx, aPrime, aPrimePubHex)
	if err == nil {
		t.Fatal("expected revoking the last SUPER_ADMIN to fail")
	}
	if !errors.Is(err, apperrors.ErrLastSuperAdmin) {
		t.Fatalf("expected ErrLastSuperAdmin, got %v", err)
	}
}

// S4 - retroactive encryption preserves hash.
func TestScenarioS4RetroactiveEncryptionPreservesHash(t *testing.T) {
	l := newScenarioLedger(t)
	ctx := context.Background()
	admin := mustKeyPair(t)

	if err := l.CreateBootstrapAdmin(ctx, mustMarshalPub(t, admin), "admin"); err != nil {
		t.Fatalf("CreateBootstrapAdmin: %v", err)
	}

	block, err := l.Append(ctx, admin, []byte("secret"), AppendOptions{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	hashBefore := block.Hash

	if err := l.EncryptExistingBlock(ctx, admin, block.BlockNumber); err != nil {
		t.Fatalf("EncryptExistingBlock: %v", err)
	}

	got, err := l.GetBlock(ctx, block.BlockNumber)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.Data != "secret" {
		t.Fatalf("expected data to remain %q, got %q", "secret", got.Data)
	}
	if !got.IsEncrypted {
		t.Fatal("expected block to be marked encrypted")
	}
	if got.EncryptionMetadata == nil {
		t.Fatal("expected encryption metadata to be set")
	}
	if got.Hash != hashBefore {
		t.Fatalf("expected hash to be preserved: before %q, after %q", hashBefore, got.Hash)
	}

	report, err := l.ValidateEager(ctx)
	if err != nil {
		t.Fatalf("ValidateEager: %v", err)
	}
	if report.InvalidBlockCount != 0 {
		t.Fatalf("expected the chain to revalidate fully, got invalid blocks: %+v", report.InvalidBlocks)
	}
}

// Copyright 2025 Certen Protocol
//
// Integration tests for BlockRepository. Requires a live PostgreSQL
// database with migrations applied; skipped entirely if LEDGER_TEST_DATABASE_URL
// is not set.

package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/certen/private-ledger/pkg/config"
)

var testClient *Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		os.Exit(0)
	}

	var err error
	testClient, err = NewClient(&config.Config{DatabaseURL: dsn, DatabaseMaxConns: 5, DatabaseMinConns: 1})
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := testClient.MigrateUp(context.Background()); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func mustInsertBlock(t *testing.T, repo *BlockRepository, number uint64, offChainRef *string) *BlockRow {
	t.Helper()
	row := &BlockRow{
		BlockNumber:       number,
		Timestamp:         time.Now().UTC(),
		PreviousHash:      "deadbeef",
		Data:              `{"amount":1}`,
		SignerPublicKey:   "signer-hex",
		Signature:         []byte("sig-bytes"),
		Hash:              "hash-" + time.Now().UTC().String(),
		IsEncrypted:       false,
		OffChainReference: offChainRef,
	}
	if err := repo.Insert(context.Background(), row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return row
}

func TestBlockRepositoryInsertAndGetByNumber(t *testing.T) {
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not configured")
	}
	repo := NewBlockRepository(testClient)
	ctx := context.Background()

	inserted := mustInsertBlock(t, repo, 1, nil)
	defer testClient.ExecContext(ctx, `DELETE FROM blocks WHERE block_number = $1`, inserted.BlockNumber)

	got, err := repo.GetByNumber(ctx, inserted.BlockNumber)
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if got.Hash != inserted.Hash {
		t.Errorf("hash mismatch: got %q, want %q", got.Hash, inserted.Hash)
	}
}

func TestBlockRepositoryUpdateKeywords(t *testing.T) {
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not configured")
	}
	repo := NewBlockRepository(testClient)
	ctx := context.Background()

	inserted := mustInsertBlock(t, repo, 2, nil)
	defer testClient.ExecContext(ctx, `DELETE FROM blocks WHERE block_number = $1`, inserted.BlockNumber)

	manual := "invoice,march"
	if err := repo.UpdateKeywords(ctx, inserted.BlockNumber, &manual, nil); err != nil {
		t.Fatalf("UpdateKeywords: %v", err)
	}

	got, err := repo.GetByNumber(ctx, inserted.BlockNumber)
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if got.ManualKeywords == nil || *got.ManualKeywords != manual {
		t.Errorf("expected manual keywords %q, got %v", manual, got.ManualKeywords)
	}
}

func TestBlockRepositoryUpdateKeywordsOnMissingBlockReturnsNotFound(t *testing.T) {
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not configured")
	}
	repo := NewBlockRepository(testClient)

	manual := "x"
	err := repo.UpdateKeywords(context.Background(), 9_999_999, &manual, nil)
	if err != ErrBlockNotFound {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestBlockRepositoryListOffChainReferences(t *testing.T) {
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not configured")
	}
	repo := NewBlockRepository(testClient)
	ctx := context.Background()

	ref := "content-hash-abc"
	inserted := mustInsertBlock(t, repo, 3, &ref)
	defer testClient.ExecContext(ctx, `DELETE FROM blocks WHERE block_number = $1`, inserted.BlockNumber)

	refs, err := repo.ListOffChainReferences(ctx)
	if err != nil {
		t.Fatalf("ListOffChainReferences: %v", err)
	}
	if !refs[ref] {
		t.Errorf("expected %q to be listed as referenced", ref)
	}
}

// Copyright 2025 Certen Protocol
//
// Block Repository - CRUD operations for ledger blocks.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// BlockRepository handles block persistence.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository creates a new block repository.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// Insert persists a new block row. Callers are expected to have already
// assigned block_sequence's next value and hold the write lock.
func (r *BlockRepository) Insert(ctx context.Context, row *BlockRow) error {
	query := `
		INSERT INTO blocks (
			block_number, "timestamp", previous_hash, data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, off_chain_reference,
			manual_keywords, auto_keywords
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.client.ExecContext(ctx, query,
		row.BlockNumber, row.Timestamp, row.PreviousHash, row.Data, row.SignerPublicKey,
		row.Signature, row.Hash, row.IsEncrypted, row.EncryptionMetadata, row.OffChainReference,
		row.ManualKeywords, row.AutoKeywords,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return nil
}

// InsertInTx is Insert scoped to a caller-managed transaction, so the block
// row lands atomically with its SequenceRepository.NextInTx reservation.
func (r *BlockRepository) InsertInTx(ctx context.Context, tx *Tx, row *BlockRow) error {
	query := `
		INSERT INTO blocks (
			block_number, "timestamp", previous_hash, data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, off_chain_reference,
			manual_keywords, auto_keywords
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Tx().ExecContext(ctx, query,
		row.BlockNumber, row.Timestamp, row.PreviousHash, row.Data, row.SignerPublicKey,
		row.Signature, row.Hash, row.IsEncrypted, row.EncryptionMetadata, row.OffChainReference,
		row.ManualKeywords, row.AutoKeywords,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return nil
}

// GetByNumber retrieves a single block by its number.
func (r *BlockRepository) GetByNumber(ctx context.Context, blockNumber uint64) (*BlockRow, error) {
	query := `
		SELECT block_number, "timestamp", previous_hash, data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, off_chain_reference,
			manual_keywords, auto_keywords
		FROM blocks
		WHERE block_number = $1`

	row := &BlockRow{}
	err := r.client.QueryRowContext(ctx, query, blockNumber).Scan(
		&row.BlockNumber, &row.Timestamp, &row.PreviousHash, &row.Data, &row.SignerPublicKey,
		&row.Signature, &row.Hash, &row.IsEncrypted, &row.EncryptionMetadata, &row.OffChainReference,
		&row.ManualKeywords, &row.AutoKeywords,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", blockNumber, err)
	}
	return row, nil
}

// Count returns the total number of persisted blocks.
func (r *BlockRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// Highest returns the block with the largest block_number, or
// ErrBlockNotFound if the chain is empty.
func (r *BlockRepository) Highest(ctx context.Context) (*BlockRow, error) {
	query := `
		SELECT block_number, "timestamp", previous_hash, data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, off_chain_reference,
			manual_keywords, auto_keywords
		FROM blocks
		ORDER BY block_number DESC
		LIMIT 1`

	row := &BlockRow{}
	err := r.client.QueryRowContext(ctx, query).Scan(
		&row.BlockNumber, &row.Timestamp, &row.PreviousHash, &row.Data, &row.SignerPublicKey,
		&row.Signature, &row.Hash, &row.IsEncrypted, &row.EncryptionMetadata, &row.OffChainReference,
		&row.ManualKeywords, &row.AutoKeywords,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get highest block: %w", err)
	}
	return row, nil
}

// IterateRange streams blocks with block_number in [from, to) in ascending
// order, invoking fn for each. Used by ChainValidator's streaming mode so a
// DB cursor is never held open across an entire chain scan.
func (r *BlockRepository) IterateRange(ctx context.Context, from, to uint64, fn func(*BlockRow) error) error {
	query := `
		SELECT block_number, "timestamp", previous_hash, data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, off_chain_reference,
			manual_keywords, auto_keywords
		FROM blocks
		WHERE block_number >= $1 AND block_number < $2
		ORDER BY block_number ASC`

	rows, err := r.client.QueryContext(ctx, query, from, to)
	if err != nil {
		return fmt.Errorf("failed to iterate blocks [%d, %d): %w", from, to, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := &BlockRow{}
		if err := rows.Scan(
			&row.BlockNumber, &row.Timestamp, &row.PreviousHash, &row.Data, &row.SignerPublicKey,
			&row.Signature, &row.Hash, &row.IsEncrypted, &row.EncryptionMetadata, &row.OffChainReference,
			&row.ManualKeywords, &row.AutoKeywords,
		); err != nil {
			return fmt.Errorf("failed to scan block: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpdateEncryption sets encryption_metadata and is_encrypted for an existing
// block. It MUST NOT be used to change any other column - Invariant BL-1
// forbids mutating the hash pre-image after creation.
func (r *BlockRepository) UpdateEncryption(ctx context.Context, blockNumber uint64, metadata string) error {
	query := `UPDATE blocks SET is_encrypted = true, encryption_metadata = $2 WHERE block_number = $1`
	result, err := r.client.ExecContext(ctx, query, blockNumber, metadata)
	if err != nil {
		return fmt.Errorf("failed to update block encryption metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// DeleteGreaterThan removes every block with block_number > toBlockNumber
// in a single statement outside any transaction. Rollback uses
// DeleteGreaterThanInTx instead.
func (r *BlockRepository) DeleteGreaterThan(ctx context.Context, toBlockNumber uint64) (int64, error) {
	query := `DELETE FROM blocks WHERE block_number > $1`
	result, err := r.client.ExecContext(ctx, query, toBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks above %d: %w", toBlockNumber, err)
	}
	return result.RowsAffected()
}

// DeleteGreaterThanInTx is DeleteGreaterThan scoped to a caller-managed
// transaction, so the delete and the sequence-counter rewind commit or
// rollback together.
func (r *BlockRepository) DeleteGreaterThanInTx(ctx context.Context, tx *Tx, toBlockNumber uint64) (int64, error) {
	query := `DELETE FROM blocks WHERE block_number > $1`
	result, err := tx.Tx().ExecContext(ctx, query, toBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks above %d: %w", toBlockNumber, err)
	}
	return result.RowsAffected()
}

// UpdateKeywords sets manual_keywords and auto_keywords for an existing
// block. Used by the indexing coordinator's sink; it never touches any
// column covered by Invariant BL-1.
func (r *BlockRepository) UpdateKeywords(ctx context.Context, blockNumber uint64, manual, auto *string) error {
	query := `UPDATE blocks SET manual_keywords = $2, auto_keywords = $3 WHERE block_number = $1`
	result, err := r.client.ExecContext(ctx, query, blockNumber, manual, auto)
	if err != nil {
		return fmt.Errorf("failed to update block keywords: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// ListOffChainReferences returns the content hash of every block that
// references off-chain data. MaintenanceScheduler's orphan sweep diffs this
// against the off-chain directory's contents to find unreferenced files.
func (r *BlockRepository) ListOffChainReferences(ctx context.Context) (map[string]bool, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT off_chain_reference FROM blocks WHERE off_chain_reference IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list off-chain references: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan off-chain reference: %w", err)
		}
		refs[hash] = true
	}
	return refs, rows.Err()
}

// DeleteAll truncates the blocks table outside any transaction.
// ClearAndReinitialize uses DeleteAllInTx instead.
func (r *BlockRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.client.ExecContext(ctx, `DELETE FROM blocks`); err != nil {
		return fmt.Errorf("failed to clear blocks: %w", err)
	}
	return nil
}

// DeleteAllInTx is DeleteAll scoped to a caller-managed transaction.
func (r *BlockRepository) DeleteAllInTx(ctx context.Context, tx *Tx) error {
	if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM blocks`); err != nil {
		return fmt.Errorf("failed to clear blocks: %w", err)
	}
	return nil
}

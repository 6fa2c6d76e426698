// Copyright 2025 Certen Protocol
//
// Sequence Repository - the single-row atomic block-number counter.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SequenceRepository manages the block_sequence single-row counter table.
type SequenceRepository struct {
	client *Client
}

// NewSequenceRepository creates a new sequence repository.
func NewSequenceRepository(client *Client) *SequenceRepository {
	return &SequenceRepository{client: client}
}

// NextInTx atomically increments the counter and returns the block number
// that was just reserved. Must be called within a transaction that also
// inserts the corresponding block row, so a failure rolls back the
// reservation along with the insert.
func (r *SequenceRepository) NextInTx(ctx context.Context, tx *Tx) (uint64, error) {
	var next uint64
	query := `
		UPDATE block_sequence
		SET next_block_number = next_block_number + 1
		WHERE id = 1
		RETURNING next_block_number - 1`

	err := tx.Tx().QueryRowContext(ctx, query).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, ErrSequenceNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reserve next block number: %w", err)
	}
	return next, nil
}

// Peek returns the next block number that would be assigned, without
// reserving it. Used for diagnostics only.
func (r *SequenceRepository) Peek(ctx context.Context) (uint64, error) {
	var next uint64
	err := r.client.QueryRowContext(ctx, `SELECT next_block_number FROM block_sequence WHERE id = 1`).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, ErrSequenceNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("failed to peek block sequence: %w", err)
	}
	return next, nil
}

// ResetInTx sets the counter to the given value. Used by rollback (reset to
// toBlockNumber+1) and by bootstrap/ClearAndReinitialize (reset to 1, since
// block 0 is the synthetic genesis block inserted directly, not reserved
// through this counter).
func (r *SequenceRepository) ResetInTx(ctx context.Context, tx *Tx, value uint64) error {
	result, err := tx.Tx().ExecContext(ctx, `UPDATE block_sequence SET next_block_number = $1 WHERE id = 1`, value)
	if err != nil {
		return fmt.Errorf("failed to reset block sequence: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSequenceNotInitialized
	}
	return nil
}

// Copyright 2025 Certen Protocol
//
// AuthorizedKey Repository - CRUD operations for registered principals.
// RBAC decisions join through this repository; it does not embed policy.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuthorizedKeyRepository handles authorized-key persistence.
type AuthorizedKeyRepository struct {
	client *Client
}

// NewAuthorizedKeyRepository creates a new authorized-key repository.
func NewAuthorizedKeyRepository(client *Client) *AuthorizedKeyRepository {
	return &AuthorizedKeyRepository{client: client}
}

// Insert adds a new authorized key row. publicKey must be unique.
func (r *AuthorizedKeyRepository) Insert(ctx context.Context, row *AuthorizedKeyRow) error {
	query := `
		INSERT INTO authorized_keys (
			public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.client.ExecContext(ctx, query,
		row.PublicKey, row.OwnerName, row.Role, row.IsActive, row.CreatedAt, row.RevokedAt, row.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorized key: %w", err)
	}
	return nil
}

// InsertInTx is Insert scoped to a caller-managed transaction, so creating a
// principal can be combined atomically with the invariant checks (AK-1,
// AK-2) that gate it.
func (r *AuthorizedKeyRepository) InsertInTx(ctx context.Context, tx *Tx, row *AuthorizedKeyRow) error {
	query := `
		INSERT INTO authorized_keys (
			public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Tx().ExecContext(ctx, query,
		row.PublicKey, row.OwnerName, row.Role, row.IsActive, row.CreatedAt, row.RevokedAt, row.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorized key: %w", err)
	}
	return nil
}

// FindByPublicKeyInTx is FindByPublicKey scoped to a caller-managed
// transaction.
func (r *AuthorizedKeyRepository) FindByPublicKeyInTx(ctx context.Context, tx *Tx, publicKey string) (*AuthorizedKeyRow, error) {
	query := `
		SELECT public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		FROM authorized_keys
		WHERE public_key = $1`

	row := &AuthorizedKeyRow{}
	err := tx.Tx().QueryRowContext(ctx, query, publicKey).Scan(
		&row.PublicKey, &row.OwnerName, &row.Role, &row.IsActive, &row.CreatedAt, &row.RevokedAt, &row.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAuthorizedKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find authorized key: %w", err)
	}
	return row, nil
}

// CountActiveWithRoleInTx is CountActiveWithRole scoped to a caller-managed
// transaction. Used to enforce AK-1 (last active SUPER_ADMIN) atomically
// with the revocation that would otherwise violate it.
func (r *AuthorizedKeyRepository) CountActiveWithRoleInTx(ctx context.Context, tx *Tx, role string) (int64, error) {
	query := `SELECT COUNT(*) FROM authorized_keys WHERE is_active = true AND role = $1`

	var count int64
	if err := tx.Tx().QueryRowContext(ctx, query, role).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active authorized keys with role %s: %w", role, err)
	}
	return count, nil
}

// CountAllInTx is CountAll scoped to a caller-managed transaction. Used to
// enforce AK-2 (bootstrap singleton) atomically with the insert it gates.
func (r *AuthorizedKeyRepository) CountAllInTx(ctx context.Context, tx *Tx) (int64, error) {
	query := `SELECT COUNT(*) FROM authorized_keys`

	var count int64
	if err := tx.Tx().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count authorized keys: %w", err)
	}
	return count, nil
}

// DeactivateInTx is Deactivate scoped to a caller-managed transaction.
func (r *AuthorizedKeyRepository) DeactivateInTx(ctx context.Context, tx *Tx, publicKey string, at time.Time) error {
	query := `UPDATE authorized_keys SET is_active = false, revoked_at = $2 WHERE public_key = $1`

	result, err := tx.Tx().ExecContext(ctx, query, publicKey, at)
	if err != nil {
		return fmt.Errorf("failed to deactivate authorized key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAuthorizedKeyNotFound
	}
	return nil
}

// FindByPublicKey looks up a principal by its public key.
func (r *AuthorizedKeyRepository) FindByPublicKey(ctx context.Context, publicKey string) (*AuthorizedKeyRow, error) {
	query := `
		SELECT public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		FROM authorized_keys
		WHERE public_key = $1`

	row := &AuthorizedKeyRow{}
	err := r.client.QueryRowContext(ctx, query, publicKey).Scan(
		&row.PublicKey, &row.OwnerName, &row.Role, &row.IsActive, &row.CreatedAt, &row.RevokedAt, &row.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAuthorizedKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find authorized key: %w", err)
	}
	return row, nil
}

// FindByOwnerName looks up a principal by its human label.
func (r *AuthorizedKeyRepository) FindByOwnerName(ctx context.Context, ownerName string) (*AuthorizedKeyRow, error) {
	query := `
		SELECT public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		FROM authorized_keys
		WHERE owner_name = $1`

	row := &AuthorizedKeyRow{}
	err := r.client.QueryRowContext(ctx, query, ownerName).Scan(
		&row.PublicKey, &row.OwnerName, &row.Role, &row.IsActive, &row.CreatedAt, &row.RevokedAt, &row.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAuthorizedKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find authorized key by owner name: %w", err)
	}
	return row, nil
}

// ListActive returns every currently-active principal.
func (r *AuthorizedKeyRepository) ListActive(ctx context.Context) ([]*AuthorizedKeyRow, error) {
	query := `
		SELECT public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		FROM authorized_keys
		WHERE is_active = true
		ORDER BY created_at ASC`

	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active authorized keys: %w", err)
	}
	defer rows.Close()

	var result []*AuthorizedKeyRow
	for rows.Next() {
		row := &AuthorizedKeyRow{}
		if err := rows.Scan(&row.PublicKey, &row.OwnerName, &row.Role, &row.IsActive, &row.CreatedAt, &row.RevokedAt, &row.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan authorized key: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ListAll returns every principal, active or revoked, ordered by creation
// time. Used by ExportImport, which snapshots the whole authorization
// history rather than just the currently-active set.
func (r *AuthorizedKeyRepository) ListAll(ctx context.Context) ([]*AuthorizedKeyRow, error) {
	query := `
		SELECT public_key, owner_name, role, is_active, created_at, revoked_at, created_by
		FROM authorized_keys
		ORDER BY created_at ASC`

	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized keys: %w", err)
	}
	defer rows.Close()

	var result []*AuthorizedKeyRow
	for rows.Next() {
		row := &AuthorizedKeyRow{}
		if err := rows.Scan(&row.PublicKey, &row.OwnerName, &row.Role, &row.IsActive, &row.CreatedAt, &row.RevokedAt, &row.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan authorized key: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// CountActiveWithRole returns the number of active principals holding role.
func (r *AuthorizedKeyRepository) CountActiveWithRole(ctx context.Context, role string) (int64, error) {
	query := `SELECT COUNT(*) FROM authorized_keys WHERE is_active = true AND role = $1`

	var count int64
	if err := r.client.QueryRowContext(ctx, query, role).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active authorized keys with role %s: %w", role, err)
	}
	return count, nil
}

// CountAll returns the total number of authorized-key rows, active or not.
// Used by the bootstrap invariant (AK-2): bootstrap is only valid when this
// is zero.
func (r *AuthorizedKeyRepository) CountAll(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM authorized_keys`

	var count int64
	if err := r.client.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count authorized keys: %w", err)
	}
	return count, nil
}

// Deactivate marks a principal inactive as of at.
func (r *AuthorizedKeyRepository) Deactivate(ctx context.Context, publicKey string, at time.Time) error {
	query := `UPDATE authorized_keys SET is_active = false, revoked_at = $2 WHERE public_key = $1`

	result, err := r.client.ExecContext(ctx, query, publicKey, at)
	if err != nil {
		return fmt.Errorf("failed to deactivate authorized key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAuthorizedKeyNotFound
	}
	return nil
}

// Delete permanently removes a principal row. Ordinary revocation never
// calls it (revocation deactivates the row instead).
func (r *AuthorizedKeyRepository) Delete(ctx context.Context, publicKey string) error {
	query := `DELETE FROM authorized_keys WHERE public_key = $1`
	if _, err := r.client.ExecContext(ctx, query, publicKey); err != nil {
		return fmt.Errorf("failed to delete authorized key: %w", err)
	}
	return nil
}

// DeleteAll truncates the authorized-keys table outside any transaction.
// ClearAndReinitialize uses DeleteAllInTx instead.
func (r *AuthorizedKeyRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.client.ExecContext(ctx, `DELETE FROM authorized_keys`); err != nil {
		return fmt.Errorf("failed to clear authorized keys: %w", err)
	}
	return nil
}

// DeleteAllInTx is DeleteAll scoped to a caller-managed transaction.
func (r *AuthorizedKeyRepository) DeleteAllInTx(ctx context.Context, tx *Tx) error {
	if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM authorized_keys`); err != nil {
		return fmt.Errorf("failed to clear authorized keys: %w", err)
	}
	return nil
}

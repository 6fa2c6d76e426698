// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations.
// F.4 remediation: Explicit errors instead of nil, nil returns

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrAuthorizedKeyNotFound is returned when a principal is not found
	ErrAuthorizedKeyNotFound = errors.New("authorized key not found")

	// ErrBlockNotFound is returned when a block is not found
	ErrBlockNotFound = errors.New("block not found")

	// ErrSequenceNotInitialized is returned when the block_sequence row is missing
	ErrSequenceNotInitialized = errors.New("block sequence not initialized")
)

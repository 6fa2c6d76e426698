// Copyright 2025 Certen Protocol
//
// Package ledger re-exports the facade-level sentinel errors callers are
// expected to check with errors.Is. The underlying taxonomy lives in
// pkg/apperrors; this file exists so facade consumers only need to import
// one package for the common cases.

package ledger

import "github.com/certen/private-ledger/pkg/apperrors"

var (
	ErrPermissionDenied     = apperrors.ErrPermissionDenied
	ErrBootstrapViolation   = apperrors.ErrBootstrapViolation
	ErrLastSuperAdmin       = apperrors.ErrLastSuperAdmin
	ErrPathTraversal        = apperrors.ErrPathTraversal
	ErrCryptoAuthentication = apperrors.ErrCryptoAuthentication
	ErrTooLarge             = apperrors.ErrTooLarge
	ErrBmekMissing          = apperrors.ErrBmekMissing
	ErrAlreadyExists        = apperrors.ErrAlreadyExists
	ErrBlockNotFound        = apperrors.ErrBlockNotFound
	ErrKeyNotFound          = apperrors.ErrKeyNotFound
)

// Copyright 2025 Certen Protocol

package apperrors

import (
	"errors"
	"testing"
)

func TestNewPermissionDeniedUnwrapsToSentinel(t *testing.T) {
	err := NewPermissionDenied("USER", "ADMIN", "revoke-user")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatal("expected errors.Is(err, ErrPermissionDenied) to hold")
	}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestNewTooLargeUnwrapsToSentinel(t *testing.T) {
	err := NewTooLarge(50 * 1024 * 1024)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatal("expected errors.Is(err, ErrTooLarge) to hold")
	}
}

func TestIntegrityErrorConstructorsCarryKindAndBlockNumber(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"hash", NewHashMismatch(7), "hash_mismatch"},
		{"chain", NewChainBreak(7), "chain_break"},
		{"signature", NewSignatureMismatch(7), "signature_mismatch"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ie, ok := c.err.(*IntegrityError)
			if !ok {
				t.Fatalf("expected *IntegrityError, got %T", c.err)
			}
			if ie.Kind != c.kind {
				t.Errorf("Kind = %q, want %q", ie.Kind, c.kind)
			}
			if ie.BlockNumber != 7 {
				t.Errorf("BlockNumber = %d, want 7", ie.BlockNumber)
			}
		})
	}
}

func TestImportIntegrityErrorMessageIncludesBlockAndReason(t *testing.T) {
	err := &ImportIntegrityError{BlockNumber: 3, Reason: "hash_mismatch"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
}

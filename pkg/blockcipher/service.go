// Copyright 2025 Certen Protocol
//
// Package blockcipher implements the hybrid per-block encryption scheme:
// a random data-encryption key (DEK) encrypts the payload, and the BMEK
// wraps the DEK. The wire format is self-describing and version-prefixed so
// future schemes can be added without breaking existing blocks.

package blockcipher

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

const (
	// VersionBMEK is the current wire-format prefix: DEK wrapped with the
	// organizational blockchain master encryption key.
	VersionBMEK = "BMEK-v1.0"

	// VersionLegacyGCM is the historical wire-format prefix from
	// installations that wrapped the DEK with a user's public key instead
	// of a BMEK. Decrypt must recognize it; this engine never emits it.
	VersionLegacyGCM = "GCM-v1.0"
)

const fieldSeparator = "|"

// Service performs hybrid encryption and decryption of block payloads.
type Service struct{}

// New creates a blockcipher Service.
func New() *Service {
	return &Service{}
}

// Encrypt generates a fresh 256-bit DEK, encrypts plaintext with it, wraps
// the DEK with bmek, and serializes both into the BMEK-v1.0 wire format.
func (s *Service) Encrypt(plaintext, bmek []byte) (string, error) {
	dek, err := primitives.RandomBytes(primitives.AESKeySize)
	if err != nil {
		return "", fmt.Errorf("generate DEK: %w", err)
	}

	dataBlob, err := primitives.EncryptGCM(dek, plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt payload with DEK: %w", err)
	}

	wrappedDEK, err := primitives.EncryptGCM(bmek, dek)
	if err != nil {
		return "", fmt.Errorf("wrap DEK with BMEK: %w", err)
	}

	blob := strings.Join([]string{
		VersionBMEK,
		base64.StdEncoding.EncodeToString(wrappedDEK),
		base64.StdEncoding.EncodeToString(dataBlob),
	}, fieldSeparator)

	return blob, nil
}

// Decrypt parses a self-describing encrypted blob and returns the original
// plaintext. Only the current BMEK-v1.0 format is decrypted. A legacy
// GCM-v1.0 blob is recognized by its prefix but not decrypted: Decrypt
// returns apperrors.ErrUnsupportedAlgorithm for it, as for any unknown
// prefix (ML-DSA-87 is a signature scheme, not a key-encapsulation
// mechanism, so this engine has no public-key unwrap path).
func (s *Service) Decrypt(blob string, bmek []byte) ([]byte, error) {
	parts := strings.Split(blob, fieldSeparator)
	if len(parts) != 3 {
		return nil, apperrors.ErrCryptoAuthentication
	}

	version, wrappedDEKB64, dataB64 := parts[0], parts[1], parts[2]

	switch version {
	case VersionLegacyGCM:
		return nil, apperrors.ErrUnsupportedAlgorithm
	case VersionBMEK:
		// fall through
	default:
		return nil, apperrors.ErrUnsupportedAlgorithm
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(wrappedDEKB64)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}
	dataBlob, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}

	dek, err := primitives.DecryptGCM(bmek, wrappedDEK)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}

	plaintext, err := primitives.DecryptGCM(dek, dataBlob)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}

	return plaintext, nil
}

// IsSupportedVersion reports whether a wire-format version prefix can
// actually be decrypted by this engine.
func IsSupportedVersion(version string) bool {
	return version == VersionBMEK
}

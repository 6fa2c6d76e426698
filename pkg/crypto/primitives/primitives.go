// Copyright 2025 Certen Protocol
//
// Package primitives provides the cryptographic building blocks for the
// ledger engine: ML-DSA-87 signatures, SHA3-256 content hashing, AES-256-GCM
// authenticated encryption, and a PBKDF2-HMAC-SHA512 key derivation function.

package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/certen/private-ledger/pkg/apperrors"
)

const (
	// SchemeName is the NIST FIPS 204 parameter set this engine signs with.
	SchemeName = "ML-DSA-87"

	// AESKeySize is the size in bytes of a BMEK or DEK.
	AESKeySize = 32 // 256 bits

	// GCMNonceSize is the size in bytes of an AES-GCM IV.
	GCMNonceSize = 12 // 96 bits

	// PBKDF2Iterations is the iteration count for password-based key derivation.
	PBKDF2Iterations = 210_000

	// SaltSize is the size in bytes of a PBKDF2 salt.
	SaltSize = 16 // 128 bits
)

var scheme = schemes.ByName(SchemeName)

func init() {
	if scheme == nil {
		panic("primitives: ML-DSA-87 signature scheme is not registered in this build of circl")
	}
}

// SigningKeyPair holds both halves of an ML-DSA-87 key pair. Both halves
// must always be persisted together: the public key cannot be derived from
// the private key alone.
type SigningKeyPair struct {
	Public  sign.PublicKey
	Private sign.PrivateKey
}

// GenerateSigningKeyPair produces a fresh ML-DSA-87 key pair using the
// system CSPRNG.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key pair: %w", err)
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// MarshalPublicKey encodes a public key to its canonical byte form.
func MarshalPublicKey(pub sign.PublicKey) ([]byte, error) {
	return pub.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// MarshalPrivateKey encodes a private key to its canonical byte form.
func MarshalPrivateKey(priv sign.PrivateKey) ([]byte, error) {
	return priv.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// UnmarshalPublicKey decodes a public key from its canonical byte form.
func UnmarshalPublicKey(data []byte) (sign.PublicKey, error) {
	pub, err := scheme.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return pub, nil
}

// UnmarshalPrivateKey decodes a private key from its canonical byte form.
func UnmarshalPrivateKey(data []byte) (sign.PrivateKey, error) {
	priv, err := scheme.UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return priv, nil
}

// PublicKeyHex returns the hex-encoded canonical form of a public key, the
// string form used as AuthorizedKey.publicKey throughout the engine.
func PublicKeyHex(pub sign.PublicKey) (string, error) {
	raw, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// PublicKeyFromHex decodes a hex-encoded public key string back into a
// sign.PublicKey.
func PublicKeyFromHex(s string) (sign.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	return UnmarshalPublicKey(raw)
}

// Sign produces an ML-DSA-87 signature over message using the supplied
// private key.
func Sign(priv sign.PrivateKey, message []byte) []byte {
	return scheme.Sign(priv, message, nil)
}

// Verify checks an ML-DSA-87 signature over message against the supplied
// public key.
func Verify(pub sign.PublicKey, message, signature []byte) bool {
	return scheme.Verify(pub, message, signature, nil)
}

// HashHex returns the lowercase hex-encoded SHA3-256 digest of data.
func HashHex(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the raw SHA3-256 digest of data.
func Hash(data []byte) []byte {
	sum := sha3.Sum256(data)
	return sum[:]
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

// RandomSalt returns a fresh 128-bit PBKDF2 salt.
func RandomSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// RandomIV returns a fresh 96-bit AES-GCM nonce.
func RandomIV() ([]byte, error) {
	return RandomBytes(GCMNonceSize)
}

// DeriveKey derives a 256-bit key from password and salt using
// PBKDF2-HMAC-SHA512 with 210,000 iterations.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, AESKeySize, sha512.New)
}

// EncryptGCM encrypts plaintext under key using AES-256-GCM with a fresh
// random IV. The returned blob is iv || ciphertext || tag.
func EncryptGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	iv, err := RandomIV()
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	return append(iv, sealed...), nil
}

// DecryptGCM decrypts a blob produced by EncryptGCM. Any failure - wrong
// key, truncated blob, or a failed authentication tag check - is collapsed
// into the single ErrCryptoAuthentication sentinel so callers cannot
// distinguish wrong-key from corruption.
func DecryptGCM(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}
	if len(blob) < GCMNonceSize {
		return nil, apperrors.ErrCryptoAuthentication
	}
	iv, ciphertext := blob[:GCMNonceSize], blob[GCMNonceSize:]
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, apperrors.ErrCryptoAuthentication
	}
	return plaintext, nil
}

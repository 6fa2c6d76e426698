// Copyright 2025 Certen Protocol
//
// Package keystore provides encrypted at-rest storage of user ML-DSA-87 key
// pairs. Each owner's key pair lives in its own file, encrypted with
// AES-256-GCM using a PBKDF2-derived key: [16-byte salt][12-byte IV]
// [ciphertext || 16-byte tag].

package keystore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

const fileSuffix = ".keypair"

// KeyStore persists user signing key pairs under a configured directory.
type KeyStore struct {
	dir string
}

// New creates a KeyStore rooted at dir. The directory is created on first
// Save if it does not already exist.
func New(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

func (k *KeyStore) pathFor(owner string) string {
	// Owner names are caller-controlled; hash them into the filename so an
	// owner name can never traverse outside the keystore directory.
	h := primitives.HashHex([]byte(owner))
	return filepath.Join(k.dir, h+fileSuffix)
}

// Save encrypts keyPair with a PBKDF2-derived key from password and writes
// it to owner's file, creating the keystore directory if necessary.
func (k *KeyStore) Save(owner string, pub, priv []byte, password string) error {
	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}

	plaintext := encodeKeyPair(pub, priv)

	salt, err := primitives.RandomSalt()
	if err != nil {
		return err
	}
	key := primitives.DeriveKey(password, salt)

	blob, err := primitives.EncryptGCM(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt key pair: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(blob))
	out = append(out, salt...)
	out = append(out, blob...)

	path := k.pathFor(owner)
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write key pair file: %w", err)
	}
	return nil
}

// Load decrypts and returns owner's key pair (raw public, raw private
// bytes). A wrong password and a corrupted file are indistinguishable -
// both surface as the generic decryption-failed error from primitives.
func (k *KeyStore) Load(owner, password string) (pub, priv []byte, err error) {
	path := k.pathFor(owner)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read key pair file: %w", err)
	}
	if len(raw) < primitives.SaltSize {
		return nil, nil, fmt.Errorf("key pair file is truncated")
	}

	salt, blob := raw[:primitives.SaltSize], raw[primitives.SaltSize:]
	key := primitives.DeriveKey(password, salt)

	plaintext, err := primitives.DecryptGCM(key, blob)
	if err != nil {
		return nil, nil, err
	}

	return decodeKeyPair(plaintext)
}

// Exists reports whether a key pair file for owner is present.
func (k *KeyStore) Exists(owner string) bool {
	_, err := os.Stat(k.pathFor(owner))
	return err == nil
}

// Delete removes owner's key pair file.
func (k *KeyStore) Delete(owner string) error {
	if err := os.Remove(k.pathFor(owner)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key pair file: %w", err)
	}
	return nil
}

// List returns the content-hash identifiers of all stored key pair files.
// The keystore does not retain owner names in plaintext form on disk, so
// List returns the hashed filenames; callers that need the owner name must
// track the owner -> hash mapping themselves (typically via
// AuthorizedKeyRepository, which stores owner names alongside public keys).
func (k *KeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keystore directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func encodeKeyPair(pub, priv []byte) []byte {
	buf := make([]byte, 4+len(pub)+4+len(priv))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(pub)))
	copy(buf[4:4+len(pub)], pub)
	offset := 4 + len(pub)
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(priv)))
	copy(buf[offset+4:], priv)
	return buf
}

func decodeKeyPair(data []byte) (pub, priv []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("key pair payload is truncated")
	}
	pubLen := binary.BigEndian.Uint32(data[0:4])
	if uint32(len(data)) < 4+pubLen+4 {
		return nil, nil, fmt.Errorf("key pair payload is truncated")
	}
	pub = data[4 : 4+pubLen]
	offset := 4 + pubLen
	privLen := binary.BigEndian.Uint32(data[offset : offset+4])
	if uint32(len(data)) < offset+4+privLen {
		return nil, nil, fmt.Errorf("key pair payload is truncated")
	}
	priv = data[offset+4 : offset+4+privLen]
	return pub, priv, nil
}

// IDFor exposes the hashed identifier used for owner, letting callers map
// an owner name to the file List returns without reading the directory.
func (k *KeyStore) IDFor(owner string) string {
	return primitives.HashHex([]byte(owner))
}

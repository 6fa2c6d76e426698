// Copyright 2025 Certen Protocol
//
// Package offchain provides content-addressed, encrypted-at-rest storage for
// block payloads that exceed the on-chain size threshold. Each object is
// named by the SHA3-256 hash of its plaintext; on-chain blocks carry only a
// compact Reference pointing at the file.

package offchain

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/blockcipher"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

const (
	encExt    = ".enc"
	gzExt     = ".enc.gz"
)

// Reference is the compact, on-chain pointer to an off-chain object.
type Reference struct {
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Store owns an off-chain directory: all writers must go through it, but
// reads may be concurrent.
type Store struct {
	dir     string
	cipher  *blockcipher.Service
	getBMEK func() ([]byte, error)
	logger  *log.Logger
}

// New creates a Store rooted at dir. getBMEK is called on every put/get to
// obtain the current blockchain master encryption key.
func New(dir string, getBMEK func() ([]byte, error)) *Store {
	return &Store{
		dir:     dir,
		cipher:  blockcipher.New(),
		getBMEK: getBMEK,
		logger:  log.New(log.Writer(), "[OffChainStore] ", log.LstdFlags),
	}
}

func (s *Store) pathFor(hash string, compressed bool) string {
	ext := encExt
	if compressed {
		ext = gzExt
	}
	return filepath.Join(s.dir, hash+ext)
}

// Put encrypts data and writes it under its content hash, returning a
// Reference for the caller to embed in a block's data field.
func (s *Store) Put(data []byte, contentType string) (*Reference, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("create off-chain directory: %w", err)
	}

	hash := primitives.HashHex(data)

	bmek, err := s.getBMEK()
	if err != nil {
		return nil, err
	}

	blob, err := s.cipher.Encrypt(data, bmek)
	if err != nil {
		return nil, fmt.Errorf("encrypt off-chain object: %w", err)
	}

	path := s.pathFor(hash, false)
	if err := os.WriteFile(path, []byte(blob), 0600); err != nil {
		return nil, fmt.Errorf("write off-chain object: %w", err)
	}

	return &Reference{Hash: hash, Size: int64(len(data)), ContentType: contentType}, nil
}

// Get decrypts and returns the plaintext for ref, transparently decompressing
// a GZIP-compressed object if one was compressed in place by maintenance.
func (s *Store) Get(ref *Reference) ([]byte, error) {
	path, compressed, err := s.locate(ref.Hash)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read off-chain object: %w", err)
	}

	blob := string(raw)
	if compressed {
		decompressed, err := gunzip(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress off-chain object: %w", err)
		}
		blob = string(decompressed)
	}

	bmek, err := s.getBMEK()
	if err != nil {
		return nil, err
	}

	plaintext, err := s.cipher.Decrypt(blob, bmek)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Exists reports whether an object with the given content hash is present,
// compressed or not.
func (s *Store) Exists(hash string) bool {
	_, _, err := s.locate(hash)
	return err == nil
}

// VerifyIntegrity decrypts ref's object and recomputes its content hash,
// confirming it still matches ref.Hash.
func (s *Store) VerifyIntegrity(ref *Reference) (bool, error) {
	plaintext, err := s.Get(ref)
	if err != nil {
		return false, err
	}
	return primitives.HashHex(plaintext) == ref.Hash, nil
}

// CompressIfOlderThan GZIP-compresses the on-disk object for hash in place
// if its file modification time is older than maxAge. It is a no-op if the
// object is already compressed or younger than maxAge.
func (s *Store) CompressIfOlderThan(hash string, maxAge time.Duration) error {
	path, compressed, err := s.locate(hash)
	if err != nil {
		return err
	}
	if compressed {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat off-chain object: %w", err)
	}
	if time.Since(info.ModTime()) < maxAge {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read off-chain object for compression: %w", err)
	}

	compressedBytes, err := gzipBytes(raw)
	if err != nil {
		return fmt.Errorf("compress off-chain object: %w", err)
	}

	newPath := s.pathFor(hash, true)
	if err := os.WriteFile(newPath, compressedBytes, 0600); err != nil {
		return fmt.Errorf("write compressed off-chain object: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove uncompressed off-chain object: %w", err)
	}

	s.logger.Printf("compressed off-chain object %s", hash)
	return nil
}

// ListHashes enumerates the content hashes of every object currently on
// disk, used by MaintenanceScheduler's orphan sweep.
func (s *Store) ListHashes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list off-chain directory: %w", err)
	}

	var hashes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, gzExt):
			hashes = append(hashes, strings.TrimSuffix(name, gzExt))
		case strings.HasSuffix(name, encExt):
			hashes = append(hashes, strings.TrimSuffix(name, encExt))
		}
	}
	return hashes, nil
}

// Delete removes the on-disk object for hash, compressed or not. Used to
// sweep orphans.
func (s *Store) Delete(hash string) error {
	path, _, err := s.locate(hash)
	if err != nil {
		if err == apperrors.ErrObjectNotFound {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

func (s *Store) locate(hash string) (path string, compressed bool, err error) {
	plain := s.pathFor(hash, false)
	if _, statErr := os.Stat(plain); statErr == nil {
		return plain, false, nil
	}
	gz := s.pathFor(hash, true)
	if _, statErr := os.Stat(gz); statErr == nil {
		return gz, true, nil
	}
	return "", false, apperrors.ErrObjectNotFound
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

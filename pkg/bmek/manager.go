// Copyright 2025 Certen Protocol
//
// Blockchain Master Encryption Key (BMEK) lifecycle management: generate,
// load, cache, export/import, file-permission hardening. The BMEK is the
// single symmetric key that wraps every per-block data-encryption key.

package bmek

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

// Manager owns the on-disk BMEK file and an in-memory, double-checked cache
// of its value.
type Manager struct {
	mu      sync.RWMutex
	keyPath string
	cached  []byte
	logger  *log.Logger
}

// NewManager creates a Manager bound to keyPath. It does not touch the
// filesystem; call Initialize to create or validate the key file.
func NewManager(keyPath string) *Manager {
	return &Manager{
		keyPath: keyPath,
		logger:  log.New(log.Writer(), "[BMEKManager] ", log.LstdFlags),
	}
}

// Initialize is idempotent: it creates the key file with 0600 permissions
// if absent, or validates the existing file's shape if present.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.keyPath); os.IsNotExist(err) {
		return m.generateAndSaveLocked()
	} else if err != nil {
		return fmt.Errorf("stat BMEK file: %w", err)
	}

	_, err := m.loadLocked()
	return err
}

// generateAndSaveLocked creates a fresh 256-bit key and writes it to disk.
// Caller must hold m.mu.
func (m *Manager) generateAndSaveLocked() error {
	key, err := primitives.RandomBytes(primitives.AESKeySize)
	if err != nil {
		return fmt.Errorf("generate BMEK: %w", err)
	}

	dir := filepath.Dir(m.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(m.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("write BMEK file: %w", err)
	}

	m.cached = key
	m.logger.Printf("generated new blockchain master encryption key at %s", m.keyPath)
	return nil
}

// loadLocked reads and decodes the key file. Caller must hold m.mu.
func (m *Manager) loadLocked() ([]byte, error) {
	raw, err := os.ReadFile(m.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read BMEK file: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("BMEK file is corrupt: %w", err)
	}
	if len(key) != primitives.AESKeySize {
		return nil, fmt.Errorf("BMEK file is corrupt: expected %d bytes, got %d", primitives.AESKeySize, len(key))
	}

	m.cached = key
	return key, nil
}

// Get returns the cached BMEK, loading it from disk on first use under
// double-checked locking.
func (m *Manager) Get() ([]byte, error) {
	m.mu.RLock()
	if m.cached != nil {
		key := m.cached
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached, nil
	}
	if !m.existsLocked() {
		return nil, apperrors.ErrBmekMissing
	}
	return m.loadLocked()
}

// Exists reports whether the BMEK file is present on disk.
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existsLocked()
}

func (m *Manager) existsLocked() bool {
	_, err := os.Stat(m.keyPath)
	return err == nil
}

// ExportBase64 returns the base64 encoding of the current key for offline
// backup. The value is never transmitted by this package; callers are
// responsible for secure handling once returned.
func (m *Manager) ExportBase64() (string, error) {
	key, err := m.Get()
	if err != nil {
		return "", err
	}
	m.logger.Println("BMEK exported for offline backup")
	return base64.StdEncoding.EncodeToString(key), nil
}

// ImportBase64 overwrites the existing key with the decoded value. Callers
// must understand that existing ciphertexts become undecryptable unless the
// imported key is byte-identical to the one that encrypted them.
func (m *Manager) ImportBase64(encoded string) error {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("decode imported BMEK: %w", err)
	}
	if len(key) != primitives.AESKeySize {
		return fmt.Errorf("imported BMEK must be %d bytes, got %d", primitives.AESKeySize, len(key))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	encodedOut := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(m.keyPath, []byte(encodedOut), 0600); err != nil {
		return fmt.Errorf("write imported BMEK: %w", err)
	}

	m.cached = key
	m.logger.Println("BMEK imported, overwriting previous key")
	return nil
}

// ClearCache drops the in-memory cached key, forcing the next Get to reload
// from disk. Used by tests and by operators after external key rotation.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}

// Global singleton, mirroring the process-wide key-manager convention used
// elsewhere in this engine for state that must be reachable without
// threading a handle through every call site.
var (
	globalMu      sync.Mutex
	globalManager *Manager
)

// InitializeGlobal creates and initializes the process-wide BMEK manager.
func InitializeGlobal(keyPath string) (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	m := NewManager(keyPath)
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	globalManager = m
	return m, nil
}

// GlobalManager returns the process-wide BMEK manager, or nil if
// InitializeGlobal has not been called.
func GlobalManager() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager
}

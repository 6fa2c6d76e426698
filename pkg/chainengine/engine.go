// Copyright 2025 Certen Protocol
//
// Package chainengine implements the append-only protocol: caller
// authorization, atomic block numbering, off-chain size routing, optional
// retroactive-style encryption, canonical pre-image construction, ML-DSA-87
// signing, and persistence. It is the sole writer of the blocks table and
// the sole owner of the off-chain directory's write path.

package chainengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/blockcipher"
	"github.com/certen/private-ledger/pkg/bmek"
	"github.com/certen/private-ledger/pkg/concurrency"
	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
	"github.com/certen/private-ledger/pkg/database"
	"github.com/certen/private-ledger/pkg/indexing"
	"github.com/certen/private-ledger/pkg/offchain"
	"github.com/certen/private-ledger/pkg/rbac"
)

// GenesisPreviousHash is the zero digest used as block 0's previousHash: 64
// hex characters, the width of a SHA3-256 digest.
var GenesisPreviousHash = strings.Repeat("0", 64)

// Block is the domain-level representation of a ledger block.
type Block struct {
	BlockNumber        uint64
	Timestamp          time.Time
	PreviousHash       string
	Data               string
	SignerPublicKey    string
	Signature          []byte
	Hash               string
	IsEncrypted        bool
	EncryptionMetadata *string
	OffChainReference  *string
	ManualKeywords     *string
	AutoKeywords       *string
}

func blockFromRow(row *database.BlockRow) *Block {
	return &Block{
		BlockNumber:        row.BlockNumber,
		Timestamp:          row.Timestamp,
		PreviousHash:       row.PreviousHash,
		Data:               row.Data,
		SignerPublicKey:    row.SignerPublicKey,
		Signature:          row.Signature,
		Hash:               row.Hash,
		IsEncrypted:        row.IsEncrypted,
		EncryptionMetadata: row.EncryptionMetadata,
		OffChainReference:  row.OffChainReference,
		ManualKeywords:     row.ManualKeywords,
		AutoKeywords:       row.AutoKeywords,
	}
}

// AppendOptions controls optional behavior of a single Append call.
type AppendOptions struct {
	Encrypt           bool
	ContentType       string
	ManualKeywords    string
	AutoKeywordsPlain string
}

// Engine is the append-only chain engine. All writes to the blocks and
// authorized_keys tables, and to the off-chain directory, flow through it.
type Engine struct {
	cfg      *config.Config
	db       *database.Client
	repos    *database.Repositories
	bmek     *bmek.Manager
	cipher   *blockcipher.Service
	offchain *offchain.Store
	lock     *concurrency.Control
	indexer  *indexing.Coordinator
	logger   *log.Logger
}

// New creates an Engine over the given collaborators.
func New(
	cfg *config.Config,
	db *database.Client,
	repos *database.Repositories,
	bmekMgr *bmek.Manager,
	offchainStore *offchain.Store,
	lock *concurrency.Control,
	indexer *indexing.Coordinator,
) *Engine {
	return &Engine{
		cfg:      cfg,
		db:       db,
		repos:    repos,
		bmek:     bmekMgr,
		cipher:   blockcipher.New(),
		offchain: offchainStore,
		lock:     lock,
		indexer:  indexer,
		logger:   log.New(log.Writer(), "[ChainEngine] ", log.LstdFlags),
	}
}

func CanonicalPreimage(blockNumber uint64, timestamp time.Time, previousHash, data, signerPublicKeyHex string) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s",
		blockNumber,
		timestamp.UTC().Format(time.RFC3339Nano),
		previousHash,
		data,
		signerPublicKeyHex,
	))
}

// buildGenesisBlockRow constructs block 0: the synthetic root of the hash
// chain. It carries no signer and no signature - unlike every other block,
// it is never produced by a signed Append, since the bootstrap operation
// that creates it is only ever given a public key. timestamp is truncated
// to microsecond precision, the resolution blocks."timestamp" round-trips
// through Postgres at, so the stored row always re-hashes to the same
// value it was inserted with.
func buildGenesisBlockRow(timestamp time.Time) *database.BlockRow {
	timestamp = timestamp.UTC().Truncate(time.Microsecond)
	preimage := CanonicalPreimage(0, timestamp, GenesisPreviousHash, "", "")
	return &database.BlockRow{
		BlockNumber:     0,
		Timestamp:       timestamp,
		PreviousHash:    GenesisPreviousHash,
		Data:            "",
		SignerPublicKey: "",
		Signature:       []byte{},
		Hash:            primitives.HashHex(preimage),
	}
}

func validateOwnerName(cfg *config.Config, ownerName string) error {
	if ownerName == "" || len(ownerName) > cfg.MaxOwnerNameLen {
		return apperrors.ErrOwnerNameTooLong
	}
	return nil
}

// CreateBootstrapAdmin is the sole operation permitted with no prior state:
// it inserts a SUPER_ADMIN row when the authorized-key table is empty.
// Any other caller state is SecurityError::BootstrapViolation.
func (e *Engine) CreateBootstrapAdmin(ctx context.Context, publicKeyHex, ownerName string) error {
	if err := validateOwnerName(e.cfg, ownerName); err != nil {
		return err
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	count, err := e.repos.AuthorizedKeys.CountAllInTx(ctx, tx)
	if err != nil {
		return err
	}
	if count != 0 {
		return apperrors.ErrBootstrapViolation
	}

	now := time.Now().UTC()
	row := &database.AuthorizedKeyRow{
		PublicKey: publicKeyHex,
		OwnerName: ownerName,
		Role:      string(rbac.SuperAdmin),
		IsActive:  true,
		CreatedAt: now,
	}
	if err := e.repos.AuthorizedKeys.InsertInTx(ctx, tx, row); err != nil {
		return err
	}

	genesis := buildGenesisBlockRow(now)
	if err := e.repos.Blocks.InsertInTx(ctx, tx, genesis); err != nil {
		return err
	}
	if err := e.repos.Sequence.ResetInTx(ctx, tx, 1); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateUser registers a new principal. callerRole/callerPublicKeyHex are
// supplied explicitly by the caller's authenticated context - the engine
// never infers identity implicitly.
func (e *Engine) CreateUser(ctx context.Context, callerRole rbac.Role, callerPublicKeyHex string, targetPublicKeyHex, ownerName string, targetRole rbac.Role) error {
	if err := validateOwnerName(e.cfg, ownerName); err != nil {
		return err
	}
	if err := rbac.CheckCreate(callerRole, targetRole); err != nil {
		return err
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.repos.AuthorizedKeys.FindByPublicKeyInTx(ctx, tx, targetPublicKeyHex); err == nil {
		return apperrors.ErrAlreadyExists
	} else if err != database.ErrAuthorizedKeyNotFound {
		return err
	}

	createdBy := callerPublicKeyHex
	row := &database.AuthorizedKeyRow{
		PublicKey: targetPublicKeyHex,
		OwnerName: ownerName,
		Role:      string(targetRole),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		CreatedBy: &createdBy,
	}
	if err := e.repos.AuthorizedKeys.InsertInTx(ctx, tx, row); err != nil {
		return err
	}

	return tx.Commit()
}

// RevokeUser deactivates a principal, enforcing AK-1 (the last active
// SUPER_ADMIN can never be revoked).
func (e *Engine) RevokeUser(ctx context.Context, callerRole rbac.Role, targetPublicKeyHex string) error {
	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	target, err := e.repos.AuthorizedKeys.FindByPublicKeyInTx(ctx, tx, targetPublicKeyHex)
	if err != nil {
		return err
	}

	targetRole := rbac.Role(target.Role)
	if err := rbac.CheckRevoke(callerRole, targetRole); err != nil {
		return err
	}

	if targetRole == rbac.SuperAdmin && target.IsActive {
		count, err := e.repos.AuthorizedKeys.CountActiveWithRoleInTx(ctx, tx, string(rbac.SuperAdmin))
		if err != nil {
			return err
		}
		if count <= 1 {
			return apperrors.ErrLastSuperAdmin
		}
	}

	if err := e.repos.AuthorizedKeys.DeactivateInTx(ctx, tx, targetPublicKeyHex, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// Append is the write path: validate, acquire the write lock, route the
// payload on- or off-chain, assign the next block number, encrypt if
// requested, build the canonical pre-image, sign, persist, release the
// lock, then enqueue an index update asynchronously.
func (e *Engine) Append(ctx context.Context, callerRole rbac.Role, callerPublicKeyHex string, callerPriv sign.PrivateKey, data []byte, opts AppendOptions) (*Block, error) {
	if err := rbac.CheckAppend(callerRole); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.ErrEmptyPayload
	}
	if int64(len(data)) > e.cfg.MaxPayloadBytes {
		return nil, apperrors.NewTooLarge(e.cfg.MaxPayloadBytes)
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return nil, err
	}

	block, err := e.appendLocked(ctx, callerPublicKeyHex, callerPriv, data, opts)
	release()
	if err != nil {
		return nil, err
	}

	e.indexer.Submit(ctx, indexing.IndexUpdate{
		BlockNumber:       block.BlockNumber,
		ManualKeywords:    opts.ManualKeywords,
		AutoKeywordsPlain: opts.AutoKeywordsPlain,
	})

	return block, nil
}

// appendLocked performs the size-routing, numbering, signing, and
// persistence steps. Caller must already hold the write lock.
func (e *Engine) appendLocked(ctx context.Context, callerPublicKeyHex string, callerPriv sign.PrivateKey, data []byte, opts AppendOptions) (*Block, error) {
	dataStr, offChainRef, err := e.routePayload(data, opts.ContentType)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	blockNumber, err := e.repos.Sequence.NextInTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	previousHash := GenesisPreviousHash
	if blockNumber > 0 {
		prev, err := e.repos.Blocks.GetByNumber(ctx, blockNumber-1)
		if err != nil {
			return nil, err
		}
		previousHash = prev.Hash
	}

	// Truncated to microsecond precision: blocks."timestamp" is TIMESTAMPTZ,
	// which Postgres stores at microsecond resolution. Hashing at full ns
	// precision and truncating only on the way into the column would make
	// every re-read's recomputed hash mismatch the stored one.
	timestamp := time.Now().UTC().Truncate(time.Microsecond)
	preimage := CanonicalPreimage(blockNumber, timestamp, previousHash, dataStr, callerPublicKeyHex)
	hash := primitives.HashHex(preimage)
	signature := primitives.Sign(callerPriv, preimage)

	row := &database.BlockRow{
		BlockNumber:       blockNumber,
		Timestamp:         timestamp,
		PreviousHash:      previousHash,
		Data:              dataStr,
		SignerPublicKey:   callerPublicKeyHex,
		Signature:         signature,
		Hash:              hash,
		OffChainReference: offChainRef,
	}

	if opts.ManualKeywords != "" {
		manual := opts.ManualKeywords
		row.ManualKeywords = &manual
	}

	if opts.Encrypt {
		bmekKey, err := e.bmek.Get()
		if err != nil {
			return nil, err
		}
		ciphertext, err := e.cipher.Encrypt([]byte(dataStr), bmekKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt block payload: %w", err)
		}
		row.IsEncrypted = true
		row.EncryptionMetadata = &ciphertext
	}

	if err := e.repos.Blocks.InsertInTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return blockFromRow(row), nil
}

// routePayload stages data off-chain when it meets the configured
// threshold, returning the string to store in the block's data column and
// the off-chain content-hash reference (nil when stored inline).
func (e *Engine) routePayload(data []byte, contentType string) (dataStr string, offChainRef *string, err error) {
	if int64(len(data)) < e.cfg.OffChainThresholdBytes {
		return string(data), nil, nil
	}

	ref, err := e.offchain.Put(data, contentType)
	if err != nil {
		return "", nil, fmt.Errorf("stage off-chain payload: %w", err)
	}

	refJSON, err := json.Marshal(ref)
	if err != nil {
		return "", nil, fmt.Errorf("marshal off-chain reference: %w", err)
	}

	hash := ref.Hash
	return string(refJSON), &hash, nil
}

// GetBlock returns a single block by number.
func (e *Engine) GetBlock(ctx context.Context, blockNumber uint64) (*Block, error) {
	row, err := e.repos.Blocks.GetByNumber(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	return blockFromRow(row), nil
}

// RetrievePlaintext returns block's original payload bytes, decrypting and
// fetching off-chain content as needed. This is the access-controlled read
// path: callers must go through it to obtain plaintext for an encrypted or
// off-chain-staged block.
func (e *Engine) RetrievePlaintext(ctx context.Context, block *Block) ([]byte, error) {
	var payload []byte

	if block.IsEncrypted {
		if block.EncryptionMetadata == nil {
			return nil, apperrors.ErrCryptoAuthentication
		}
		bmekKey, err := e.bmek.Get()
		if err != nil {
			return nil, err
		}
		plaintext, err := e.cipher.Decrypt(*block.EncryptionMetadata, bmekKey)
		if err != nil {
			return nil, err
		}
		payload = plaintext
	} else {
		payload = []byte(block.Data)
	}

	if block.OffChainReference != nil {
		var ref offchain.Reference
		if err := json.Unmarshal(payload, &ref); err != nil {
			return nil, fmt.Errorf("parse off-chain reference: %w", err)
		}
		return e.offchain.Get(&ref)
	}

	return payload, nil
}

// EncryptExistingBlock applies the retroactive-encryption path: data, hash,
// signature, previousHash, blockNumber, and timestamp are never touched.
func (e *Engine) EncryptExistingBlock(ctx context.Context, callerRole rbac.Role, blockNumber uint64) error {
	if err := rbac.CheckAppend(callerRole); err != nil {
		return err
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	row, err := e.repos.Blocks.GetByNumber(ctx, blockNumber)
	if err != nil {
		return err
	}
	if row.IsEncrypted {
		return nil
	}

	bmekKey, err := e.bmek.Get()
	if err != nil {
		return err
	}
	ciphertext, err := e.cipher.Encrypt([]byte(row.Data), bmekKey)
	if err != nil {
		return fmt.Errorf("encrypt existing block payload: %w", err)
	}

	return e.repos.Blocks.UpdateEncryption(ctx, blockNumber, ciphertext)
}

// Rollback deletes every block strictly greater than toBlockNumber and
// rewinds the block-number counter, within a single transaction. Off-chain
// files referenced only by deleted blocks become orphans, swept later by
// maintenance.
func (e *Engine) Rollback(ctx context.Context, callerRole rbac.Role, toBlockNumber uint64) error {
	highest, err := e.repos.Blocks.Highest(ctx)
	if err != nil {
		return err
	}
	if toBlockNumber > highest.BlockNumber {
		return fmt.Errorf("rollback target %d is above the current chain height %d", toBlockNumber, highest.BlockNumber)
	}

	blockCount := int(highest.BlockNumber - toBlockNumber)
	if err := rbac.CheckRollback(callerRole, blockCount); err != nil {
		return err
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.repos.Blocks.DeleteGreaterThanInTx(ctx, tx, toBlockNumber); err != nil {
		return err
	}
	if err := e.repos.Sequence.ResetInTx(ctx, tx, toBlockNumber+1); err != nil {
		return err
	}

	return tx.Commit()
}

// ClearAndReinitialize is a destructive reset: truncates all tables, removes
// every off-chain file, resets the block counter, drains the indexing
// backlog, then re-seeds the authorization chain with callerPublicKeyHex as
// bootstrap SUPER_ADMIN and emits the same synthetic genesis block 0 that
// CreateBootstrapAdmin does, so a freshly-opened chain and a cleared chain
// are structurally identical at block 0.
func (e *Engine) ClearAndReinitialize(ctx context.Context, callerRole rbac.Role, callerPublicKeyHex, ownerName string) error {
	if callerRole != rbac.SuperAdmin {
		return apperrors.NewPermissionDenied(string(callerRole), string(rbac.SuperAdmin), "clearAndReinitialize")
	}

	release, err := e.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	e.indexer.ForceShutdown()
	defer e.indexer.ClearShutdownFlag()
	if err := e.indexer.AwaitQuiescence(ctx); err != nil {
		return err
	}

	return e.resetStorageLocked(ctx, callerPublicKeyHex, ownerName)
}

func (e *Engine) resetStorageLocked(ctx context.Context, callerPublicKeyHex, ownerName string) error {
	hashes, err := e.offchain.ListHashes()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := e.offchain.Delete(h); err != nil {
			e.logger.Printf("failed to remove off-chain object %s during reinitialize: %v", h, err)
		}
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.repos.Blocks.DeleteAllInTx(ctx, tx); err != nil {
		return err
	}
	if err := e.repos.AuthorizedKeys.DeleteAllInTx(ctx, tx); err != nil {
		return err
	}

	now := time.Now().UTC()
	row := &database.AuthorizedKeyRow{
		PublicKey: callerPublicKeyHex,
		OwnerName: ownerName,
		Role:      string(rbac.SuperAdmin),
		IsActive:  true,
		CreatedAt: now,
	}
	if err := e.repos.AuthorizedKeys.InsertInTx(ctx, tx, row); err != nil {
		return err
	}

	genesis := buildGenesisBlockRow(now)
	if err := e.repos.Blocks.InsertInTx(ctx, tx, genesis); err != nil {
		return err
	}
	if err := e.repos.Sequence.ResetInTx(ctx, tx, 1); err != nil {
		return err
	}

	return tx.Commit()
}

// IsKeyAuthorized is a hot-path read used by callers before every write:
// it reports whether publicKeyHex identifies a currently active principal
// and, if so, its role.
func (e *Engine) IsKeyAuthorized(ctx context.Context, publicKeyHex string) (rbac.Role, bool, error) {
	row, err := e.repos.AuthorizedKeys.FindByPublicKey(ctx, publicKeyHex)
	if err != nil {
		if err == database.ErrAuthorizedKeyNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if !row.IsActive {
		return rbac.Role(row.Role), false, nil
	}
	return rbac.Role(row.Role), true, nil
}

// Copyright 2025 Certen Protocol
//
// Package ledger is the external interface layer: a single entry point
// wiring together every lower component (RBAC, the chain engine, chain
// validation, off-chain storage, export/import, and background
// maintenance) behind one façade type. It is pure orchestration - it owns
// no business logic of its own.

package ledger

import (
	"context"
	"fmt"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/bmek"
	"github.com/certen/private-ledger/pkg/chainengine"
	"github.com/certen/private-ledger/pkg/chainvalidator"
	"github.com/certen/private-ledger/pkg/concurrency"
	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
	"github.com/certen/private-ledger/pkg/database"
	"github.com/certen/private-ledger/pkg/exportimport"
	"github.com/certen/private-ledger/pkg/indexing"
	"github.com/certen/private-ledger/pkg/maintenance"
	"github.com/certen/private-ledger/pkg/offchain"
	"github.com/certen/private-ledger/pkg/rbac"
)

// AppendOptions re-exports chainengine.AppendOptions so callers of the
// façade never need to import pkg/chainengine directly for the common case.
type AppendOptions = chainengine.AppendOptions

// Ledger is the façade over the whole engine.
type Ledger struct {
	cfg         *config.Config
	db          *database.Client
	repos       *database.Repositories
	bmekMgr     *bmek.Manager
	offchain    *offchain.Store
	lock        *concurrency.Control
	indexer     *indexing.Coordinator
	engine      *chainengine.Engine
	validator   *chainvalidator.Validator
	exporter    *exportimport.Exporter
	maintenance *maintenance.Scheduler
}

// Open wires every component from cfg and returns a ready-to-use Ledger.
// It runs pending database migrations and initializes the BMEK file if
// absent, but performs no bootstrap admin creation - callers must call
// CreateBootstrapAdmin themselves against a fresh chain.
func Open(cfg *config.Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.MigrateUp(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repos := database.NewRepositories(db)

	bmekMgr := bmek.NewManager(cfg.BMEKKeyPath)
	if err := bmekMgr.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize BMEK: %w", err)
	}

	offchainStore := offchain.New(cfg.OffChainDir, bmekMgr.Get)
	lock := concurrency.New()
	indexer := indexing.New(indexing.NewDBSink(repos.Blocks), nil)
	engine := chainengine.New(cfg, db, repos, bmekMgr, offchainStore, lock, indexer)
	validator := chainvalidator.New(cfg, repos)
	exporter := exportimport.New(repos, offchainStore)
	sched := maintenance.New(cfg, db, repos, offchainStore)

	return &Ledger{
		cfg:         cfg,
		db:          db,
		repos:       repos,
		bmekMgr:     bmekMgr,
		offchain:    offchainStore,
		lock:        lock,
		indexer:     indexer,
		engine:      engine,
		validator:   validator,
		exporter:    exporter,
		maintenance: sched,
	}, nil
}

// Close stops maintenance if running, waits for the indexing backlog to
// drain, and closes the database connection.
func (l *Ledger) Close() error {
	_ = l.maintenance.Stop()
	_ = l.indexer.AwaitQuiescence(context.Background())
	return l.db.Close()
}

func callerIdentity(caller *primitives.SigningKeyPair) (string, error) {
	return primitives.PublicKeyHex(caller.Public)
}

func (l *Ledger) callerRole(ctx context.Context, publicKeyHex string) (rbac.Role, error) {
	role, active, err := l.engine.IsKeyAuthorized(ctx, publicKeyHex)
	if err != nil {
		return "", err
	}
	if !active {
		return "", apperrors.NewPermissionDenied(string(role), "", "identify-caller")
	}
	return role, nil
}

// CreateBootstrapAdmin registers pub as the sole SUPER_ADMIN of an empty
// chain. Valid only when the authorized-key table is empty.
func (l *Ledger) CreateBootstrapAdmin(ctx context.Context, pub []byte, ownerName string) error {
	pubKey, err := primitives.UnmarshalPublicKey(pub)
	if err != nil {
		return err
	}
	pubHex, err := primitives.PublicKeyHex(pubKey)
	if err != nil {
		return err
	}
	return l.engine.CreateBootstrapAdmin(ctx, pubHex, ownerName)
}

// CreateUser registers a new principal, acting as caller.
func (l *Ledger) CreateUser(ctx context.Context, caller *primitives.SigningKeyPair, pub []byte, ownerName string, role rbac.Role) error {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return err
	}
	targetPub, err := primitives.UnmarshalPublicKey(pub)
	if err != nil {
		return err
	}
	targetPubHex, err := primitives.PublicKeyHex(targetPub)
	if err != nil {
		return err
	}
	return l.engine.CreateUser(ctx, callerRole, callerPubHex, targetPubHex, ownerName, role)
}

// RevokeUser deactivates targetPublicKey, acting as caller.
func (l *Ledger) RevokeUser(ctx context.Context, caller *primitives.SigningKeyPair, targetPublicKey string) error {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return err
	}
	return l.engine.RevokeUser(ctx, callerRole, targetPublicKey)
}

// Append writes a new block signed by caller.
func (l *Ledger) Append(ctx context.Context, caller *primitives.SigningKeyPair, data []byte, opts AppendOptions) (*chainengine.Block, error) {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return nil, err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return nil, err
	}
	return l.engine.Append(ctx, callerRole, callerPubHex, caller.Private, data, opts)
}

// GetBlock returns a single block by number.
func (l *Ledger) GetBlock(ctx context.Context, blockNumber uint64) (*chainengine.Block, error) {
	return l.engine.GetBlock(ctx, blockNumber)
}

// RetrievePlaintext returns block's original payload.
func (l *Ledger) RetrievePlaintext(ctx context.Context, block *chainengine.Block) ([]byte, error) {
	return l.engine.RetrievePlaintext(ctx, block)
}

// EncryptExistingBlock applies the retroactive-encryption path to an
// existing block, acting as caller.
func (l *Ledger) EncryptExistingBlock(ctx context.Context, caller *primitives.SigningKeyPair, blockNumber uint64) error {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return err
	}
	return l.engine.EncryptExistingBlock(ctx, callerRole, blockNumber)
}

// Rollback deletes every block above toBlockNumber, acting as caller.
func (l *Ledger) Rollback(ctx context.Context, caller *primitives.SigningKeyPair, toBlockNumber uint64) error {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return err
	}
	return l.engine.Rollback(ctx, callerRole, toBlockNumber)
}

// ClearAndReinitialize performs a destructive reset of the whole chain,
// re-seeding it with caller as the new bootstrap SUPER_ADMIN. caller must
// already be the active SUPER_ADMIN.
func (l *Ledger) ClearAndReinitialize(ctx context.Context, caller *primitives.SigningKeyPair, ownerName string) error {
	callerPubHex, err := callerIdentity(caller)
	if err != nil {
		return err
	}
	callerRole, err := l.callerRole(ctx, callerPubHex)
	if err != nil {
		return err
	}
	return l.engine.ClearAndReinitialize(ctx, callerRole, callerPubHex, ownerName)
}

// ValidateEager runs a full eager chain validation.
func (l *Ledger) ValidateEager(ctx context.Context) (*chainvalidator.Report, error) {
	return l.validator.ValidateEager(ctx)
}

// ValidateStreaming runs chain validation in fixed-size batches.
func (l *Ledger) ValidateStreaming(ctx context.Context, batchSize int, onBatch func(*chainvalidator.BatchResult)) (*chainvalidator.Report, error) {
	return l.validator.ValidateStreaming(ctx, batchSize, onBatch)
}

// ExportChain writes the chain snapshot to path.
func (l *Ledger) ExportChain(ctx context.Context, path string, includeOffChain bool) error {
	return l.exporter.Export(ctx, path, includeOffChain)
}

// ImportChain replays the snapshot at path into an empty chain.
func (l *Ledger) ImportChain(ctx context.Context, path string) error {
	return l.exporter.Import(ctx, l.db, path)
}

// StartMaintenance starts the background size-monitor, VACUUM, and cleanup
// jobs.
func (l *Ledger) StartMaintenance(ctx context.Context) error {
	return l.maintenance.Start(ctx)
}

// StopMaintenance stops the background maintenance jobs.
func (l *Ledger) StopMaintenance() error {
	return l.maintenance.Stop()
}

// Health reports a lightweight readiness snapshot used by cmd/ledgerd's
// health endpoint.
type Health struct {
	DatabaseHealthy  bool   `json:"databaseHealthy"`
	DatabaseError    string `json:"databaseError,omitempty"`
	MaintenanceState string `json:"maintenanceState"`
	IndexingPending  int    `json:"indexingPending"`
}

// CheckHealth reports the current readiness of the façade's dependencies.
func (l *Ledger) CheckHealth(ctx context.Context) Health {
	h := Health{
		MaintenanceState: string(l.maintenance.State()),
		IndexingPending:  l.indexer.Pending(),
	}
	if status, err := l.db.Health(ctx); err != nil {
		h.DatabaseError = err.Error()
	} else {
		h.DatabaseHealthy = status.Healthy
		if !status.Healthy {
			h.DatabaseError = status.Error
		}
	}
	return h
}

// Copyright 2025 Certen Protocol
//
// Package chainvalidator implements two-dimensional chain validation:
// structural (hash recomputation, linkage, signature) and compliance
// (signer currently active). Eager mode loads the whole chain at once under
// a memory ceiling; streaming mode pages through it in fixed batches so
// arbitrarily large chains validate in bounded memory.

package chainvalidator

import (
	"context"
	"log"

	"github.com/certen/private-ledger/pkg/apperrors"
	"github.com/certen/private-ledger/pkg/chainengine"
	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/crypto/primitives"
	"github.com/certen/private-ledger/pkg/database"
)

// maxIssuesTracked caps the number of individual issues retained in memory
// per report, so a pathological chain cannot make validation itself an
// unbounded-memory operation. Counts past the cap are still reflected in
// the aggregate totals.
const maxIssuesTracked = 1000

// Issue describes a single structural validation failure.
type Issue struct {
	BlockNumber uint64
	Reason      string
}

// Report is the aggregate result of a full chain validation.
type Report struct {
	TotalBlocks         int64
	InvalidBlockCount   int64
	InvalidBlocks       []Issue
	RevokedSignerCount  int64
	RevokedSignerBlocks []uint64
	Truncated           bool
}

// BatchResult is emitted once per batch by streaming validation.
type BatchResult struct {
	BatchStart          uint64
	BatchEnd            uint64
	InvalidBlocks       []Issue
	RevokedSignerBlocks []uint64
}

// Validator performs structural and compliance validation over the chain
// persisted in repos.
type Validator struct {
	cfg    *config.Config
	repos  *database.Repositories
	logger *log.Logger
}

// New creates a Validator.
func New(cfg *config.Config, repos *database.Repositories) *Validator {
	return &Validator{
		cfg:    cfg,
		repos:  repos,
		logger: log.New(log.Writer(), "[ChainValidator] ", log.LstdFlags),
	}
}

// chainState carries the running previousHash expectation across block
// boundaries, whether validating a single batch or an entire eager pass.
type chainState struct {
	expectPrevious  string
	haveExpectation bool
}

// structuralIssue recomputes the pre-image, hash, linkage, and signature for
// row and reports the first structural defect found, if any. It never
// touches the database, so it is directly unit-testable.
//
// Block 0 is the synthetic genesis block: it carries no signer and no
// signature (chainengine.buildGenesisBlockRow), so signature verification
// is skipped for a block 0 with an empty signer. Its hash and previousHash
// are still recomputed and checked like any other block, and a block 0
// that does name a signer has its signature verified as well.
func structuralIssue(row *database.BlockRow, st *chainState) *Issue {
	preimage := chainengine.CanonicalPreimage(row.BlockNumber, row.Timestamp, row.PreviousHash, row.Data, row.SignerPublicKey)
	recomputedHash := primitives.HashHex(preimage)

	if recomputedHash != row.Hash {
		return &Issue{BlockNumber: row.BlockNumber, Reason: "hash_mismatch"}
	}

	if st.haveExpectation && row.PreviousHash != st.expectPrevious {
		return &Issue{BlockNumber: row.BlockNumber, Reason: "chain_break"}
	}
	st.expectPrevious = row.Hash
	st.haveExpectation = true

	if row.BlockNumber == 0 && row.SignerPublicKey == "" {
		return nil
	}

	pub, err := primitives.PublicKeyFromHex(row.SignerPublicKey)
	if err != nil {
		return &Issue{BlockNumber: row.BlockNumber, Reason: "signature_mismatch"}
	}
	if !primitives.Verify(pub, preimage, row.Signature) {
		return &Issue{BlockNumber: row.BlockNumber, Reason: "signature_mismatch"}
	}

	return nil
}

// validateOne runs the structural check and, only if it passes, the
// compliance check (is the signer currently active). Block 0 has no
// signer to check for compliance.
func (v *Validator) validateOne(ctx context.Context, row *database.BlockRow, st *chainState) (issue *Issue, revoked bool) {
	if issue := structuralIssue(row, st); issue != nil {
		return issue, false
	}
	if row.BlockNumber == 0 {
		return nil, false
	}

	key, err := v.repos.AuthorizedKeys.FindByPublicKey(ctx, row.SignerPublicKey)
	if err != nil || !key.IsActive {
		return nil, true
	}

	return nil, false
}

// ValidateEager loads the whole chain and validates it in one aggregate
// pass. Chains above ValidationEagerMaxBlocks hard-fail with
// apperrors.ErrTooLarge; chains above ValidationEagerWarnBlocks validate but
// log a warning recommending streaming mode instead.
func (v *Validator) ValidateEager(ctx context.Context) (*Report, error) {
	total, err := v.repos.Blocks.Count(ctx)
	if err != nil {
		return nil, err
	}

	if total > v.cfg.ValidationEagerMaxBlocks {
		return nil, apperrors.NewTooLarge(v.cfg.ValidationEagerMaxBlocks)
	}
	if total > v.cfg.ValidationEagerWarnBlocks {
		v.logger.Printf("eager validation of %d blocks exceeds the recommended ceiling of %d; consider streaming mode", total, v.cfg.ValidationEagerWarnBlocks)
	}

	report := &Report{TotalBlocks: total}
	st := &chainState{}

	err = v.repos.Blocks.IterateRange(ctx, 0, uint64(total), func(row *database.BlockRow) error {
		issue, revoked := v.validateOne(ctx, row, st)
		if issue != nil {
			report.InvalidBlockCount++
			if len(report.InvalidBlocks) < maxIssuesTracked {
				report.InvalidBlocks = append(report.InvalidBlocks, *issue)
			} else {
				report.Truncated = true
			}
		}
		if revoked {
			report.RevokedSignerCount++
			if len(report.RevokedSignerBlocks) < maxIssuesTracked {
				report.RevokedSignerBlocks = append(report.RevokedSignerBlocks, row.BlockNumber)
			} else {
				report.Truncated = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// ValidateStreaming iterates the chain in fixed-size batches (default from
// config, typically 1,000), invoking onBatch after each batch completes.
// It never holds a database cursor open across batch boundaries and
// accumulates only bounded-size issue lists, so it can validate arbitrarily
// large chains in bounded memory. ctx is checked for cancellation between
// batches.
func (v *Validator) ValidateStreaming(ctx context.Context, batchSize int, onBatch func(*BatchResult)) (*Report, error) {
	if batchSize <= 0 {
		batchSize = v.cfg.ValidationStreamBatchSize
	}

	total, err := v.repos.Blocks.Count(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{TotalBlocks: total}
	st := &chainState{}

	for start := uint64(0); start < uint64(total); start += uint64(batchSize) {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		end := start + uint64(batchSize)
		if end > uint64(total) {
			end = uint64(total)
		}

		batch := &BatchResult{BatchStart: start, BatchEnd: end}

		err := v.repos.Blocks.IterateRange(ctx, start, end, func(row *database.BlockRow) error {
			issue, revoked := v.validateOne(ctx, row, st)
			if issue != nil {
				report.InvalidBlockCount++
				batch.InvalidBlocks = append(batch.InvalidBlocks, *issue)
			}
			if revoked {
				report.RevokedSignerCount++
				batch.RevokedSignerBlocks = append(batch.RevokedSignerBlocks, row.BlockNumber)
			}
			return nil
		})
		if err != nil {
			return report, err
		}

		if len(report.InvalidBlocks) < maxIssuesTracked {
			room := maxIssuesTracked - len(report.InvalidBlocks)
			if room > len(batch.InvalidBlocks) {
				room = len(batch.InvalidBlocks)
			}
			report.InvalidBlocks = append(report.InvalidBlocks, batch.InvalidBlocks[:room]...)
		}
		if len(report.RevokedSignerBlocks) < maxIssuesTracked {
			room := maxIssuesTracked - len(report.RevokedSignerBlocks)
			if room > len(batch.RevokedSignerBlocks) {
				room = len(batch.RevokedSignerBlocks)
			}
			report.RevokedSignerBlocks = append(report.RevokedSignerBlocks, batch.RevokedSignerBlocks[:room]...)
		}

		if onBatch != nil {
			onBatch(batch)
		}
	}

	return report, nil
}

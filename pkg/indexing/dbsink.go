// Copyright 2025 Certen Protocol

package indexing

import (
	"context"

	"github.com/certen/private-ledger/pkg/database"
)

// DBSink is the production IndexSink: it persists each update's keyword
// fields onto the originating block row. It never touches any column
// covered by Invariant BL-1.
type DBSink struct {
	blocks *database.BlockRepository
}

// NewDBSink creates a DBSink over blocks.
func NewDBSink(blocks *database.BlockRepository) *DBSink {
	return &DBSink{blocks: blocks}
}

// Index implements IndexSink.
func (s *DBSink) Index(ctx context.Context, update IndexUpdate) error {
	var manual, auto *string
	if update.ManualKeywords != "" {
		manual = &update.ManualKeywords
	}
	if update.AutoKeywordsPlain != "" {
		auto = &update.AutoKeywordsPlain
	}
	return s.blocks.UpdateKeywords(ctx, update.BlockNumber, manual, auto)
}

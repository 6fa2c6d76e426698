// Copyright 2025 Certen Protocol

package database

import "time"

// AuthorizedKeyRow is the persisted representation of a registered principal.
type AuthorizedKeyRow struct {
	PublicKey string
	OwnerName string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	RevokedAt *time.Time
	CreatedBy *string
}

// BlockRow is the persisted representation of a ledger block.
type BlockRow struct {
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

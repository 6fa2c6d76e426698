// Copyright 2025 Certen Protocol
//
// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

// Repositories holds all repository instances
type Repositories struct {
	AuthorizedKeys *AuthorizedKeyRepository
	Blocks         *BlockRepository
	Sequence       *SequenceRepository
}

// NewRepositories creates all repositories with the given client
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		AuthorizedKeys: NewAuthorizedKeyRepository(client),
		Blocks:         NewBlockRepository(client),
		Sequence:       NewSequenceRepository(client),
	}
}

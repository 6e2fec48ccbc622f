// Package store defines the persistence interface for the staking service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/staking-pool/internal/model"
)

// ErrNotFound is returned when a pool or participant does not exist.
var ErrNotFound = errors.New("store: not found")

// SettleFunc performs the external side effects of an operation, such as
// paying out custody, as the final step of a Commit.
type SettleFunc func(ctx context.Context) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool registry ---

	// CreatePool persists a new, unfunded pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by its ID. The result may come from a cache.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// GetPoolUncached reads a pool from the source of truth. Operations that
	// mutate a pool load it this way.
	GetPoolUncached(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- Participants ---

	// GetParticipant retrieves one account's record in a pool.
	GetParticipant(ctx context.Context, poolID, account string) (*model.Participant, error)

	// GetParticipantUncached is GetParticipant against the source of truth.
	GetParticipantUncached(ctx context.Context, poolID, account string) (*model.Participant, error)

	// ListParticipants returns every participant of a pool.
	ListParticipants(ctx context.Context, poolID string) ([]model.Participant, error)

	// --- Commit ---

	// Commit atomically persists the outcome of one pool operation: the
	// pool record, the participant it touched (nil for pool-only
	// operations) and the ledger entry describing it.
	//
	// settle, if non-nil, runs after the writes are staged and before they
	// become visible. If it fails nothing is persisted and its error is
	// returned. If the writes fail settle is never called.
	Commit(ctx context.Context, pool *model.Pool, participant *model.Participant, entry *model.LedgerEntry, settle SettleFunc) error

	// --- Immutable ledger ---

	// GetLedgerEntriesByPool returns all operations on a pool.
	GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByAccount returns all operations by an account.
	GetLedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/staking-pool/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolKey(p.ID), p)
	return nil
}

func (s *CachedStore) Commit(ctx context.Context, p *model.Pool, part *model.Participant, entry *model.LedgerEntry, settle SettleFunc) error {
	if err := s.primary.Commit(ctx, p, part, entry, settle); err != nil {
		return err
	}
	// Invalidate; next read will re-populate from the source of truth.
	keys := []string{poolKey(p.ID)}
	if part != nil {
		keys = append(keys, participantKey(part.PoolID, part.Account))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	if s.lookup(ctx, poolKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	pool, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(id), pool)
	return pool, nil
}

func (s *CachedStore) GetParticipant(ctx context.Context, poolID, account string) (*model.Participant, error) {
	var p model.Participant
	if s.lookup(ctx, participantKey(poolID, account), &p) {
		return &p, nil
	}

	part, err := s.primary.GetParticipant(ctx, poolID, account)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, participantKey(poolID, account), part)
	return part, nil
}

// --- Passthrough (not cached) ---

// GetPoolUncached skips Redis. A concurrent cache miss can repopulate a key
// with a value read before the last Commit, so writers never trust it.
func (s *CachedStore) GetPoolUncached(ctx context.Context, id string) (*model.Pool, error) {
	return s.primary.GetPoolUncached(ctx, id)
}

func (s *CachedStore) GetParticipantUncached(ctx context.Context, poolID, account string) (*model.Participant, error) {
	return s.primary.GetParticipantUncached(ctx, poolID, account)
}

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListParticipants(ctx context.Context, poolID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, poolID)
}

func (s *CachedStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByPool(ctx, poolID)
}

func (s *CachedStore) GetLedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByAccount(ctx, account)
}

// --- Cache helpers ---

// lookup decodes a cached value into dst, reporting a hit.
func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// cache stores v, which must be a pointer so 256-bit fields encode as
// decimal strings.
func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(id string) string                 { return fmt.Sprintf("pool:%s", id) }
func participantKey(poolID, acct string) string { return fmt.Sprintf("participant:%s:%s", poolID, acct) }

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/staking-pool/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	pools        map[string]*model.Pool
	participants map[string]map[string]*model.Participant // poolID → account
	ledger       []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:        make(map[string]*model.Pool),
		participants: make(map[string]map[string]*model.Participant),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return fmt.Errorf("pool %s already exists", p.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	s.pools[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPoolUncached(ctx context.Context, id string) (*model.Pool, error) {
	return s.GetPool(ctx, id)
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].CreatedAt > pools[j].CreatedAt })
	return pools, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, poolID, account string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[poolID][account]
	if !ok {
		return nil, fmt.Errorf("participant %s in pool %s: %w", account, poolID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetParticipantUncached(ctx context.Context, poolID, account string) (*model.Participant, error) {
	return s.GetParticipant(ctx, poolID, account)
}

func (s *MemoryStore) ListParticipants(_ context.Context, poolID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Participant
	for _, p := range s.participants[poolID] {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Account < result[j].Account })
	return result, nil
}

// Commit applies all three writes under one lock. settle runs under the
// same lock, before anything is written.
func (s *MemoryStore) Commit(ctx context.Context, p *model.Pool, part *model.Participant, entry *model.LedgerEntry, settle SettleFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; !ok {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	if settle != nil {
		if err := settle(ctx); err != nil {
			return err
		}
	}
	poolCopy := *p
	s.pools[p.ID] = &poolCopy

	if part != nil {
		accounts, ok := s.participants[part.PoolID]
		if !ok {
			accounts = make(map[string]*model.Participant)
			s.participants[part.PoolID] = accounts
		}
		partCopy := *part
		accounts[part.Account] = &partCopy
	}

	if entry != nil {
		s.ledger = append(s.ledger, *entry)
	}
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByPool(_ context.Context, poolID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByAccount(_ context.Context, account string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}

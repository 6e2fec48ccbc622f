// Package ledger holds one pool's aggregate state together with its
// participants, and checks the invariants that tie them together.
//
// A Ledger is pure data: it performs no I/O and is not safe for concurrent
// use. Callers serialize access per pool.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/accrual"
	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/model"
)

// ErrInvariantViolated is returned by Verify.
var ErrInvariantViolated = errors.New("ledger: invariant violated")

// Ledger is the in-memory state of a single pool.
type Ledger struct {
	pool         model.Pool
	participants map[string]*model.Participant
}

// New creates a ledger for pool, seeded with any already persisted
// participants. Participants of other pools are ignored.
func New(pool model.Pool, participants ...model.Participant) *Ledger {
	l := &Ledger{
		pool:         pool,
		participants: make(map[string]*model.Participant, len(participants)),
	}
	for _, p := range participants {
		if p.PoolID != pool.ID {
			continue
		}
		cp := p
		l.participants[p.Account] = &cp
	}
	return l
}

// Pool returns the live pool record.
func (l *Ledger) Pool() *model.Pool {
	return &l.pool
}

// Participant returns the live record for account, creating an empty one
// on first use.
func (l *Ledger) Participant(account string) *model.Participant {
	p, ok := l.participants[account]
	if !ok {
		p = &model.Participant{PoolID: l.pool.ID, Account: account}
		l.participants[account] = p
	}
	return p
}

// Lookup returns a copy of account's record without creating it.
func (l *Ledger) Lookup(account string) (model.Participant, bool) {
	p, ok := l.participants[account]
	if !ok {
		return model.Participant{PoolID: l.pool.ID, Account: account}, false
	}
	return *p, true
}

// Participants returns copies of all records ordered by account.
func (l *Ledger) Participants() []model.Participant {
	out := make([]model.Participant, 0, len(l.participants))
	for _, p := range l.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Checkpoint captures the pool and the named participants so a failed
// operation can be discarded as if never attempted.
type Checkpoint struct {
	pool  model.Pool
	parts map[string]*model.Participant // nil value: did not exist
}

// Checkpoint records the current state of the pool and accounts.
func (l *Ledger) Checkpoint(accounts ...string) Checkpoint {
	cp := Checkpoint{
		pool:  l.pool,
		parts: make(map[string]*model.Participant, len(accounts)),
	}
	for _, a := range accounts {
		if p, ok := l.participants[a]; ok {
			c := *p
			cp.parts[a] = &c
		} else {
			cp.parts[a] = nil
		}
	}
	return cp
}

// Rollback restores the state captured by cp.
func (l *Ledger) Rollback(cp Checkpoint) {
	l.pool = cp.pool
	for a, p := range cp.parts {
		if p == nil {
			delete(l.participants, a)
			continue
		}
		c := *p
		l.participants[a] = &c
	}
}

// Verify checks the ledger invariants as of now:
//   - TotalStaked equals the sum of staked balances
//   - no participant checkpoint is ahead of the accumulator
//   - LastUpdateTime does not pass EndTime once started
//   - reward paid plus reward owed stays within the budget
//
// Verify only sees the participants loaded into this ledger.
func (l *Ledger) Verify(now uint64) error {
	var staked, owed uint256.Int
	var err error
	for _, p := range l.participants {
		if staked, err = amount.Add(staked, p.StakedBalance); err != nil {
			return err
		}
		if p.RewardPerShareCheckpoint.Gt(&l.pool.RewardPerShareStored) {
			return fmt.Errorf("%w: checkpoint of %s ahead of accumulator", ErrInvariantViolated, p.Account)
		}
		e, err := accrual.Earned(&l.pool, p, now)
		if err != nil {
			return err
		}
		if owed, err = amount.Add(owed, e); err != nil {
			return err
		}
	}

	if !staked.Eq(&l.pool.TotalStaked) {
		return fmt.Errorf("%w: total staked %s, participants hold %s",
			ErrInvariantViolated, l.pool.TotalStaked.Dec(), staked.Dec())
	}
	if l.pool.Started && l.pool.LastUpdateTime > l.pool.EndTime {
		return fmt.Errorf("%w: last update %d after end %d",
			ErrInvariantViolated, l.pool.LastUpdateTime, l.pool.EndTime)
	}

	committed, err := amount.Add(owed, l.pool.TotalRewardPaid)
	if err != nil {
		return err
	}
	if committed.Gt(&l.pool.RewardBudget) {
		return fmt.Errorf("%w: reward committed %s exceeds budget %s",
			ErrInvariantViolated, committed.Dec(), l.pool.RewardBudget.Dec())
	}
	return nil
}

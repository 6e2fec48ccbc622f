// Package pool implements the lifecycle of a single-asset staking pool:
// funding, deposits, withdrawals, reward claims and the creator's final
// sweep, on top of the reward accumulator in package accrual.
//
// Lifecycle:
//
//	Unfunded → Funded → Running ⇄ Paused → Ended → Swept
//
// A Machine is single-writer. Operations are all-or-nothing: any error
// rolls the ledger back to its state before the call. Ledger effects are
// applied before the settlement adapter is invoked, and an explicit
// in-progress flag rejects any call that re-enters the machine from inside
// an adapter transfer.
package pool

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/accrual"
	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/ledger"
	"github.com/atmx/staking-pool/internal/model"
	"github.com/atmx/staking-pool/internal/settlement"
)

// Receipt describes the ledger deltas of a committed operation.
type Receipt struct {
	Kind      string
	PoolID    string
	Account   string
	Timestamp uint64

	Requested uint256.Int // amount asked of the adapter
	Amount    uint256.Int // principal, budget or remainder actually moved
	Reward    uint256.Int // reward paid out
	Delivered uint256.Int // what the adapter reported delivering on payout

	StakedBalance  uint256.Int
	TotalStaked    uint256.Int
	RewardPerShare uint256.Int
	EndTime        uint64

	Started bool // this deposit started the pool
	Paused  bool // this withdrawal emptied the pool
	Resumed bool // this deposit ended a pause
}

// Machine applies operations to one pool's ledger.
type Machine struct {
	ledger  *ledger.Ledger
	adapter settlement.Adapter
	busy    bool
}

// New creates a machine over l that settles through adapter.
func New(l *ledger.Ledger, adapter settlement.Adapter) *Machine {
	return &Machine{ledger: l, adapter: adapter}
}

// Ledger returns the underlying ledger.
func (m *Machine) Ledger() *ledger.Ledger {
	return m.ledger
}

func (m *Machine) enter() error {
	if m.busy {
		return ErrReentrantCall
	}
	m.busy = true
	return nil
}

func (m *Machine) exit() {
	m.busy = false
}

// Fund pulls the reward budget from the creator. The amount custody
// actually received becomes the budget and fixes the reward rate.
func (m *Machine) Fund(ctx context.Context, funder string, requested uint256.Int, now uint64) (r Receipt, err error) {
	if err := m.enter(); err != nil {
		return Receipt{}, err
	}
	defer m.exit()

	p := m.ledger.Pool()
	if funder != p.Creator {
		return Receipt{}, ErrUnauthorized
	}
	if p.Funded {
		return Receipt{}, ErrAlreadyFunded
	}
	if requested.IsZero() {
		return Receipt{}, ErrZeroReward
	}

	cp := m.ledger.Checkpoint()
	defer func() {
		if err != nil {
			m.ledger.Rollback(cp)
		}
	}()

	received, err := m.adapter.PullIn(ctx, p.StakedAssetID, funder, requested)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: pull reward: %v", ErrAdapterTransferFailed, err)
	}
	if received.IsZero() {
		return Receipt{}, ErrZeroReward
	}
	rate, err := amount.Div(received, amount.New(p.Duration))
	if err != nil {
		return Receipt{}, fmt.Errorf("pool: reward rate: %w", err)
	}

	p.RewardBudget = received
	p.RewardRate = rate
	p.Funded = true

	r = m.receipt(model.KindFund, funder, now)
	r.Requested = requested
	r.Amount = received
	return r, nil
}

// Deposit stakes requested units for account. The first deposit starts
// the pool; a deposit into a paused pool resumes it and pushes the end
// time out by the paused interval. Only the amount custody actually
// received is credited.
func (m *Machine) Deposit(ctx context.Context, account string, requested uint256.Int, now uint64) (r Receipt, err error) {
	if err := m.enter(); err != nil {
		return Receipt{}, err
	}
	defer m.exit()

	p := m.ledger.Pool()
	if !p.Funded {
		return Receipt{}, ErrNotFunded
	}
	if requested.IsZero() {
		return Receipt{}, ErrZeroAmount
	}
	if p.Swept {
		return Receipt{}, ErrPoolEnded
	}

	cp := m.ledger.Checkpoint(account)
	defer func() {
		if err != nil {
			m.ledger.Rollback(cp)
		}
	}()

	var started, resumed bool
	switch {
	case !p.Started:
		end, err := amount.AddSeconds(now, p.Duration)
		if err != nil {
			return Receipt{}, err
		}
		p.Started = true
		p.StartTime = now
		p.EndTime = end
		p.LastUpdateTime = now
		started = true

	case p.TotalStaked.IsZero() && p.Paused():
		paused, err := amount.SubSeconds(now, p.PauseStartedAt)
		if err != nil {
			return Receipt{}, err
		}
		if p.EndTime, err = amount.AddSeconds(p.EndTime, paused); err != nil {
			return Receipt{}, err
		}
		if p.TotalPausedDuration, err = amount.AddSeconds(p.TotalPausedDuration, paused); err != nil {
			return Receipt{}, err
		}
		p.LastUpdateTime = now
		p.PauseStartedAt = 0
		p.PauseActive = false
		resumed = true
	}

	if now >= p.EndTime {
		return Receipt{}, ErrPoolEnded
	}

	part := m.ledger.Participant(account)
	if err := accrual.Settle(p, part, now); err != nil {
		return Receipt{}, err
	}

	received, err := m.adapter.PullIn(ctx, p.StakedAssetID, account, requested)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: pull stake: %v", ErrAdapterTransferFailed, err)
	}
	if received.IsZero() {
		return Receipt{}, ErrNoTokensReceived
	}

	if part.StakedBalance, err = amount.Add(part.StakedBalance, received); err != nil {
		return Receipt{}, err
	}
	if p.TotalStaked, err = amount.Add(p.TotalStaked, received); err != nil {
		return Receipt{}, err
	}

	r = m.receipt(model.KindDeposit, account, now)
	r.Requested = requested
	r.Amount = received
	r.Started = started
	r.Resumed = resumed
	return r, nil
}

// Withdraw unstakes amt for account and pays out any accrued reward in
// the same transfer. Emptying a running pool pauses it.
func (m *Machine) Withdraw(ctx context.Context, account string, amt uint256.Int, now uint64) (r Receipt, err error) {
	if err := m.enter(); err != nil {
		return Receipt{}, err
	}
	defer m.exit()

	if amt.IsZero() {
		return Receipt{}, ErrZeroAmount
	}
	if existing, _ := m.ledger.Lookup(account); existing.StakedBalance.Lt(&amt) {
		return Receipt{}, ErrInsufficientBalance
	}

	cp := m.ledger.Checkpoint(account)
	defer func() {
		if err != nil {
			m.ledger.Rollback(cp)
		}
	}()

	p := m.ledger.Pool()
	part := m.ledger.Participant(account)
	if err := accrual.Settle(p, part, now); err != nil {
		return Receipt{}, err
	}

	reward, err := m.takeReward(p, part)
	if err != nil {
		return Receipt{}, err
	}
	if part.StakedBalance, err = amount.Sub(part.StakedBalance, amt); err != nil {
		return Receipt{}, err
	}
	if p.TotalStaked, err = amount.Sub(p.TotalStaked, amt); err != nil {
		return Receipt{}, err
	}

	paused := false
	if p.TotalStaked.IsZero() && p.Started && now < p.EndTime {
		p.PauseStartedAt = now
		p.PauseActive = true
		paused = true
	}

	payout, err := amount.Add(amt, reward)
	if err != nil {
		return Receipt{}, err
	}
	delivered, err := m.adapter.PushOut(ctx, p.StakedAssetID, account, payout)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: push withdrawal: %v", ErrAdapterTransferFailed, err)
	}

	r = m.receipt(model.KindWithdraw, account, now)
	r.Requested = amt
	r.Amount = amt
	r.Reward = reward
	r.Delivered = delivered
	r.Paused = paused
	return r, nil
}

// Claim pays out account's accrued reward.
func (m *Machine) Claim(ctx context.Context, account string, now uint64) (r Receipt, err error) {
	if err := m.enter(); err != nil {
		return Receipt{}, err
	}
	defer m.exit()

	cp := m.ledger.Checkpoint(account)
	defer func() {
		if err != nil {
			m.ledger.Rollback(cp)
		}
	}()

	p := m.ledger.Pool()
	part := m.ledger.Participant(account)
	if err := accrual.Settle(p, part, now); err != nil {
		return Receipt{}, err
	}

	reward, err := m.takeReward(p, part)
	if err != nil {
		return Receipt{}, err
	}
	if reward.IsZero() {
		return Receipt{}, ErrNothingToClaim
	}

	delivered, err := m.adapter.PushOut(ctx, p.StakedAssetID, account, reward)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: push reward: %v", ErrAdapterTransferFailed, err)
	}

	r = m.receipt(model.KindClaim, account, now)
	r.Requested = reward
	r.Reward = reward
	r.Delivered = delivered
	return r, nil
}

// SweepRemainder sends the creator everything custody holds beyond what
// is owed back to stakers. It is allowed once, strictly after the grace
// period that follows the pool's end (or its creation, if it never
// started). Reward left unclaimed at that point is forfeited.
func (m *Machine) SweepRemainder(ctx context.Context, caller string, now uint64) (r Receipt, err error) {
	if err := m.enter(); err != nil {
		return Receipt{}, err
	}
	defer m.exit()

	p := m.ledger.Pool()
	if caller != p.Creator {
		return Receipt{}, ErrUnauthorized
	}
	if p.Swept {
		return Receipt{}, ErrAlreadySwept
	}

	eligible, err := m.sweepableAfter()
	if err != nil {
		return Receipt{}, err
	}
	if now <= eligible {
		return Receipt{}, ErrGracePeriodActive
	}

	custody, err := m.adapter.CustodyBalance(ctx, p.StakedAssetID)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: custody balance: %v", ErrAdapterTransferFailed, err)
	}
	if !custody.Gt(&p.TotalStaked) {
		return Receipt{}, ErrNothingToSweep
	}
	remainder, err := amount.Sub(custody, p.TotalStaked)
	if err != nil {
		return Receipt{}, err
	}

	cp := m.ledger.Checkpoint()
	defer func() {
		if err != nil {
			m.ledger.Rollback(cp)
		}
	}()

	if err := accrual.Settle(p, nil, now); err != nil {
		return Receipt{}, err
	}
	p.Swept = true

	delivered, err := m.adapter.PushOut(ctx, p.StakedAssetID, caller, remainder)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: push remainder: %v", ErrAdapterTransferFailed, err)
	}

	r = m.receipt(model.KindSweep, caller, now)
	r.Requested = remainder
	r.Amount = remainder
	r.Delivered = delivered
	return r, nil
}

// sweepableAfter is the last instant at which a sweep is still refused.
func (m *Machine) sweepableAfter() (uint64, error) {
	p := m.ledger.Pool()
	base := p.CreatedAt
	if p.Started {
		base = p.EndTime
	}
	return amount.AddSeconds(base, p.GracePeriod)
}

// takeReward zeroes part's accrued reward and books it as paid. After a
// sweep the reward is forfeited rather than paid, since custody no longer
// backs it.
func (m *Machine) takeReward(p *model.Pool, part *model.Participant) (uint256.Int, error) {
	reward := part.AccruedReward
	part.AccruedReward = amount.Zero
	if p.Swept {
		return amount.Zero, nil
	}

	var err error
	if part.TotalClaimed, err = amount.Add(part.TotalClaimed, reward); err != nil {
		return amount.Zero, err
	}
	if p.TotalRewardPaid, err = amount.Add(p.TotalRewardPaid, reward); err != nil {
		return amount.Zero, err
	}
	return reward, nil
}

func (m *Machine) receipt(kind, account string, now uint64) Receipt {
	p := m.ledger.Pool()
	r := Receipt{
		Kind:           kind,
		PoolID:         p.ID,
		Account:        account,
		Timestamp:      now,
		TotalStaked:    p.TotalStaked,
		RewardPerShare: p.RewardPerShareStored,
		EndTime:        p.EndTime,
	}
	if part, ok := m.ledger.Lookup(account); ok {
		r.StakedBalance = part.StakedBalance
	}
	return r
}

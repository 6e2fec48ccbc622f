// Package accrual implements the time-weighted reward-per-share accumulator
// that streams a pool's reward budget to its stakers in O(1) per operation.
//
// The accumulator only advances while the pool has started and holds a
// non-zero stake; an empty pool is paused and accrues nothing. Division
// truncates, so rounding dust stays in custody and is never over-paid.
//
// Reference: the Synthetix StakingRewards reward-per-token pattern.
package accrual

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/model"
)

// EffectiveTime clamps now to the pool's end time.
func EffectiveTime(p *model.Pool, now uint64) uint64 {
	if now > p.EndTime {
		return p.EndTime
	}
	return now
}

// CurrentRewardPerShare returns the accumulator as of now without mutating
// the pool:
//
//	stored + elapsed * rewardRate * Precision / totalStaked
//
// where elapsed runs from LastUpdateTime to min(now, EndTime).
func CurrentRewardPerShare(p *model.Pool, now uint64) (uint256.Int, error) {
	if !p.Started || p.TotalStaked.IsZero() {
		return p.RewardPerShareStored, nil
	}

	effective := EffectiveTime(p, now)
	if effective <= p.LastUpdateTime {
		return p.RewardPerShareStored, nil
	}
	elapsed := effective - p.LastUpdateTime

	emitted, err := amount.Mul(amount.New(elapsed), p.RewardRate)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: emitted reward: %w", err)
	}
	delta, err := amount.MulDiv(emitted, amount.Precision, p.TotalStaked)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: reward per share delta: %w", err)
	}
	rps, err := amount.Add(p.RewardPerShareStored, delta)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: reward per share: %w", err)
	}
	return rps, nil
}

// Earned returns the participant's claimable reward as of now. Safe to call
// at any time, including before the pool is funded.
func Earned(p *model.Pool, part *model.Participant, now uint64) (uint256.Int, error) {
	rps, err := CurrentRewardPerShare(p, now)
	if err != nil {
		return amount.Zero, err
	}
	return earnedAt(rps, part)
}

func earnedAt(rps uint256.Int, part *model.Participant) (uint256.Int, error) {
	diff, err := amount.Sub(rps, part.RewardPerShareCheckpoint)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: checkpoint ahead of accumulator: %w", err)
	}
	owed, err := amount.MulDiv(part.StakedBalance, diff, amount.Precision)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: owed reward: %w", err)
	}
	total, err := amount.Add(owed, part.AccruedReward)
	if err != nil {
		return amount.Zero, fmt.Errorf("accrual: accrued reward: %w", err)
	}
	return total, nil
}

// Settle advances the accumulator to now and, if part is non-nil, moves the
// participant's pending reward into AccruedReward and checkpoints it.
//
// Settle must run before any balance change so accrual up to now is
// attributed under the pre-change totals. It is idempotent for repeated
// calls at the same now. On error neither argument is modified.
func Settle(p *model.Pool, part *model.Participant, now uint64) error {
	rps, err := CurrentRewardPerShare(p, now)
	if err != nil {
		return err
	}

	var accrued uint256.Int
	if part != nil {
		if accrued, err = earnedAt(rps, part); err != nil {
			return err
		}
	}

	p.RewardPerShareStored = rps
	// LastUpdateTime never moves backwards, even if now does.
	if effective := EffectiveTime(p, now); effective > p.LastUpdateTime {
		p.LastUpdateTime = effective
	}
	if part != nil {
		part.AccruedReward = accrued
		part.RewardPerShareCheckpoint = rps
	}
	return nil
}

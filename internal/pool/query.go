package pool

import (
	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/accrual"
	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/model"
)

// Earned returns account's claimable reward as of now. Reward left in a
// swept pool is forfeited and reported as zero.
func (m *Machine) Earned(account string, now uint64) (uint256.Int, error) {
	p := m.ledger.Pool()
	if p.Swept {
		return amount.Zero, nil
	}
	part, _ := m.ledger.Lookup(account)
	return accrual.Earned(p, &part, now)
}

// RewardPerShare returns the accumulator as of now.
func (m *Machine) RewardPerShare(now uint64) (uint256.Int, error) {
	return accrual.CurrentRewardPerShare(m.ledger.Pool(), now)
}

// Stats returns the pool tuple for the view layer.
func (m *Machine) Stats(now uint64) (model.PoolStats, error) {
	p := m.ledger.Pool()
	rps, err := m.RewardPerShare(now)
	if err != nil {
		return model.PoolStats{}, err
	}
	state := m.State(now)
	return model.PoolStats{
		PoolID:         p.ID,
		StakedAssetID:  p.StakedAssetID,
		Creator:        p.Creator,
		State:          state.String(),
		TotalStaked:    amount.ToDecimal(p.TotalStaked),
		RewardBudget:   amount.ToDecimal(p.RewardBudget),
		RewardRate:     amount.ToDecimal(p.RewardRate),
		RewardPerShare: amount.ToDecimal(rps),
		RewardPaid:     amount.ToDecimal(p.TotalRewardPaid),
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		PausedDuration: p.TotalPausedDuration,
		GracePeriod:    p.GracePeriod,
		Started:        p.Started,
		Ended:          state == StateEnded || (state == StateSwept && p.Started),
		Paused:         state == StatePaused,
		Swept:          p.Swept,
	}, nil
}

// ParticipantInfo returns the participant tuple for account.
func (m *Machine) ParticipantInfo(account string, now uint64) (model.ParticipantInfo, error) {
	pending, err := m.Earned(account, now)
	if err != nil {
		return model.ParticipantInfo{}, err
	}
	part, _ := m.ledger.Lookup(account)
	return model.ParticipantInfo{
		PoolID:        m.ledger.Pool().ID,
		Account:       account,
		StakedBalance: amount.ToDecimal(part.StakedBalance),
		PendingReward: amount.ToDecimal(pending),
		TotalClaimed:  amount.ToDecimal(part.TotalClaimed),
	}, nil
}

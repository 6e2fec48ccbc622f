// Package model defines the core domain types shared across the staking
// service.
//
// Ledger state (Pool, Participant) holds exact 256-bit integers. Records that
// leave the core (LedgerEntry, PoolStats, ParticipantInfo) carry
// shopspring/decimal values; never float64 for money.
package model

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Pool is the singleton state of one staking campaign. The reward asset is
// the staked asset.
type Pool struct {
	ID            string `json:"id" db:"id"`
	StakedAssetID string `json:"staked_asset_id" db:"staked_asset_id"`
	Creator       string `json:"creator" db:"creator"`
	CreatedAt     uint64 `json:"created_at" db:"created_at"` // unix seconds

	Duration    uint64 `json:"duration" db:"duration"`         // seconds
	GracePeriod uint64 `json:"grace_period" db:"grace_period"` // seconds

	TotalStaked          uint256.Int `json:"total_staked" db:"total_staked"`
	RewardBudget         uint256.Int `json:"reward_budget" db:"reward_budget"`
	RewardRate           uint256.Int `json:"reward_rate" db:"reward_rate"` // per second, truncated once
	RewardPerShareStored uint256.Int `json:"reward_per_share_stored" db:"reward_per_share_stored"`
	TotalRewardPaid      uint256.Int `json:"total_reward_paid" db:"total_reward_paid"`

	StartTime           uint64 `json:"start_time" db:"start_time"`
	EndTime             uint64 `json:"end_time" db:"end_time"`
	LastUpdateTime      uint64 `json:"last_update_time" db:"last_update_time"`
	PauseStartedAt      uint64 `json:"pause_started_at" db:"pause_started_at"` // meaningful only while PauseActive
	TotalPausedDuration uint64 `json:"total_paused_duration" db:"total_paused_duration"`

	Funded      bool `json:"funded" db:"funded"`
	Started     bool `json:"started" db:"started"`
	PauseActive bool `json:"pause_active" db:"pause_active"`
	Swept       bool `json:"swept" db:"swept"`
}

// Paused reports whether the reward stream is currently suspended.
func (p *Pool) Paused() bool {
	return p.PauseActive
}

// Participant is one account's position in a pool. Entries are created
// lazily on first stake and never deleted.
type Participant struct {
	PoolID                   string      `json:"pool_id" db:"pool_id"`
	Account                  string      `json:"account" db:"account"`
	StakedBalance            uint256.Int `json:"staked_balance" db:"staked_balance"`
	RewardPerShareCheckpoint uint256.Int `json:"reward_per_share_checkpoint" db:"reward_per_share_checkpoint"`
	AccruedReward            uint256.Int `json:"accrued_reward" db:"accrued_reward"`
	TotalClaimed             uint256.Int `json:"total_claimed" db:"total_claimed"`
}

// Operation kinds recorded in the ledger.
const (
	KindFund     = "FUND"
	KindDeposit  = "DEPOSIT"
	KindWithdraw = "WITHDRAW"
	KindClaim    = "CLAIM"
	KindSweep    = "SWEEP"
)

// LedgerEntry is an immutable record of a committed pool operation.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	Account   string          `json:"account" db:"account"`
	Kind      string          `json:"kind" db:"kind"`
	Requested decimal.Decimal `json:"requested" db:"requested"` // amount asked of the adapter
	Amount    decimal.Decimal `json:"amount" db:"amount"`       // principal actually moved
	Reward    decimal.Decimal `json:"reward" db:"reward"`       // reward paid out
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PoolStats is the read-only pool tuple consumed by the view layer.
type PoolStats struct {
	PoolID         string          `json:"pool_id"`
	StakedAssetID  string          `json:"staked_asset_id"`
	Creator        string          `json:"creator"`
	State          string          `json:"state"`
	TotalStaked    decimal.Decimal `json:"total_staked"`
	RewardBudget   decimal.Decimal `json:"reward_budget"`
	RewardRate     decimal.Decimal `json:"reward_rate"`
	RewardPerShare decimal.Decimal `json:"reward_per_share"`
	RewardPaid     decimal.Decimal `json:"reward_paid"`
	StartTime      uint64          `json:"start_time"`
	EndTime        uint64          `json:"end_time"`
	PausedDuration uint64          `json:"paused_duration"`
	GracePeriod    uint64          `json:"grace_period"`
	Started        bool            `json:"started"`
	Ended          bool            `json:"ended"`
	Paused         bool            `json:"paused"`
	Swept          bool            `json:"swept"`
}

// ParticipantInfo is the read-only participant tuple.
type ParticipantInfo struct {
	PoolID        string          `json:"pool_id"`
	Account       string          `json:"account"`
	StakedBalance decimal.Decimal `json:"staked_balance"`
	PendingReward decimal.Decimal `json:"pending_reward"`
	TotalClaimed  decimal.Decimal `json:"total_claimed"`
}

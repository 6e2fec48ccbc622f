package pool

import (
	"errors"

	"github.com/atmx/staking-pool/internal/amount"
)

// Every operation either commits fully or returns one of these and leaves
// the ledger exactly as it found it.
var (
	ErrAlreadyFunded         = errors.New("pool: already funded")
	ErrZeroReward            = errors.New("pool: reward amount must be positive")
	ErrNotFunded             = errors.New("pool: not funded")
	ErrZeroAmount            = errors.New("pool: amount must be positive")
	ErrPoolEnded             = errors.New("pool: ended")
	ErrNoTokensReceived      = errors.New("pool: no tokens received")
	ErrInsufficientBalance   = errors.New("pool: insufficient staked balance")
	ErrNothingToClaim        = errors.New("pool: nothing to claim")
	ErrUnauthorized          = errors.New("pool: unauthorized")
	ErrAlreadySwept          = errors.New("pool: already swept")
	ErrGracePeriodActive     = errors.New("pool: grace period active")
	ErrNothingToSweep        = errors.New("pool: nothing to sweep")
	ErrAdapterTransferFailed = errors.New("pool: adapter transfer failed")
	ErrReentrantCall         = errors.New("pool: re-entrant call")

	// ErrArithmeticOverflow is amount.ErrArithmeticOverflow, surfaced here
	// so callers can match every kind against this package.
	ErrArithmeticOverflow = amount.ErrArithmeticOverflow
)

// Kinds lists every error an operation can return, in a stable order.
var Kinds = []error{
	ErrAlreadyFunded,
	ErrZeroReward,
	ErrNotFunded,
	ErrZeroAmount,
	ErrPoolEnded,
	ErrNoTokensReceived,
	ErrInsufficientBalance,
	ErrNothingToClaim,
	ErrUnauthorized,
	ErrAlreadySwept,
	ErrGracePeriodActive,
	ErrNothingToSweep,
	ErrAdapterTransferFailed,
	ErrReentrantCall,
	ErrArithmeticOverflow,
}

// Kind returns the first entry of Kinds that err matches, or nil.
func Kind(err error) error {
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

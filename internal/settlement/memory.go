package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/amount"
)

// bpsDenominator is 100% in basis points.
const bpsDenominator = 10_000

// MemoryVault keeps asset balances in memory. Used for testing and
// development. Not suitable for production (no persistence).
//
// A per-asset transfer fee, charged on every movement and burned, lets
// tests exercise fee-on-transfer tokens.
type MemoryVault struct {
	mu         sync.Mutex
	balances   map[string]map[string]uint256.Int // assetID → account → balance
	feeBps     map[string]uint64
	defaultFee uint64
	restricted map[string]bool
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances:   make(map[string]map[string]uint256.Int),
		feeBps:     make(map[string]uint64),
		restricted: make(map[string]bool),
	}
}

// SetTransferFee charges bps basis points on every transfer of assetID.
func (v *MemoryVault) SetTransferFee(assetID string, bps uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	v.feeBps[assetID] = bps
}

// SetDefaultTransferFee charges bps basis points on transfers of any asset
// without its own fee.
func (v *MemoryVault) SetDefaultTransferFee(bps uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	v.defaultFee = bps
}

// Restrict blocks account from sending or receiving any asset.
func (v *MemoryVault) Restrict(account string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restricted[account] = true
}

// Mint credits account with amt of assetID.
func (v *MemoryVault) Mint(assetID, account string, amt uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(assetID, account, amt)
}

// BalanceOf returns account's holding of assetID.
func (v *MemoryVault) BalanceOf(assetID, account string) uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[assetID][account]
}

// Custody returns an Adapter whose custody account is account.
func (v *MemoryVault) Custody(account string) Adapter {
	return &custodyAdapter{vault: v, custody: account}
}

// transfer moves amt from one account to another and returns the amount
// the receiver got after fees.
func (v *MemoryVault) transfer(assetID, from, to string, amt uint256.Int) (uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.restricted[from] || v.restricted[to] {
		return amount.Zero, fmt.Errorf("%w: %s → %s", ErrTransferRestricted, from, to)
	}

	bal := v.balances[assetID][from]
	if amt.IsZero() {
		return amount.Zero, nil
	}
	if bal.Lt(&amt) {
		return amount.Zero, fmt.Errorf("%w: %s holds %s, needs %s",
			ErrInsufficientBalance, from, bal.Dec(), amt.Dec())
	}

	bps, ok := v.feeBps[assetID]
	if !ok {
		bps = v.defaultFee
	}
	fee, err := amount.MulDiv(amt, amount.New(bps), amount.New(bpsDenominator))
	if err != nil {
		return amount.Zero, err
	}
	received, err := amount.Sub(amt, fee)
	if err != nil {
		return amount.Zero, err
	}
	remaining, err := amount.Sub(bal, amt)
	if err != nil {
		return amount.Zero, err
	}
	v.balances[assetID][from] = remaining
	if err := v.credit(assetID, to, received); err != nil {
		v.balances[assetID][from] = bal
		return amount.Zero, err
	}
	return received, nil
}

func (v *MemoryVault) credit(assetID, account string, amt uint256.Int) error {
	accounts, ok := v.balances[assetID]
	if !ok {
		accounts = make(map[string]uint256.Int)
		v.balances[assetID] = accounts
	}
	next, err := amount.Add(accounts[account], amt)
	if err != nil {
		return err
	}
	accounts[account] = next
	return nil
}

type custodyAdapter struct {
	vault   *MemoryVault
	custody string
}

func (a *custodyAdapter) PullIn(_ context.Context, assetID, from string, amt uint256.Int) (uint256.Int, error) {
	return a.vault.transfer(assetID, from, a.custody, amt)
}

func (a *custodyAdapter) PushOut(_ context.Context, assetID, to string, amt uint256.Int) (uint256.Int, error) {
	return a.vault.transfer(assetID, a.custody, to, amt)
}

func (a *custodyAdapter) CustodyBalance(_ context.Context, assetID string) (uint256.Int, error) {
	return a.vault.BalanceOf(assetID, a.custody), nil
}

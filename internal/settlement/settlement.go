// Package settlement defines the boundary through which a pool moves asset
// custody, and provides an in-memory vault implementation used for
// development and tests.
//
// Transfers report the amount actually realized. With fee-on-transfer
// assets the amount received can be lower than the amount requested, and
// callers must treat the reported figure as ground truth.
package settlement

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot
	// cover a transfer.
	ErrInsufficientBalance = errors.New("settlement: insufficient balance")

	// ErrTransferRestricted is returned when an account may not send or
	// receive the asset.
	ErrTransferRestricted = errors.New("settlement: transfer restricted")
)

// Adapter moves one pool's custody in and out. An Adapter is bound to a
// single custody account.
type Adapter interface {
	// PullIn moves amount from an external account into custody and
	// returns the amount custody actually received.
	PullIn(ctx context.Context, assetID, from string, amount uint256.Int) (uint256.Int, error)

	// PushOut moves amount from custody to an external account and returns
	// the amount actually delivered.
	PushOut(ctx context.Context, assetID, to string, amount uint256.Int) (uint256.Int, error)

	// CustodyBalance returns what custody currently holds of assetID.
	CustodyBalance(ctx context.Context, assetID string) (uint256.Int, error)
}

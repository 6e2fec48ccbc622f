package staking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/atmx/staking-pool/internal/pool"
	"github.com/atmx/staking-pool/internal/settlement"
)

type transfer struct {
	assetID string
	account string
	amount  uint256.Int
}

// deferredPayouts wraps a custody adapter so payouts are held back until
// the operation is persisted. Pulls pass straight through and are recorded
// so they can be returned if persisting fails.
type deferredPayouts struct {
	settlement.Adapter

	pulls     []transfer
	pushes    []transfer
	delivered uint256.Int
}

func (d *deferredPayouts) PullIn(ctx context.Context, assetID, from string, amt uint256.Int) (uint256.Int, error) {
	received, err := d.Adapter.PullIn(ctx, assetID, from, amt)
	if err == nil && !received.IsZero() {
		d.pulls = append(d.pulls, transfer{assetID: assetID, account: from, amount: received})
	}
	return received, err
}

// PushOut records the payout and reports it as delivered in full. The real
// figure is known once flush runs.
func (d *deferredPayouts) PushOut(_ context.Context, assetID, to string, amt uint256.Int) (uint256.Int, error) {
	d.pushes = append(d.pushes, transfer{assetID: assetID, account: to, amount: amt})
	return amt, nil
}

// flush sends the held payouts. It runs inside Commit, so an error here
// discards the persisted state along with it.
func (d *deferredPayouts) flush(ctx context.Context) error {
	for _, t := range d.pushes {
		got, err := d.Adapter.PushOut(ctx, t.assetID, t.account, t.amount)
		if err != nil {
			return fmt.Errorf("%w: push to %s: %v", pool.ErrAdapterTransferFailed, t.account, err)
		}
		d.delivered = got
	}
	return nil
}

// refund returns what was pulled in by an operation that was not persisted.
func (d *deferredPayouts) refund(ctx context.Context, poolID string) {
	for _, t := range d.pulls {
		returned, err := d.Adapter.PushOut(ctx, t.assetID, t.account, t.amount)
		if err != nil {
			slog.Error("refund failed",
				"pool", poolID,
				"account", t.account,
				"amount", t.amount.Dec(),
				"err", err,
			)
			continue
		}
		slog.Warn("refunded unpersisted deposit",
			"pool", poolID,
			"account", t.account,
			"amount", t.amount.Dec(),
			"returned", returned.Dec(),
		)
	}
	d.pulls = nil
}

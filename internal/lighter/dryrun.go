package lighter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DryRun wraps a real client, passing reads through and substituting
// no-ops for every money-moving call. Placed orders are acknowledged with
// synthetic ids and reported open forever; withdrawals confirm instantly.
type DryRun struct {
	inner Client

	mu     sync.Mutex
	seq    uint64
	placed map[string]struct{}
}

func NewDryRun(inner Client) *DryRun {
	return &DryRun{inner: inner, placed: make(map[string]struct{})}
}

func (d *DryRun) Address() string { return d.inner.Address() }

func (d *DryRun) GetUSDCBalance(ctx context.Context) (decimal.Decimal, error) {
	return d.inner.GetUSDCBalance(ctx)
}

func (d *DryRun) PlaceOrder(ctx context.Context, market, side string, price, size decimal.Decimal) (string, error) {
	_ = ctx
	id := "dry-" + uuid.NewString()
	d.record(id)
	return id, nil
}

func (d *DryRun) CancelOrder(ctx context.Context, orderID string) error {
	_ = ctx
	_ = orderID
	return nil
}

func (d *DryRun) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if d.recorded(orderID) {
		return OrderState{OrderID: orderID, Status: "open", FilledSize: decimal.Zero}, nil
	}
	return d.inner.GetOrderStatus(ctx, orderID)
}

func (d *DryRun) GetPositionHealth(ctx context.Context) (PositionHealth, error) {
	return d.inner.GetPositionHealth(ctx)
}

func (d *DryRun) Withdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	_ = ctx
	_ = amount
	d.mu.Lock()
	d.seq++
	tx := fmt.Sprintf("dry-tx-%d", d.seq)
	d.placed[tx] = struct{}{}
	d.mu.Unlock()
	return tx, nil
}

func (d *DryRun) GetTransactionStatus(ctx context.Context, txHash string) (string, error) {
	if d.recorded(txHash) {
		return TxConfirmed, nil
	}
	return d.inner.GetTransactionStatus(ctx, txHash)
}

func (d *DryRun) Close() error { return d.inner.Close() }

func (d *DryRun) record(id string) {
	d.mu.Lock()
	d.placed[id] = struct{}{}
	d.mu.Unlock()
}

func (d *DryRun) recorded(id string) bool {
	d.mu.Lock()
	_, ok := d.placed[id]
	d.mu.Unlock()
	return ok
}

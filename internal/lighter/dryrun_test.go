package lighter

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

type recordingClient struct {
	placeCalls    int
	cancelCalls   int
	withdrawCalls int
}

func (r *recordingClient) Address() string { return "0xabc" }

func (r *recordingClient) GetUSDCBalance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(750), nil
}

func (r *recordingClient) PlaceOrder(context.Context, string, string, decimal.Decimal, decimal.Decimal) (string, error) {
	r.placeCalls++
	return "real-order", nil
}

func (r *recordingClient) CancelOrder(context.Context, string) error {
	r.cancelCalls++
	return nil
}

func (r *recordingClient) GetOrderStatus(_ context.Context, orderID string) (OrderState, error) {
	return OrderState{OrderID: orderID, Status: "filled"}, nil
}

func (r *recordingClient) GetPositionHealth(context.Context) (PositionHealth, error) {
	return PositionHealth{MarginRatio: 0.4}, nil
}

func (r *recordingClient) Withdraw(context.Context, decimal.Decimal) (string, error) {
	r.withdrawCalls++
	return "real-tx", nil
}

func (r *recordingClient) GetTransactionStatus(context.Context, string) (string, error) {
	return TxPending, nil
}

func (r *recordingClient) Close() error { return nil }

func TestDryRunNeverMovesMoney(t *testing.T) {
	inner := &recordingClient{}
	dry := NewDryRun(inner)
	ctx := context.Background()

	id, err := dry.PlaceOrder(ctx, "SOL", SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if !strings.HasPrefix(id, "dry-") {
		t.Fatalf("expected synthetic id, got %s", id)
	}
	if err := dry.CancelOrder(ctx, id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	tx, err := dry.Withdraw(ctx, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if inner.placeCalls != 0 || inner.cancelCalls != 0 || inner.withdrawCalls != 0 {
		t.Fatalf("dry run must not reach the exchange: %+v", inner)
	}

	status, err := dry.GetTransactionStatus(ctx, tx)
	if err != nil {
		t.Fatalf("tx status failed: %v", err)
	}
	if status != TxConfirmed {
		t.Fatalf("synthetic withdrawals confirm instantly, got %s", status)
	}
}

func TestDryRunPassesReadsThrough(t *testing.T) {
	inner := &recordingClient{}
	dry := NewDryRun(inner)
	ctx := context.Background()

	amount, err := dry.GetUSDCBalance(ctx)
	if err != nil || !amount.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("balance passthrough failed: %s %v", amount, err)
	}
	health, err := dry.GetPositionHealth(ctx)
	if err != nil || health.MarginRatio != 0.4 {
		t.Fatalf("health passthrough failed: %+v %v", health, err)
	}
	// Unknown order ids fall through to the real client.
	st, err := dry.GetOrderStatus(ctx, "real-order")
	if err != nil || st.Status != "filled" {
		t.Fatalf("status passthrough failed: %+v %v", st, err)
	}
}

func TestDryRunReportsSyntheticOrdersOpen(t *testing.T) {
	dry := NewDryRun(&recordingClient{})
	ctx := context.Background()
	id, err := dry.PlaceOrder(ctx, "SOL", SideSell, decimal.NewFromInt(110), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	st, err := dry.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Status != "open" || !st.FilledSize.IsZero() {
		t.Fatalf("synthetic order should stay open and unfilled: %+v", st)
	}
}

package state

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Journal kinds.
const (
	KindTransition  = "state_transition"
	KindOrder       = "order"
	KindLiquidation = "liquidation"
	KindWithdrawal  = "withdrawal"
)

// Entry is one audit record of the run.
type Entry struct {
	At     time.Time
	Kind   string
	Wallet string
	Detail string
}

// Journal is an append-only audit trail of lifecycle and order events.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

package state

import (
	"context"
	"encoding/json"
	"strings"
)

const RunSnapshotKey = "run:last_snapshot"

// RunSnapshot is the periodically persisted view of the run, enough to
// report where a crashed run got to.
type RunSnapshot struct {
	State             string   `json:"state"`
	Market            string   `json:"market"`
	ActiveOrders      int      `json:"active_orders"`
	FilledOrders      int      `json:"filled_orders"`
	LiquidatedWallets []string `json:"liquidated_wallets,omitempty"`
	Emergency         bool     `json:"emergency"`
	UpdatedAtMS       int64    `json:"updated_at_ms"`
}

func LoadRunSnapshot(ctx context.Context, store Store) (RunSnapshot, bool, error) {
	if store == nil {
		return RunSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, RunSnapshotKey)
	if err != nil {
		return RunSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return RunSnapshot{}, false, nil
	}
	var snapshot RunSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return RunSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveRunSnapshot(ctx context.Context, store Store, snapshot RunSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, RunSnapshotKey, string(payload))
}

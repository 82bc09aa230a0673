package balance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/lighter"
	"lighter-hedge-bot/internal/wallet"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxFanOut bounds concurrent balance queries in CheckAll.
const maxFanOut = 8

const assetUSDC = "USDC"

// Snapshot is one observed wallet balance. Replaced wholesale on refresh.
type Snapshot struct {
	Address   string
	Asset     string
	Amount    decimal.Decimal
	FetchedAt time.Time
}

// QueryError surfaces a balance fetch that failed after retries.
type QueryError struct {
	Address string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("balance query for %s failed: %v", e.Address, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// WalletStatus is the per-wallet line of a batch report.
type WalletStatus struct {
	Address string
	Amount  decimal.Decimal
	OK      bool
}

// Report is the outcome of a batch balance check.
type Report struct {
	Threshold decimal.Decimal
	Wallets   []WalletStatus
	CheckedAt time.Time
}

func (r Report) Failing() []WalletStatus {
	var out []WalletStatus
	for _, w := range r.Wallets {
		if !w.OK {
			out = append(out, w)
		}
	}
	return out
}

func (r Report) String() string {
	lines := make([]string, 0, len(r.Wallets)+1)
	lines = append(lines, fmt.Sprintf("balance report (min %s USDC)", r.Threshold))
	for _, w := range r.Wallets {
		mark := "ok"
		if !w.OK {
			mark = fmt.Sprintf("BELOW MINIMUM (deficit %s)", r.Threshold.Sub(w.Amount))
		}
		lines = append(lines, fmt.Sprintf("  %s  %s USDC  %s", w.Address, w.Amount, mark))
	}
	return strings.Join(lines, "\n")
}

// InsufficientError names every wallet below the threshold.
type InsufficientError struct {
	Threshold decimal.Decimal
	Wallets   []WalletStatus
}

func (e *InsufficientError) Error() string {
	addrs := make([]string, 0, len(e.Wallets))
	for _, w := range e.Wallets {
		addrs = append(addrs, fmt.Sprintf("%s=%s", w.Address, w.Amount))
	}
	return fmt.Sprintf("%d wallets below minimum %s USDC: %s", len(e.Wallets), e.Threshold, strings.Join(addrs, ", "))
}

// Checker caches per-wallet balances with a TTL and runs the pre-trade
// balance gate.
type Checker struct {
	registry *wallet.Registry
	retry    config.RetryConfig
	ttl      time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	cache map[string]Snapshot
}

func New(registry *wallet.Registry, retry config.RetryConfig, ttl time.Duration, log *zap.Logger) *Checker {
	return &Checker{
		registry: registry,
		retry:    retry,
		ttl:      ttl,
		cache:    make(map[string]Snapshot),
		log:      log,
	}
}

// Fetch returns the cached snapshot when younger than the TTL, otherwise
// queries the exchange with retry. An expired entry is never reused.
func (c *Checker) Fetch(ctx context.Context, address string) (Snapshot, error) {
	c.mu.Lock()
	snap, ok := c.cache[cacheKey(address, assetUSDC)]
	c.mu.Unlock()
	if ok && time.Since(snap.FetchedAt) < c.ttl {
		return snap, nil
	}
	return c.Fresh(ctx, address)
}

// Fresh bypasses the cache. Money-moving decisions go through here (or
// through Fetch once the TTL expired) so they never act on stale data.
func (c *Checker) Fresh(ctx context.Context, address string) (Snapshot, error) {
	client, err := c.registry.ResolveClient(address)
	if err != nil {
		return Snapshot{}, err
	}
	var amount decimal.Decimal
	err = lighter.Retry(ctx, c.retry, c.log, "get_balance", func() error {
		var qErr error
		amount, qErr = client.GetUSDCBalance(ctx)
		return qErr
	})
	if err != nil {
		return Snapshot{}, &QueryError{Address: address, Err: err}
	}
	snap := Snapshot{Address: address, Asset: assetUSDC, Amount: amount, FetchedAt: time.Now()}
	c.mu.Lock()
	c.cache[cacheKey(address, assetUSDC)] = snap
	c.mu.Unlock()
	return snap, nil
}

// ValidateMinimum reports whether the snapshot meets the threshold.
// Boundary equality passes.
func ValidateMinimum(snap Snapshot, threshold decimal.Decimal) bool {
	return snap.Amount.GreaterThanOrEqual(threshold)
}

// CheckAll fetches both wallets of every pair with bounded fan-out and
// gates on the threshold. Any wallet below it fails the whole batch with
// an InsufficientError naming every violator; a query failure fails the
// batch outright.
func (c *Checker) CheckAll(ctx context.Context, pairs []*wallet.Pair, threshold decimal.Decimal) (Report, error) {
	addresses := make([]string, 0, len(pairs)*2)
	for _, pair := range pairs {
		addresses = append(addresses, pair.AddressA, pair.AddressB)
	}

	type result struct {
		snap Snapshot
		err  error
	}
	results := make([]result, len(addresses))
	sem := make(chan struct{}, maxFanOut)
	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			snap, err := c.Fetch(ctx, addr)
			results[i] = result{snap: snap, err: err}
		}(i, addr)
	}
	wg.Wait()

	report := Report{Threshold: threshold, CheckedAt: time.Now()}
	for i, res := range results {
		if res.err != nil {
			return Report{}, errors.Wrapf(res.err, "check balances for %s", addresses[i])
		}
		report.Wallets = append(report.Wallets, WalletStatus{
			Address: res.snap.Address,
			Amount:  res.snap.Amount,
			OK:      ValidateMinimum(res.snap, threshold),
		})
	}
	sort.Slice(report.Wallets, func(i, j int) bool { return report.Wallets[i].Address < report.Wallets[j].Address })

	if failing := report.Failing(); len(failing) > 0 {
		return report, &InsufficientError{Threshold: threshold, Wallets: failing}
	}
	return report, nil
}

// Monitor re-checks all balances on an interval and logs violations. It
// never aborts the run; the gate only applies before orders are placed.
func (c *Checker) Monitor(ctx context.Context, pairs []*wallet.Pair, threshold decimal.Decimal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := c.CheckAll(ctx, pairs, threshold)
			if err != nil {
				var insufficient *InsufficientError
				if errors.As(err, &insufficient) {
					c.log.Warn("wallets below minimum balance", zap.String("detail", insufficient.Error()))
					continue
				}
				c.log.Warn("periodic balance check failed", zap.Error(err))
				continue
			}
			c.log.Debug("periodic balance check ok", zap.Int("wallets", len(report.Wallets)))
		}
	}
}

// Invalidate drops every cached snapshot.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]Snapshot)
	c.mu.Unlock()
}

func cacheKey(address, asset string) string {
	return strings.ToLower(address) + ":" + asset
}

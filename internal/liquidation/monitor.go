package liquidation

import (
	"context"
	"sync"
	"time"

	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/lighter"
	"lighter-hedge-bot/internal/metrics"
	"lighter-hedge-bot/internal/wallet"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event reports a detected liquidation. Emitted at most once per wallet
// per run; the wallet is retired from monitoring afterwards.
type Event struct {
	Wallet      string
	Opposite    string
	MarginRatio float64
	DetectedAt  time.Time
}

// OrderCanceller is the slice of the order manager the monitor needs for
// emergency closure.
type OrderCanceller interface {
	CancelAll(ctx context.Context, walletAddr string) (int, error)
}

// Aggressive limit offsets for emergency closes. A close must cross the
// book, so the price is pushed well past the entry.
var (
	sellDiscount = decimal.RequireFromString("0.95")
	buyPremium   = decimal.RequireFromString("1.05")
)

// Monitor polls margin health per wallet and raises liquidation events.
type Monitor struct {
	registry *wallet.Registry
	orders   OrderCanceller
	retry    config.RetryConfig
	cfg      config.MonitorConfig
	market   string
	log      *zap.Logger
	metrics  *metrics.Metrics

	events chan Event

	mu      sync.Mutex
	retired map[string]struct{}
}

func New(registry *wallet.Registry, orders OrderCanceller, cfg config.MonitorConfig, retry config.RetryConfig, market string, log *zap.Logger, m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Monitor{
		registry: registry,
		orders:   orders,
		retry:    retry,
		cfg:      cfg,
		market:   market,
		log:      log,
		metrics:  m,
		events:   make(chan Event, 8),
		retired:  make(map[string]struct{}),
	}
}

// Events delivers detected liquidations to the orchestrator.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// CheckStatus queries one wallet's margin health with retry.
func (m *Monitor) CheckStatus(ctx context.Context, address string) (lighter.PositionHealth, error) {
	client, err := m.registry.ResolveClient(address)
	if err != nil {
		return lighter.PositionHealth{}, err
	}
	var health lighter.PositionHealth
	err = lighter.Retry(ctx, m.retry, m.log, "position_health", func() error {
		var hErr error
		health, hErr = client.GetPositionHealth(ctx)
		return hErr
	})
	if err != nil {
		return lighter.PositionHealth{}, errors.Wrapf(err, "position health for %s", address)
	}
	return health, nil
}

// Run polls every monitored wallet each interval. A failing check for one
// wallet never stops the sweep; the loop exits within one interval of ctx
// cancellation.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.LiquidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, address := range m.registry.Addresses() {
		if ctx.Err() != nil {
			return
		}
		if m.Retired(address) {
			continue
		}
		health, err := m.CheckStatus(ctx, address)
		if err != nil {
			m.log.Warn("liquidation check failed", zap.String("wallet", address), zap.Error(err))
			continue
		}
		m.classify(ctx, address, health.MarginRatio, health.Liquidated)
	}
}

// HandleUpdate feeds a streamed position update through the same
// classification as the polling sweep.
func (m *Monitor) HandleUpdate(ctx context.Context, u lighter.PositionUpdate) {
	if m.Retired(u.Address) {
		return
	}
	m.classify(ctx, u.Address, u.Margin, u.Liq)
}

func (m *Monitor) classify(ctx context.Context, address string, marginRatio float64, liquidated bool) {
	switch {
	case liquidated || marginRatio <= m.cfg.LiquidationRatio:
		m.retire(address)
		m.metrics.Liquidations.Inc()
		opposite := ""
		if pair, err := m.registry.PairFor(address); err == nil {
			opposite, _, _ = pair.Opposite(address)
		}
		m.log.Error("wallet liquidated",
			zap.String("wallet", address),
			zap.Float64("margin_ratio", marginRatio),
		)
		evt := Event{Wallet: address, Opposite: opposite, MarginRatio: marginRatio, DetectedAt: time.Now()}
		select {
		case m.events <- evt:
		case <-ctx.Done():
		}
	case marginRatio <= m.cfg.WarningRatio:
		m.log.Warn("margin ratio near liquidation",
			zap.String("wallet", address),
			zap.Float64("margin_ratio", marginRatio),
			zap.Float64("warning_ratio", m.cfg.WarningRatio),
		)
	}
}

// TriggerEmergencyClose protects the surviving side of a pair after its
// counterpart was liquidated: cancel every open order on the opposite
// wallet, then close its position with an aggressive limit that crosses
// the book. The opposite wallet is retired afterwards; the pair is done
// for this run.
func (m *Monitor) TriggerEmergencyClose(ctx context.Context, liquidatedWallet string) error {
	pair, err := m.registry.PairFor(liquidatedWallet)
	if err != nil {
		return err
	}
	opposite, client, err := pair.Opposite(liquidatedWallet)
	if err != nil {
		return err
	}
	defer m.retire(opposite)

	if m.orders != nil {
		cancelled, err := m.orders.CancelAll(ctx, opposite)
		if err != nil {
			return errors.Wrapf(err, "emergency cancel on %s", opposite)
		}
		m.log.Info("emergency cancel done", zap.String("wallet", opposite), zap.Int("orders", cancelled))
	}

	health, err := m.CheckStatus(ctx, opposite)
	if err != nil {
		return err
	}
	if health.Size.IsZero() {
		m.log.Info("no open position to close", zap.String("wallet", opposite))
		return nil
	}

	side, price := closingOrder(health)
	err = lighter.Retry(ctx, m.retry, m.log, "emergency_close", func() error {
		_, pErr := client.PlaceOrder(ctx, m.market, side, price, health.Size)
		return pErr
	})
	if err != nil {
		return errors.Wrapf(err, "emergency close on %s", opposite)
	}
	m.metrics.EmergencyCloses.Inc()
	m.log.Info("emergency close placed",
		zap.String("wallet", opposite),
		zap.String("side", side),
		zap.String("size", health.Size.String()),
		zap.String("price", price.String()),
	)
	return nil
}

func closingOrder(health lighter.PositionHealth) (string, decimal.Decimal) {
	if health.Side == lighter.SideBuy || health.Side == "long" {
		return lighter.SideSell, health.EntryPrice.Mul(sellDiscount)
	}
	return lighter.SideBuy, health.EntryPrice.Mul(buyPremium)
}

// Retired reports whether a wallet has been withdrawn from monitoring.
func (m *Monitor) Retired(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.retired[address]
	return ok
}

func (m *Monitor) retire(address string) {
	m.mu.Lock()
	m.retired[address] = struct{}{}
	m.mu.Unlock()
}

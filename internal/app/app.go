package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lighter-hedge-bot/internal/alerts"
	"lighter-hedge-bot/internal/balance"
	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/lighter"
	"lighter-hedge-bot/internal/liquidation"
	"lighter-hedge-bot/internal/metrics"
	"lighter-hedge-bot/internal/order"
	"lighter-hedge-bot/internal/state"
	"lighter-hedge-bot/internal/state/sqlite"
	"lighter-hedge-bot/internal/strategy"
	"lighter-hedge-bot/internal/timescale"
	"lighter-hedge-bot/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrEmergencyStop marks a run that ended because a wallet was
// liquidated and the opposite side had to be closed.
var ErrEmergencyStop = errors.New("emergency stop after liquidation")

const (
	statusInterval  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// App drives the full run lifecycle: wallet registration, the balance
// gate, hedge placement, monitoring and teardown.
type App struct {
	cfg  *config.Config
	defs []config.PairDefinition
	log  *zap.Logger

	store    *sqlite.Store
	registry *wallet.Registry
	checker  *balance.Checker
	orders   *order.Manager
	monitor  *liquidation.Monitor
	sm       *strategy.StateMachine
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	alerts   alerts.Sender
	ts       *timescale.Writer
	ws       *lighter.WSClient
	signer   *lighter.Signer
}

func New(cfg *config.Config, defs []config.PairDefinition, log *zap.Logger) (*App, error) {
	if len(defs) == 0 {
		return nil, errors.New("at least one wallet pair is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	ts, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	var signer *lighter.Signer
	if key := strings.TrimSpace(os.Getenv("LIGHTER_SIGNER_KEY")); key != "" {
		signer, err = lighter.NewSigner(key, isMainnet)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("LIGHTER_SIGNER_KEY: %w", err)
		}
	}

	var ws *lighter.WSClient
	if cfg.WS.Enabled {
		ws = lighter.NewWS(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	}

	return &App{
		cfg:     cfg,
		defs:    defs,
		log:     log,
		store:   store,
		sm:      strategy.NewStateMachine(),
		metrics: m,
		prom:    prom,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		ts:      ts,
		ws:      ws,
		signer:  signer,
	}, nil
}

// Initialize registers every wallet pair and builds the monitoring
// stack. CREATED -> INITIALIZED.
func (a *App) Initialize(ctx context.Context) error {
	if snap, entries, ok := a.priorRun(ctx); ok {
		a.log.Info("previous run on this state file",
			zap.String("state", snap.State),
			zap.Bool("emergency", snap.Emergency),
			zap.Strings("liquidated_wallets", snap.LiquidatedWallets),
		)
		for _, entry := range entries {
			a.log.Debug("previous run journal",
				zap.Time("at", entry.At),
				zap.String("kind", entry.Kind),
				zap.String("wallet", entry.Wallet),
				zap.String("detail", entry.Detail),
			)
		}
	}
	registry, err := wallet.Register(a.defs, a.clientFactory())
	if err != nil {
		return err
	}
	a.registry = registry
	a.checker = balance.New(registry, a.cfg.Retry, a.cfg.Monitor.BalanceCacheTTL, a.log)
	a.orders = order.New(registry, a.cfg.Retry, a.log)
	a.monitor = liquidation.New(registry, a.orders, a.cfg.Monitor, a.cfg.Retry, a.cfg.Trading.Market, a.log, a.metrics)
	if _, err := a.sm.Apply(strategy.EventInitialize); err != nil {
		return err
	}
	a.journal(ctx, state.KindTransition, "", "CREATED -> INITIALIZED")
	a.log.Info("initialized",
		zap.Int("pairs", len(registry.Pairs())),
		zap.Bool("dry_run", a.cfg.Trading.DryRun),
	)
	return nil
}

func (a *App) clientFactory() wallet.ClientFactory {
	defaultKey := strings.TrimSpace(os.Getenv("LIGHTER_API_KEY"))
	return func(address, apiKey string) (lighter.Client, error) {
		if apiKey == "" {
			apiKey = defaultKey
		}
		rest, err := lighter.NewREST(lighter.RESTOptions{
			BaseURL:   a.cfg.REST.BaseURL,
			Address:   address,
			APIKey:    apiKey,
			Signer:    a.signer,
			Timeout:   a.cfg.REST.Timeout,
			RateLimit: a.cfg.REST.RateLimit,
			RateBurst: a.cfg.REST.RateBurst,
			Log:       a.log,
		})
		if err != nil {
			return nil, err
		}
		if a.cfg.Trading.DryRun {
			return lighter.NewDryRun(rest), nil
		}
		return rest, nil
	}
}

// ValidateBalances runs the pre-trade gate: every wallet of every pair
// must hold the minimum USDC or nothing trades. INITIALIZED -> VALIDATED.
func (a *App) ValidateBalances(ctx context.Context) error {
	threshold := decimal.NewFromFloat(a.cfg.Trading.MinUSDC)
	report, err := a.checker.CheckAll(ctx, a.registry.Pairs(), threshold)
	if err != nil {
		return err
	}
	a.log.Info("balance gate passed", zap.Int("wallets", len(report.Wallets)))
	a.log.Debug(report.String())
	if _, err := a.sm.Apply(strategy.EventValidate); err != nil {
		return err
	}
	a.journal(ctx, state.KindTransition, "", "INITIALIZED -> VALIDATED")
	return nil
}

// SetupOrders places the hedge on every pair: buy on A, sell on B. Any
// failure unwinds every order placed so far and aborts the run.
// VALIDATED -> ORDERS_PLACED.
func (a *App) SetupOrders(ctx context.Context) error {
	if a.cfg.Trading.BuyPrice <= 0 || a.cfg.Trading.SellPrice <= 0 {
		return errors.New("trading.buy_price and trading.sell_price are required")
	}
	buyPrice := decimal.NewFromFloat(a.cfg.Trading.BuyPrice)
	sellPrice := decimal.NewFromFloat(a.cfg.Trading.SellPrice)
	size := decimal.NewFromFloat(a.cfg.Trading.OrderSize)

	for _, pair := range a.registry.Pairs() {
		buy, sell, err := a.orders.SetupOrders(ctx, pair, a.cfg.Trading.Market, buyPrice, sellPrice, size)
		if err != nil {
			a.metrics.OrdersFailed.Inc()
			a.unwindAll(ctx)
			return err
		}
		for _, leg := range []order.Order{buy, sell} {
			a.metrics.OrdersPlaced.Inc()
			a.recordOrder(ctx, leg)
		}
	}
	if _, err := a.sm.Apply(strategy.EventPlaceOrders); err != nil {
		return err
	}
	a.journal(ctx, state.KindTransition, "", "VALIDATED -> ORDERS_PLACED")
	return nil
}

// Run drives the lifecycle end to end and blocks until the run stops.
// It returns ErrEmergencyStop when a liquidation forced the shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.ValidateBalances(ctx); err != nil {
		a.abortRun(ctx, "balance gate failed: "+err.Error())
		return err
	}
	if err := a.SetupOrders(ctx); err != nil {
		a.abortRun(ctx, "order setup failed: "+err.Error())
		return err
	}
	if _, err := a.sm.Apply(strategy.EventRun); err != nil {
		return err
	}
	a.journal(ctx, state.KindTransition, "", "ORDERS_PLACED -> RUNNING")
	a.log.Info("running", zap.Int("active_orders", a.orders.ActiveCount()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.ts.Start(runCtx)
	a.startMetricsServer(runCtx)
	go a.monitor.Run(runCtx)
	go a.checker.Monitor(runCtx, a.registry.Pairs(), decimal.NewFromFloat(a.cfg.Trading.MinUSDC), a.cfg.Monitor.BalanceInterval)
	go a.consumeFills(runCtx)
	go a.statusLoop(runCtx)
	if a.ws != nil {
		go a.streamPositions(runCtx)
	}

	emergency := false
	select {
	case <-ctx.Done():
	case evt := <-a.monitor.Events():
		emergency = true
		if _, err := a.sm.Apply(strategy.EventEmergency); err != nil {
			a.log.Error("emergency transition rejected", zap.Error(err))
		}
		a.journal(runCtx, state.KindTransition, "", "RUNNING -> EMERGENCY")
		a.handleLiquidation(runCtx, evt)
		a.drainLiquidations(runCtx)
	}
	cancel()

	if err := a.shutdown(emergency); err != nil {
		a.log.Warn("shutdown incomplete", zap.Error(err))
	}
	if emergency {
		return ErrEmergencyStop
	}
	return nil
}

func (a *App) handleLiquidation(ctx context.Context, evt liquidation.Event) {
	a.journal(ctx, state.KindLiquidation, evt.Wallet,
		fmt.Sprintf("margin_ratio=%.4f opposite=%s", evt.MarginRatio, evt.Opposite))
	a.ts.EnqueueMargin(timescale.MarginSnapshot{
		Time:        evt.DetectedAt,
		Wallet:      evt.Wallet,
		MarginRatio: evt.MarginRatio,
		Liquidated:  true,
		State:       string(a.sm.State()),
	})
	alerts.NotifyLiquidation(ctx, a.alerts, evt.Wallet, evt.MarginRatio, a.log)
	if err := a.monitor.TriggerEmergencyClose(ctx, evt.Wallet); err != nil {
		a.log.Error("emergency close failed", zap.String("wallet", evt.Wallet), zap.Error(err))
	}
}

// drainLiquidations handles liquidations queued behind the first one, so
// every affected pair gets its opposite side closed before teardown. The
// drain waits one sweep interval past the last event to catch wallets
// flagged in the same pass.
func (a *App) drainLiquidations(ctx context.Context) {
	grace := a.cfg.Monitor.LiquidationInterval
	for {
		select {
		case evt := <-a.monitor.Events():
			a.handleLiquidation(ctx, evt)
		case <-time.After(grace):
			return
		case <-ctx.Done():
			return
		}
	}
}

// abortRun records a run that failed before reaching RUNNING and drives
// the machine to STOPPED so the journal shows how far it got.
func (a *App) abortRun(ctx context.Context, reason string) {
	a.journal(ctx, state.KindTransition, "", reason)
	if _, err := a.sm.Apply(strategy.EventShutdown); err != nil {
		a.log.Warn("shutdown transition rejected", zap.Error(err))
	}
	if _, err := a.sm.Apply(strategy.EventStopComplete); err != nil {
		a.log.Warn("stop transition rejected", zap.Error(err))
	}
	a.journal(ctx, state.KindTransition, "", "-> STOPPED after failed setup")
	a.saveSnapshot(ctx)
}

// shutdown cancels every remaining order and completes the state
// machine. Runs on a fresh context so a cancelled run context cannot
// strand open orders.
func (a *App) shutdown(emergency bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if _, err := a.sm.Apply(strategy.EventShutdown); err != nil {
		a.log.Warn("shutdown transition rejected", zap.Error(err))
	}
	a.journal(ctx, state.KindTransition, "", fmt.Sprintf("-> SHUTTING_DOWN emergency=%v", emergency))

	cancelled, err := a.unwindAll(ctx)
	if _, applyErr := a.sm.Apply(strategy.EventStopComplete); applyErr != nil {
		a.log.Warn("stop transition rejected", zap.Error(applyErr))
	}
	a.journal(ctx, state.KindTransition, "", "SHUTTING_DOWN -> STOPPED")
	a.saveSnapshot(ctx)
	alerts.NotifyShutdown(ctx, a.alerts, emergency, cancelled, a.log)
	a.log.Info("stopped",
		zap.Int("orders_cancelled", cancelled),
		zap.Bool("emergency", emergency),
	)
	return err
}

// unwindAll cancels active orders across every wallet, best effort.
func (a *App) unwindAll(ctx context.Context) (int, error) {
	if a.registry == nil || a.orders == nil {
		return 0, nil
	}
	total := 0
	var errs []error
	for _, address := range a.registry.Addresses() {
		n, err := a.orders.CancelAll(ctx, address)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	for i := 0; i < total; i++ {
		a.metrics.OrdersCancelled.Inc()
	}
	return total, errors.Join(errs...)
}

func (a *App) consumeFills(ctx context.Context) {
	for o := range a.orders.MonitorFills(ctx, a.cfg.Monitor.OrderInterval) {
		switch o.Status {
		case order.StatusFilled:
			a.metrics.OrdersFilled.Inc()
			a.log.Info("order filled",
				zap.String("order_id", o.ID),
				zap.String("wallet", o.Wallet),
				zap.String("side", string(o.Side)),
				zap.String("size", o.Size.String()),
			)
		case order.StatusPartiallyFilled:
			a.log.Info("order partially filled",
				zap.String("order_id", o.ID),
				zap.String("filled", o.FilledSize.String()),
				zap.String("size", o.Size.String()),
			)
		case order.StatusCancelled, order.StatusRejected:
			a.log.Warn("order closed without fill",
				zap.String("order_id", o.ID),
				zap.String("status", string(o.Status)),
			)
		}
		a.recordOrder(ctx, o)
	}
}

func (a *App) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.log.Info("status",
				zap.String("state", string(a.sm.State())),
				zap.Int("active_orders", a.orders.ActiveCount()),
				zap.Int("filled_orders", a.orders.FilledCount()),
			)
			a.saveSnapshot(ctx)
		}
	}
}

// streamPositions feeds websocket margin updates into the liquidation
// monitor, tightening detection latency between polling sweeps.
func (a *App) streamPositions(ctx context.Context) {
	if err := a.ws.Connect(ctx); err != nil {
		a.log.Warn("ws connect failed, polling only", zap.Error(err))
		return
	}
	for _, address := range a.registry.Addresses() {
		if err := a.ws.SubscribePositions(ctx, address); err != nil {
			a.log.Warn("ws subscribe failed", zap.String("wallet", address), zap.Error(err))
		}
	}
	err := a.ws.Run(ctx, func(raw json.RawMessage) {
		var update lighter.PositionUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			return
		}
		if update.Channel != "positions" || update.Address == "" {
			return
		}
		a.monitor.HandleUpdate(ctx, update)
		a.ts.EnqueueMargin(timescale.MarginSnapshot{
			Time:        time.Now(),
			Wallet:      update.Address,
			MarginRatio: update.Margin,
			Liquidated:  update.Liq,
			State:       string(a.sm.State()),
		})
	})
	if err != nil && ctx.Err() == nil {
		a.log.Warn("ws stream ended", zap.Error(err))
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func (a *App) recordOrder(ctx context.Context, o order.Order) {
	a.journal(ctx, state.KindOrder, o.Wallet,
		fmt.Sprintf("%s %s %s@%s filled=%s status=%s", o.ID, o.Side, o.Size, o.Price, o.FilledSize, o.Status))
	price, _ := o.Price.Float64()
	size, _ := o.Size.Float64()
	filled, _ := o.FilledSize.Float64()
	a.ts.EnqueueOrder(timescale.OrderEvent{
		Time:    o.UpdatedAt,
		Wallet:  o.Wallet,
		OrderID: o.ID,
		Market:  o.Market,
		Side:    string(o.Side),
		Price:   price,
		Size:    size,
		Filled:  filled,
		Status:  string(o.Status),
	})
}

func (a *App) journal(ctx context.Context, kind, walletAddr, detail string) {
	if a.store == nil {
		return
	}
	entry := state.Entry{At: time.Now(), Kind: kind, Wallet: walletAddr, Detail: detail}
	if err := a.store.Append(ctx, entry); err != nil {
		a.log.Warn("journal append failed", zap.Error(err))
	}
}

// priorRun reads the snapshot and journal tail left by the last run on
// this state file.
func (a *App) priorRun(ctx context.Context) (state.RunSnapshot, []state.Entry, bool) {
	if a.store == nil {
		return state.RunSnapshot{}, nil, false
	}
	snap, ok, err := state.LoadRunSnapshot(ctx, a.store)
	if err != nil || !ok {
		if err != nil {
			a.log.Warn("previous snapshot unreadable", zap.Error(err))
		}
		return state.RunSnapshot{}, nil, false
	}
	entries, err := a.store.Recent(ctx, 5)
	if err != nil {
		a.log.Warn("previous journal unreadable", zap.Error(err))
		entries = nil
	}
	return snap, entries, true
}

func (a *App) saveSnapshot(ctx context.Context) {
	if a.store == nil || a.orders == nil {
		return
	}
	snapshot := state.RunSnapshot{
		State:        string(a.sm.State()),
		Market:       a.cfg.Trading.Market,
		ActiveOrders: a.orders.ActiveCount(),
		FilledOrders: a.orders.FilledCount(),
		Emergency:    a.sm.Emergency(),
		UpdatedAtMS:  time.Now().UnixMilli(),
	}
	if a.registry != nil && a.monitor != nil {
		for _, address := range a.registry.Addresses() {
			if a.monitor.Retired(address) {
				snapshot.LiquidatedWallets = append(snapshot.LiquidatedWallets, address)
			}
		}
	}
	if err := state.SaveRunSnapshot(ctx, a.store, snapshot); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// State exposes the current lifecycle state.
func (a *App) State() strategy.State {
	return a.sm.State()
}

// Close releases exchange handles and storage. Call after Run (and any
// withdrawal) has finished.
func (a *App) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.ts != nil {
		_ = a.ts.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

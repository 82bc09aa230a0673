package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lighter-hedge-bot/internal/balance"
	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
	addrC = "0x3333333333333333333333333333333333333333"
	addrD = "0x4444444444444444444444444444444444444444"
)

type placement struct {
	Address string `json:"address"`
	Market  string `json:"market"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

type position struct {
	MarginRatio  float64 `json:"margin_ratio"`
	IsLiquidated bool    `json:"is_liquidated"`
	Side         string  `json:"side"`
	Size         string  `json:"size"`
	EntryPrice   string  `json:"entry_price"`
}

// fakeExchange mimics the REST surface the bot talks to.
type fakeExchange struct {
	mu          sync.Mutex
	seq         int
	balances    map[string]string
	failBalance map[string]bool
	positions   map[string]position
	placements  []placement
	cancels     []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances:    map[string]string{addrA: "1000", addrB: "1000"},
		failBalance: map[string]bool{},
		positions: map[string]position{
			addrA: {MarginRatio: 0.5},
			addrB: {MarginRatio: 0.5},
		},
	}
}

func (f *fakeExchange) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/account/balance", func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("address")
		f.mu.Lock()
		fail := f.failBalance[addr]
		bal := f.balances[addr]
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": bal})
	})
	mux.HandleFunc("/api/v1/order", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "open", "filled_size": "0"})
			return
		}
		var p placement
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.mu.Lock()
		f.seq++
		id := fmt.Sprintf("srv-%d", f.seq)
		f.placements = append(f.placements, p)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": id})
	})
	mux.HandleFunc("/api/v1/order/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderID string `json:"order_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.cancels = append(f.cancels, body.OrderID)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("address")
		f.mu.Lock()
		pos := f.positions[addr]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(pos)
	})
	mux.HandleFunc("/api/v1/withdraw", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": "srv-tx-1"})
	})
	mux.HandleFunc("/api/v1/tx", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "confirmed"})
	})
	return mux
}

func (f *fakeExchange) placementCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placements)
}

func (f *fakeExchange) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

func (f *fakeExchange) setPosition(addr string, pos position) {
	f.mu.Lock()
	f.positions[addr] = pos
	f.mu.Unlock()
}

func (f *fakeExchange) setBalance(addr, amount string) {
	f.mu.Lock()
	f.balances[addr] = amount
	f.mu.Unlock()
}

func newTestApp(t *testing.T, exchange *fakeExchange, dryRun bool) *App {
	t.Helper()
	return newTestAppPairs(t, exchange, dryRun, []config.PairDefinition{{AddressA: addrA, AddressB: addrB}})
}

func newTestAppPairs(t *testing.T, exchange *fakeExchange, dryRun bool, defs []config.PairDefinition) *App {
	t.Helper()
	t.Setenv("LIGHTER_SIGNER_KEY", "")
	t.Setenv("LIGHTER_API_KEY", "")
	server := httptest.NewServer(exchange.handler())
	t.Cleanup(server.Close)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.REST.BaseURL = server.URL
	cfg.State.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Trading.BuyPrice = 100
	cfg.Trading.SellPrice = 110
	cfg.Trading.OrderSize = 1
	cfg.Trading.DryRun = dryRun
	cfg.Retry = config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.Monitor.OrderInterval = 10 * time.Millisecond
	cfg.Monitor.LiquidationInterval = 10 * time.Millisecond
	cfg.Monitor.BalanceInterval = time.Hour
	cfg.WS.Enabled = false

	application, err := New(cfg, defs, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(application.Close)
	return application
}

func TestRunPlacesHedgeAndStopsCleanly(t *testing.T) {
	exchange := newFakeExchange()
	application := newTestApp(t, exchange, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	if err := application.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if application.State() != strategy.StateStopped {
		t.Fatalf("expected STOPPED, got %s", application.State())
	}
	if got := exchange.placementCount(); got != 2 {
		t.Fatalf("expected buy and sell legs, got %d placements", got)
	}
	if got := exchange.cancelCount(); got != 2 {
		t.Fatalf("shutdown must cancel both legs, got %d cancels", got)
	}
}

func TestRunFailsBalanceGate(t *testing.T) {
	exchange := newFakeExchange()
	exchange.setBalance(addrB, "100")
	application := newTestApp(t, exchange, false)

	err := application.Run(context.Background())
	var insufficient *balance.InsufficientError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	if len(insufficient.Wallets) != 1 || insufficient.Wallets[0].Address != addrB {
		t.Fatalf("expected %s below minimum, got %+v", addrB, insufficient.Wallets)
	}
	if exchange.placementCount() != 0 {
		t.Fatal("no orders may be placed when the gate fails")
	}
	if application.State() != strategy.StateStopped {
		t.Fatalf("aborted run must end STOPPED, got %s", application.State())
	}
}

func TestRunEmergencyStopOnLiquidation(t *testing.T) {
	exchange := newFakeExchange()
	exchange.setPosition(addrA, position{MarginRatio: 0.0, IsLiquidated: true})
	exchange.setPosition(addrB, position{MarginRatio: 0.5, Side: "long", Size: "1", EntryPrice: "100"})
	application := newTestApp(t, exchange, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := application.Run(ctx)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop, got %v", err)
	}
	if application.State() != strategy.StateStopped {
		t.Fatalf("expected STOPPED, got %s", application.State())
	}

	// Two hedge legs plus the emergency close on the opposite wallet.
	exchange.mu.Lock()
	defer exchange.mu.Unlock()
	if len(exchange.placements) != 3 {
		t.Fatalf("expected 3 placements, got %d: %+v", len(exchange.placements), exchange.placements)
	}
	closeOrder := exchange.placements[2]
	if closeOrder.Address != addrB || closeOrder.Side != "sell" {
		t.Fatalf("emergency close must sell on the opposite wallet: %+v", closeOrder)
	}
	if len(exchange.cancels) == 0 {
		t.Fatal("emergency path must cancel open orders")
	}
}

func TestRunClosesEveryLiquidatedPair(t *testing.T) {
	exchange := newFakeExchange()
	exchange.setBalance(addrC, "1000")
	exchange.setBalance(addrD, "1000")
	exchange.setPosition(addrA, position{MarginRatio: 0.0, IsLiquidated: true})
	exchange.setPosition(addrC, position{MarginRatio: 0.0, IsLiquidated: true})
	exchange.setPosition(addrB, position{MarginRatio: 0.5, Side: "long", Size: "1", EntryPrice: "100"})
	exchange.setPosition(addrD, position{MarginRatio: 0.5, Side: "long", Size: "1", EntryPrice: "100"})
	application := newTestAppPairs(t, exchange, false, []config.PairDefinition{
		{AddressA: addrA, AddressB: addrB},
		{AddressA: addrC, AddressB: addrD},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := application.Run(ctx)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop, got %v", err)
	}

	// Both A wallets were liquidated in the same sweep; both B wallets
	// must get a crossing sell at 95 (entry 100 less the close discount).
	closePrice := decimal.RequireFromString("95")
	closes := map[string]bool{}
	exchange.mu.Lock()
	defer exchange.mu.Unlock()
	for _, p := range exchange.placements {
		if p.Side != "sell" {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err == nil && price.Equal(closePrice) {
			closes[p.Address] = true
		}
	}
	if !closes[addrB] || !closes[addrD] {
		t.Fatalf("every surviving wallet must be closed out, got closes=%v placements=%+v", closes, exchange.placements)
	}
}

func TestWithdrawAllIsolatesFailures(t *testing.T) {
	exchange := newFakeExchange()
	application := newTestApp(t, exchange, true)
	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	exchange.mu.Lock()
	exchange.failBalance[addrA] = true
	exchange.mu.Unlock()

	err := application.WithdrawAll(ctx, decimal.Zero)
	var withdrawal *WithdrawalError
	if !errors.As(err, &withdrawal) {
		t.Fatalf("expected WithdrawalError, got %v", err)
	}
	if len(withdrawal.Failures) != 1 {
		t.Fatalf("expected exactly the failing wallet, got %+v", withdrawal.Failures)
	}
	if _, ok := withdrawal.Failures[addrA]; !ok {
		t.Fatalf("expected %s to fail, got %+v", addrA, withdrawal.Failures)
	}
}

func TestWithdrawAllSucceedsInDryRun(t *testing.T) {
	exchange := newFakeExchange()
	application := newTestApp(t, exchange, true)
	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := application.WithdrawAll(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
}

func TestWithdrawWithoutTrading(t *testing.T) {
	exchange := newFakeExchange()
	application := newTestApp(t, exchange, true)
	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := application.WithdrawAll(ctx, decimal.Zero); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := exchange.placementCount(); got != 0 {
		t.Fatalf("standalone withdrawal must not place orders, got %d", got)
	}
	if application.State() != strategy.StateInitialized {
		t.Fatalf("withdrawal must not advance the lifecycle past INITIALIZED, got %s", application.State())
	}
}

func TestInitializeReportsPriorRun(t *testing.T) {
	exchange := newFakeExchange()
	application := newTestApp(t, exchange, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	if err := application.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	snap, entries, ok := application.priorRun(context.Background())
	if !ok {
		t.Fatal("completed run must leave a readable snapshot")
	}
	if snap.State != string(strategy.StateStopped) {
		t.Fatalf("expected snapshot state STOPPED, got %s", snap.State)
	}
	if len(entries) == 0 {
		t.Fatal("journal must hold the run trail")
	}
}

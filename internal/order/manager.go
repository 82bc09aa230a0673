package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/lighter"
	"lighter-hedge-bot/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// rank orders the forward fill progression. Terminal cancel/reject states
// are reachable from any non-terminal state and have no rank.
func rank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusOpen:
		return 1
	case StatusPartiallyFilled:
		return 2
	case StatusFilled:
		return 3
	default:
		return -1
	}
}

// ErrOrderState marks an exchange response that would move an order
// backward, e.g. filled -> open. Treated as data inconsistency.
var ErrOrderState = errors.New("inconsistent order state transition")

// CreationError carries the exchange's rejection reason for one order.
type CreationError struct {
	Wallet string
	Side   Side
	Reason error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create %s order for %s: %v", e.Side, e.Wallet, e.Reason)
}

func (e *CreationError) Unwrap() error { return e.Reason }

// Order is one limit order. Mutation happens only inside the Manager,
// serialized by its lock; callers always receive copies.
type Order struct {
	ID            string
	ClientOrderID string
	Wallet        string
	Market        string
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	FilledSize    decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type emission struct {
	status Status
	filled decimal.Decimal
}

// Manager owns order lifecycle: placement, cancellation, status polling
// and the fill-monitoring loop.
type Manager struct {
	registry *wallet.Registry
	retry    config.RetryConfig
	log      *zap.Logger

	mu          sync.Mutex
	orders      map[string]*Order
	active      map[string]*Order
	lastEmitted map[string]emission
	filledCount int
}

func New(registry *wallet.Registry, retry config.RetryConfig, log *zap.Logger) *Manager {
	return &Manager{
		registry:    registry,
		retry:       retry,
		log:         log,
		orders:      make(map[string]*Order),
		active:      make(map[string]*Order),
		lastEmitted: make(map[string]emission),
	}
}

// PlaceLimitOrder validates locally, submits with retry on transient
// faults, and registers the acknowledged order as open.
func (m *Manager) PlaceLimitOrder(ctx context.Context, walletAddr, market string, side Side, price, size decimal.Decimal) (Order, error) {
	if !price.IsPositive() {
		return Order{}, &CreationError{Wallet: walletAddr, Side: side, Reason: fmt.Errorf("invalid price %s", price)}
	}
	if !size.IsPositive() {
		return Order{}, &CreationError{Wallet: walletAddr, Side: side, Reason: fmt.Errorf("invalid size %s", size)}
	}
	client, err := m.registry.ResolveClient(walletAddr)
	if err != nil {
		return Order{}, err
	}
	var orderID string
	err = lighter.Retry(ctx, m.retry, m.log, "place_order", func() error {
		var pErr error
		orderID, pErr = client.PlaceOrder(ctx, market, string(side), price, size)
		return pErr
	})
	if err != nil {
		return Order{}, &CreationError{Wallet: walletAddr, Side: side, Reason: err}
	}

	now := time.Now()
	o := &Order{
		ID:            orderID,
		ClientOrderID: uuid.NewString(),
		Wallet:        walletAddr,
		Market:        market,
		Side:          side,
		Price:         price,
		Size:          size,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.mu.Lock()
	m.orders[orderID] = o
	m.active[orderID] = o
	m.mu.Unlock()
	m.log.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("wallet", walletAddr),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("size", size.String()),
	)
	return *o, nil
}

// CancelOrder is idempotent: a terminal order is returned unchanged with
// no network call.
func (m *Manager) CancelOrder(ctx context.Context, o Order) (Order, error) {
	m.mu.Lock()
	live, ok := m.orders[o.ID]
	if ok && live.Status.Terminal() {
		out := *live
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()
	if !ok && o.Status.Terminal() {
		return o, nil
	}

	client, err := m.registry.ResolveClient(o.Wallet)
	if err != nil {
		return o, err
	}
	err = lighter.Retry(ctx, m.retry, m.log, "cancel_order", func() error {
		return client.CancelOrder(ctx, o.ID)
	})
	if err != nil {
		return o, fmt.Errorf("cancel order %s: %w", o.ID, err)
	}

	m.mu.Lock()
	if live, ok := m.orders[o.ID]; ok {
		if !live.Status.Terminal() {
			live.Status = StatusCancelled
			live.UpdatedAt = time.Now()
		}
		o = *live
		delete(m.active, o.ID)
	} else {
		o.Status = StatusCancelled
		o.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	m.log.Info("order cancelled", zap.String("order_id", o.ID))
	return o, nil
}

// PollStatus re-queries the exchange and applies the monotonic transition
// rule. A backward move raises ErrOrderState instead of overwriting.
func (m *Manager) PollStatus(ctx context.Context, o Order) (Order, error) {
	client, err := m.registry.ResolveClient(o.Wallet)
	if err != nil {
		return o, err
	}
	var remote lighter.OrderState
	err = lighter.Retry(ctx, m.retry, m.log, "order_status", func() error {
		var sErr error
		remote, sErr = client.GetOrderStatus(ctx, o.ID)
		return sErr
	})
	if err != nil {
		return o, fmt.Errorf("poll order %s: %w", o.ID, err)
	}
	next, err := statusFromRemote(remote.Status)
	if err != nil {
		return o, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.orders[o.ID]
	if !ok {
		return o, fmt.Errorf("order %s is not tracked", o.ID)
	}
	if err := checkTransition(live.Status, next); err != nil {
		return *live, err
	}
	if next != live.Status || !remote.FilledSize.Equal(live.FilledSize) {
		live.Status = next
		live.FilledSize = remote.FilledSize
		live.UpdatedAt = time.Now()
	}
	if live.Status.Terminal() {
		if live.Status == StatusFilled {
			m.filledCount++
		}
		delete(m.active, live.ID)
	}
	return *live, nil
}

func checkTransition(current, next Status) error {
	if current == next {
		return nil
	}
	if current.Terminal() {
		return fmt.Errorf("order already %s, exchange reports %s: %w", current, next, ErrOrderState)
	}
	if next == StatusCancelled || next == StatusRejected {
		return nil
	}
	if rank(next) < rank(current) {
		return fmt.Errorf("order moved backward %s -> %s: %w", current, next, ErrOrderState)
	}
	return nil
}

func statusFromRemote(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "open", "new":
		return StatusOpen, nil
	case "partially_filled", "partial":
		return StatusPartiallyFilled, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "rejected", "failed":
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown exchange order status %q", s)
	}
}

// MonitorFills polls every tracked non-terminal order each tick and
// emits orders whose status or filled size changed. A failing poll for
// one order never stops the others; the loop exits within one interval
// of ctx cancellation and closes the returned channel.
func (m *Manager) MonitorFills(ctx context.Context, interval time.Duration) <-chan Order {
	updates := make(chan Order, 16)
	go func() {
		defer close(updates)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pollActive(ctx, updates)
			}
		}
	}()
	return updates
}

func (m *Manager) pollActive(ctx context.Context, updates chan<- Order) {
	m.mu.Lock()
	batch := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		batch = append(batch, *o)
	}
	m.mu.Unlock()

	for _, o := range batch {
		if ctx.Err() != nil {
			return
		}
		updated, err := m.PollStatus(ctx, o)
		if err != nil {
			m.log.Warn("order poll failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		m.mu.Lock()
		last, seen := m.lastEmitted[updated.ID]
		changed := !seen || last.status != updated.Status || !last.filled.Equal(updated.FilledSize)
		if changed {
			m.lastEmitted[updated.ID] = emission{status: updated.Status, filled: updated.FilledSize}
		}
		if updated.Status.Terminal() {
			delete(m.lastEmitted, updated.ID)
		}
		m.mu.Unlock()
		if changed {
			select {
			case updates <- updated:
			case <-ctx.Done():
				return
			}
		}
	}
}

// SetupOrders places the hedge for one pair: buy on wallet A, sell on
// wallet B, strictly in that sequence. When the sell leg fails after the
// buy leg succeeded, the buy is cancelled (compensating action) and the
// sell's error is surfaced; a half-placed pair is a failure, not a
// partial success.
func (m *Manager) SetupOrders(ctx context.Context, pair *wallet.Pair, market string, buyPrice, sellPrice, size decimal.Decimal) (Order, Order, error) {
	buy, err := m.PlaceLimitOrder(ctx, pair.AddressA, market, SideBuy, buyPrice, size)
	if err != nil {
		return Order{}, Order{}, err
	}
	sell, err := m.PlaceLimitOrder(ctx, pair.AddressB, market, SideSell, sellPrice, size)
	if err != nil {
		m.log.Warn("sell leg failed, rolling back buy leg",
			zap.String("buy_order_id", buy.ID),
			zap.String("pair", pair.AddressA+"/"+pair.AddressB),
			zap.Error(err),
		)
		if _, cancelErr := m.CancelOrder(ctx, buy); cancelErr != nil {
			m.log.Error("rollback cancel failed, pair half-exposed",
				zap.String("buy_order_id", buy.ID),
				zap.Error(cancelErr),
			)
		}
		return Order{}, Order{}, err
	}
	return buy, sell, nil
}

// CancelAll cancels every active order on the given wallet. Per-order
// failures are collected, not short-circuited.
func (m *Manager) CancelAll(ctx context.Context, walletAddr string) (int, error) {
	m.mu.Lock()
	batch := make([]Order, 0)
	for _, o := range m.active {
		if strings.EqualFold(o.Wallet, walletAddr) {
			batch = append(batch, *o)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	var errs []error
	for _, o := range batch {
		if _, err := m.CancelOrder(ctx, o); err != nil {
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}

// Active returns copies of all non-terminal orders.
func (m *Manager) Active() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, *o)
	}
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) FilledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filledCount
}

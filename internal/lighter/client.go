package lighter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"lighter-hedge-bot/internal/config"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order sides as the exchange understands them.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Transaction confirmation states reported by the exchange.
const (
	TxConfirmed = "confirmed"
	TxPending   = "pending"
	TxFailed    = "failed"
)

// OrderState is the remote view of an order.
type OrderState struct {
	OrderID    string
	Status     string
	FilledSize decimal.Decimal
}

// PositionHealth is the remote view of a wallet's margin position.
type PositionHealth struct {
	MarginRatio float64
	Liquidated  bool
	Side        string
	Size        decimal.Decimal
	EntryPrice  decimal.Decimal
}

// Client is the per-wallet exchange handle the strategy core consumes.
// Implementations own authentication and signing; every call honours the
// deadline carried by ctx.
type Client interface {
	Address() string
	GetUSDCBalance(ctx context.Context) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, market, side string, price, size decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
	GetPositionHealth(ctx context.Context) (PositionHealth, error)
	Withdraw(ctx context.Context, amount decimal.Decimal) (string, error)
	GetTransactionStatus(ctx context.Context, txHash string) (string, error)
	Close() error
}

// APIError is an authoritative rejection from the exchange. It is never
// retried.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange rejected request: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("exchange rejected request: http %d: %s", e.HTTPStatus, e.Message)
}

// ErrRateLimited marks 429 responses; eligible for retry.
var ErrRateLimited = errors.New("exchange rate limit exceeded")

// IsTransient reports whether err is worth retrying: network faults,
// timeouts, rate limits and server-side errors. Authoritative rejections
// (4xx API errors) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Retry runs fn with bounded exponential backoff, retrying only transient
// failures. The last error is returned once attempts are exhausted.
func Retry(ctx context.Context, cfg config.RetryConfig, log *zap.Logger, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    cfg.BaseDelay,
		Max:    cfg.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == attempts {
			return err
		}
		delay := b.Duration()
		if log != nil {
			log.Warn("transient failure, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RESTClient talks to the Lighter HTTP API on behalf of a single wallet.
type RESTClient struct {
	baseURL string
	address string
	apiKey  string
	signer  *Signer
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

type RESTOptions struct {
	BaseURL   string
	Address   string
	APIKey    string
	Signer    *Signer
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Log       *zap.Logger
}

func NewREST(opts RESTOptions) (*RESTClient, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if strings.TrimSpace(opts.Address) == "" {
		return nil, errors.New("wallet address is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &RESTClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		address: opts.Address,
		apiKey:  opts.APIKey,
		signer:  opts.Signer,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     opts.Log,
	}, nil
}

func (c *RESTClient) Address() string { return c.address }

func (c *RESTClient) GetUSDCBalance(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	params := url.Values{"address": {c.address}, "token": {"USDC"}}
	if err := c.get(ctx, "/api/v1/account/balance", params, &out); err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed balance %q: %w", out.Balance, err)
	}
	return amount, nil
}

func (c *RESTClient) PlaceOrder(ctx context.Context, market, side string, price, size decimal.Decimal) (string, error) {
	req := map[string]any{
		"address":    c.address,
		"market":     market,
		"side":       side,
		"order_type": "limit",
		"price":      price.String(),
		"size":       size.String(),
	}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.post(ctx, "/api/v1/order", req, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", errors.New("exchange returned no order id")
	}
	return out.OrderID, nil
}

func (c *RESTClient) CancelOrder(ctx context.Context, orderID string) error {
	req := map[string]any{"address": c.address, "order_id": orderID}
	return c.post(ctx, "/api/v1/order/cancel", req, nil)
}

func (c *RESTClient) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	var out struct {
		OrderID    string `json:"order_id"`
		Status     string `json:"status"`
		FilledSize string `json:"filled_size"`
	}
	params := url.Values{"order_id": {orderID}}
	if err := c.get(ctx, "/api/v1/order", params, &out); err != nil {
		return OrderState{}, err
	}
	filled := decimal.Zero
	if out.FilledSize != "" {
		var err error
		filled, err = decimal.NewFromString(out.FilledSize)
		if err != nil {
			return OrderState{}, fmt.Errorf("malformed filled size %q: %w", out.FilledSize, err)
		}
	}
	return OrderState{OrderID: out.OrderID, Status: out.Status, FilledSize: filled}, nil
}

func (c *RESTClient) GetPositionHealth(ctx context.Context) (PositionHealth, error) {
	var out struct {
		MarginRatio  float64 `json:"margin_ratio"`
		IsLiquidated bool    `json:"is_liquidated"`
		Side         string  `json:"side"`
		Size         string  `json:"size"`
		EntryPrice   string  `json:"entry_price"`
	}
	params := url.Values{"address": {c.address}}
	if err := c.get(ctx, "/api/v1/position", params, &out); err != nil {
		return PositionHealth{}, err
	}
	health := PositionHealth{
		MarginRatio: out.MarginRatio,
		Liquidated:  out.IsLiquidated,
		Side:        out.Side,
	}
	if out.Size != "" {
		size, err := decimal.NewFromString(out.Size)
		if err != nil {
			return PositionHealth{}, fmt.Errorf("malformed position size %q: %w", out.Size, err)
		}
		health.Size = size
	}
	if out.EntryPrice != "" {
		if px, err := decimal.NewFromString(out.EntryPrice); err == nil {
			health.EntryPrice = px
		}
	}
	return health, nil
}

func (c *RESTClient) Withdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	if c.signer == nil {
		return "", errors.New("withdrawal requires a signer")
	}
	nonce := uint64(time.Now().UnixMilli())
	sig, err := c.signer.SignWithdrawal(c.address, amount.String(), nonce)
	if err != nil {
		return "", err
	}
	req := map[string]any{
		"address":   c.address,
		"token":     "USDC",
		"amount":    amount.String(),
		"nonce":     nonce,
		"signature": sig,
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.post(ctx, "/api/v1/withdraw", req, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", errors.New("exchange returned no transaction hash")
	}
	return out.TxHash, nil
}

func (c *RESTClient) GetTransactionStatus(ctx context.Context, txHash string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	params := url.Values{"hash": {txHash}}
	if err := c.get(ctx, "/api/v1/tx", params, &out); err != nil {
		return "", err
	}
	switch out.Status {
	case TxConfirmed, TxPending, TxFailed:
		return out.Status, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", out.Status)
	}
}

func (c *RESTClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RESTClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Message != "" {
			apiErr.Code = detail.Code
			apiErr.Message = detail.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

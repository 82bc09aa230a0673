package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lighter-hedge-bot/internal/lighter"
	"lighter-hedge-bot/internal/state"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	withdrawPollInterval = 2 * time.Second
	withdrawConfirmWait  = 2 * time.Minute
)

// WithdrawalError aggregates per-wallet withdrawal failures. One wallet
// failing never blocks the others; the caller gets the full picture.
type WithdrawalError struct {
	Failures map[string]error
}

func (e *WithdrawalError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for addr, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", addr, err))
	}
	return fmt.Sprintf("%d withdrawals failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// WithdrawAll moves USDC off every registered wallet. A zero amount
// withdraws each wallet's full balance. Wallets are processed
// sequentially and in isolation; failures are collected into a
// WithdrawalError.
func (a *App) WithdrawAll(ctx context.Context, amount decimal.Decimal) error {
	if a.registry == nil {
		return errors.New("wallets are not registered")
	}
	failures := make(map[string]error)
	for _, address := range a.registry.Addresses() {
		if err := a.withdrawWallet(ctx, address, amount); err != nil {
			a.metrics.WithdrawalFailed.Inc()
			a.log.Error("withdrawal failed", zap.String("wallet", address), zap.Error(err))
			failures[address] = err
			continue
		}
	}
	if len(failures) > 0 {
		return &WithdrawalError{Failures: failures}
	}
	return nil
}

func (a *App) withdrawWallet(ctx context.Context, address string, amount decimal.Decimal) error {
	client, err := a.registry.ResolveClient(address)
	if err != nil {
		return err
	}

	target := amount
	if target.IsZero() {
		snap, err := a.checker.Fresh(ctx, address)
		if err != nil {
			return err
		}
		target = snap.Amount
	}
	if !target.IsPositive() {
		a.log.Info("nothing to withdraw", zap.String("wallet", address))
		return nil
	}

	var txHash string
	err = lighter.Retry(ctx, a.cfg.Retry, a.log, "withdraw", func() error {
		var wErr error
		txHash, wErr = client.Withdraw(ctx, target)
		return wErr
	})
	if err != nil {
		return errors.Wrap(err, "submit withdrawal")
	}
	a.journal(ctx, state.KindWithdrawal, address, fmt.Sprintf("tx=%s amount=%s", txHash, target))
	a.log.Info("withdrawal submitted",
		zap.String("wallet", address),
		zap.String("tx", txHash),
		zap.String("amount", target.String()),
	)

	if err := a.awaitConfirmation(ctx, client, txHash); err != nil {
		return err
	}
	a.metrics.Withdrawals.Inc()
	a.checker.Invalidate()
	a.log.Info("withdrawal confirmed", zap.String("wallet", address), zap.String("tx", txHash))
	return nil
}

func (a *App) awaitConfirmation(ctx context.Context, client lighter.Client, txHash string) error {
	ctx, cancel := context.WithTimeout(ctx, withdrawConfirmWait)
	defer cancel()
	ticker := time.NewTicker(withdrawPollInterval)
	defer ticker.Stop()
	for {
		status, err := client.GetTransactionStatus(ctx, txHash)
		if err != nil {
			if !lighter.IsTransient(err) {
				return errors.Wrapf(err, "transaction %s status", txHash)
			}
			a.log.Warn("transaction status check failed", zap.String("tx", txHash), zap.Error(err))
		}
		switch status {
		case lighter.TxConfirmed:
			return nil
		case lighter.TxFailed:
			return fmt.Errorf("transaction %s failed on chain", txHash)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for transaction %s", txHash)
		case <-ticker.C:
		}
	}
}

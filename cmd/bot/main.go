package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lighter-hedge-bot/internal/app"
	"lighter-hedge-bot/internal/balance"
	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/logging"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit codes: 0 clean stop, 2 configuration failure, 3 balance gate
// failure, 4 emergency stop after liquidation, 1 anything else.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitBalance   = 3
	exitEmergency = 4
)

// overrides carries the trading parameters supplied on the command line.
type overrides struct {
	market          string
	buyPrice        float64
	sellPrice       float64
	orderSize       float64
	minUSDC         float64
	monitorInterval time.Duration
	dryRun          bool
}

// applyOverrides copies flag values onto the loaded config, but only for
// flags the operator actually set.
func applyOverrides(cfg *config.Config, set map[string]bool, o overrides) {
	if set["market"] {
		cfg.Trading.Market = o.market
	}
	if set["buy-price"] {
		cfg.Trading.BuyPrice = o.buyPrice
	}
	if set["sell-price"] {
		cfg.Trading.SellPrice = o.sellPrice
	}
	if set["order-size"] {
		cfg.Trading.OrderSize = o.orderSize
	}
	if set["min-usdc"] {
		cfg.Trading.MinUSDC = o.minUSDC
	}
	if set["monitor-interval"] {
		cfg.Monitor.OrderInterval = o.monitorInterval
		cfg.Monitor.LiquidationInterval = o.monitorInterval
	}
	if set["dry-run"] {
		cfg.Trading.DryRun = o.dryRun
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	pairsSpec := flag.String("pairs", "", "wallet pairs: inline \"a1,b1;a2,b2\" or a .json file")
	market := flag.String("market", "", "market symbol")
	buyPrice := flag.Float64("buy-price", 0, "buy limit price")
	sellPrice := flag.Float64("sell-price", 0, "sell limit price")
	orderSize := flag.Float64("order-size", 0, "order size per leg")
	minUSDC := flag.Float64("min-usdc", 0, "minimum USDC balance per wallet")
	monitorInterval := flag.Duration("monitor-interval", 0, "fill and liquidation poll interval")
	dryRun := flag.Bool("dry-run", false, "acknowledge orders locally without sending them")
	withdrawOnly := flag.Bool("withdraw", false, "withdraw wallet balances and exit without trading")
	withdrawOnExit := flag.Bool("withdraw-on-exit", false, "withdraw wallet balances after a clean stop")
	withdrawAmount := flag.Float64("withdraw-amount", 0, "per-wallet withdrawal amount in USDC (0 = full balance)")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitConfig
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyOverrides(cfg, set, overrides{
		market:          *market,
		buyPrice:        *buyPrice,
		sellPrice:       *sellPrice,
		orderSize:       *orderSize,
		minUSDC:         *minUSDC,
		monitorInterval: *monitorInterval,
		dryRun:          *dryRun,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitConfig
	}

	spec := *pairsSpec
	if spec == "" {
		spec = os.Getenv("LIGHTER_WALLET_PAIRS")
	}
	defs, err := config.ParseWalletPairs(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid wallet pairs: %v\n", err)
		return exitConfig
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.Int("pairs", len(defs)),
		zap.Bool("dry_run", cfg.Trading.DryRun),
	)

	application, err := app.New(cfg, defs, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		return exitConfig
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *withdrawOnly {
		if err := application.Initialize(ctx); err != nil {
			log.Error("failed to register wallets", zap.Error(err))
			return exitConfig
		}
		if err := application.WithdrawAll(ctx, decimal.NewFromFloat(*withdrawAmount)); err != nil {
			log.Error("withdrawals incomplete", zap.Error(err))
			return exitFailure
		}
		return exitOK
	}

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, app.ErrEmergencyStop):
		log.Error("run ended in emergency stop")
		return exitEmergency
	default:
		var insufficient *balance.InsufficientError
		if errors.As(err, &insufficient) {
			log.Error("balance gate failed", zap.String("detail", insufficient.Error()))
			return exitBalance
		}
		log.Error("run failed", zap.Error(err))
		return exitFailure
	}

	if *withdrawOnExit {
		// Signal context may already be cancelled; withdrawals get their
		// own lifetime.
		if err := application.WithdrawAll(context.Background(), decimal.NewFromFloat(*withdrawAmount)); err != nil {
			log.Error("withdrawals incomplete", zap.Error(err))
			return exitFailure
		}
	}
	return exitOK
}

package main

import (
	"testing"
	"time"

	"lighter-hedge-bot/internal/config"
)

func TestApplyOverridesOnlyTouchesSetFlags(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	defaultOrderSize := cfg.Trading.OrderSize
	defaultMinUSDC := cfg.Trading.MinUSDC

	set := map[string]bool{
		"market":           true,
		"buy-price":        true,
		"sell-price":       true,
		"monitor-interval": true,
		"dry-run":          true,
	}
	applyOverrides(cfg, set, overrides{
		market:          "ETH",
		buyPrice:        100,
		sellPrice:       110,
		orderSize:       99,
		minUSDC:         1,
		monitorInterval: 2 * time.Second,
		dryRun:          true,
	})

	if cfg.Trading.Market != "ETH" {
		t.Fatalf("market not overridden: %s", cfg.Trading.Market)
	}
	if cfg.Trading.BuyPrice != 100 || cfg.Trading.SellPrice != 110 {
		t.Fatalf("prices not overridden: %v/%v", cfg.Trading.BuyPrice, cfg.Trading.SellPrice)
	}
	if cfg.Monitor.OrderInterval != 2*time.Second || cfg.Monitor.LiquidationInterval != 2*time.Second {
		t.Fatalf("monitor intervals not overridden: %v/%v", cfg.Monitor.OrderInterval, cfg.Monitor.LiquidationInterval)
	}
	if !cfg.Trading.DryRun {
		t.Fatal("dry run not overridden")
	}
	if cfg.Trading.OrderSize != defaultOrderSize {
		t.Fatalf("order size changed without its flag: %v", cfg.Trading.OrderSize)
	}
	if cfg.Trading.MinUSDC != defaultMinUSDC {
		t.Fatalf("min usdc changed without its flag: %v", cfg.Trading.MinUSDC)
	}
}

func TestOverriddenConfigIsRevalidated(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	set := map[string]bool{"buy-price": true, "sell-price": true}
	applyOverrides(cfg, set, overrides{buyPrice: 110, sellPrice: 100})
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted prices from the command line must be rejected")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info level, got %s", cfg.Log.Level)
	}
	if cfg.Trading.Market != "SOL" {
		t.Fatalf("expected SOL market, got %s", cfg.Trading.Market)
	}
	if cfg.Trading.MinUSDC != 500 {
		t.Fatalf("expected min 500 USDC, got %v", cfg.Trading.MinUSDC)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Monitor.LiquidationRatio != 0.02 || cfg.Monitor.WarningRatio != 0.15 {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
log:
  level: debug
trading:
  market: ETH
  buy_price: 95.5
  sell_price: 104.5
  order_size: 2
retry:
  max_attempts: 5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug, got %s", cfg.Log.Level)
	}
	if cfg.Trading.Market != "ETH" || cfg.Trading.BuyPrice != 95.5 {
		t.Fatalf("unexpected trading config: %+v", cfg.Trading)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	// Unset fields still get defaults.
	if cfg.REST.BaseURL == "" || cfg.Monitor.OrderInterval == 0 {
		t.Fatal("defaults not applied over partial config")
	}
}

func TestLoadRejectsInvertedPrices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
trading:
  buy_price: 110
  sell_price: 100
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected sell <= buy to be rejected")
	}
}

func TestLoadRejectsWarningBelowLiquidationRatio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
monitor:
  liquidation_ratio: 0.2
  warning_ratio: 0.1
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected warning < liquidation ratio to be rejected")
	}
}

func TestParseWalletPairsInline(t *testing.T) {
	defs, err := ParseWalletPairs("0xaaa,0xbbb; 0xccc,0xddd")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(defs))
	}
	if defs[0].AddressA != "0xaaa" || defs[1].AddressB != "0xddd" {
		t.Fatalf("unexpected pairs: %+v", defs)
	}
}

func TestParseWalletPairsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairs.json")
	data := []byte(`[{"address_a":"0xaaa","address_b":"0xbbb","api_key_a":"ka","api_key_b":"kb"}]`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write pairs: %v", err)
	}
	defs, err := ParseWalletPairs(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(defs) != 1 || defs[0].APIKeyA != "ka" {
		t.Fatalf("unexpected pairs: %+v", defs)
	}
}

func TestParseWalletPairsRejectsMalformed(t *testing.T) {
	if _, err := ParseWalletPairs(""); err == nil {
		t.Fatal("expected empty spec to fail")
	}
	if _, err := ParseWalletPairs("0xaaa"); err == nil {
		t.Fatal("expected lone address to fail")
	}
	if _, err := ParseWalletPairs("0xaaa,0xbbb,0xccc"); err == nil {
		t.Fatal("expected triple to fail")
	}
}

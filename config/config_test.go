package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendify/native/fixedpoint"
)

func TestLoadParsesEngineSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	contents := `[token]
Name = "Test Token"
Symbol = "tst"
Decimals = 6
InitialSupply = 500

[accounts]
Treasury = "0x00000000000000000000000000000000000000aa"
Reserve = "0x00000000000000000000000000000000000000bb"
Vault = "0x00000000000000000000000000000000000000cc"
SeizeRecipient = "0x00000000000000000000000000000000000000dd"
ReserveFunding = "250"

[risk]
MinCollateralRatio = "1.25"
BaseRatePerPeriod = "0.01"
Slope = "0.1"
AccrualPeriod = "1h"
CollateralPrice = "2.5"

[pauses]
Lending = true

[[allocations]]
Address = "0x00000000000000000000000000000000000000ee"
Amount = "40"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Token.Symbol != "TST" {
		t.Fatalf("expected upper-cased symbol, got %q", cfg.Token.Symbol)
	}

	rt, err := cfg.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if rt.Token.Decimals != 6 || rt.InitialSupply != 500 {
		t.Fatalf("unexpected token settings %+v supply %d", rt.Token, rt.InitialSupply)
	}
	if rt.Lending.SeizeRecipient != common.HexToAddress("0x00000000000000000000000000000000000000dd") {
		t.Fatalf("unexpected seize recipient %s", rt.Lending.SeizeRecipient.Hex())
	}
	if rt.ReserveFunding.Int64() != 250 {
		t.Fatalf("unexpected reserve funding %s", rt.ReserveFunding)
	}
	if got := fixedpoint.ToDecimal(rt.Lending.MinCollateralRatio); got != "1.25" {
		t.Fatalf("unexpected min ratio %s", got)
	}
	if got := fixedpoint.ToDecimal(rt.Rates.Slope); got != "0.1" {
		t.Fatalf("unexpected slope %s", got)
	}
	if got := fixedpoint.ToDecimal(rt.CollateralPrice); got != "2.5" {
		t.Fatalf("unexpected collateral price %s", got)
	}
	if rt.Lending.AccrualPeriod != time.Hour {
		t.Fatalf("unexpected accrual period %s", rt.Lending.AccrualPeriod)
	}
	if len(rt.Paused) != 1 || rt.Paused[0] != "lending" {
		t.Fatalf("expected lending paused, got %v", rt.Paused)
	}
	if len(rt.Allocations) != 1 || rt.Allocations[0].Amount.Int64() != 40 ||
		rt.Allocations[0].Account != common.HexToAddress("0x00000000000000000000000000000000000000ee") {
		t.Fatalf("unexpected allocations %+v", rt.Allocations)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "engine.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config persisted: %v", err)
	}
	rt, err := cfg.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if rt.Token.Name != DefaultTokenName || rt.Token.Symbol != "LDF" || rt.InitialSupply != 1_000_000 {
		t.Fatalf("unexpected default token %+v", rt.Token)
	}
	if got := fixedpoint.ToDecimal(rt.Rates.BaseRatePerPeriod); got != "0.05" {
		t.Fatalf("unexpected default base rate %s", got)
	}
	if got := fixedpoint.ToDecimal(rt.Lending.MinCollateralRatio); got != "1.5" {
		t.Fatalf("unexpected default min ratio %s", got)
	}
	if rt.Lending.SeizeRecipient != (common.Address{}) {
		t.Fatalf("expected seize recipient to default to reserve routing")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Risk != cfg.Risk || reloaded.Accounts != cfg.Accounts {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"address":  "[accounts]\nReserve = \"not-an-address\"\n",
		"ratio":    "[risk]\nMinCollateralRatio = \"abc\"\n",
		"zero":     "[risk]\nMinCollateralRatio = \"0\"\n",
		"negative": "[risk]\nSlope = \"-0.01\"\n",
		"period":   "[risk]\nAccrualPeriod = \"-1h\"\n",
		"same":     "[accounts]\nReserve = \"0x0000000000000000000000000000000000001002\"\n",
		"alloc":    "[[allocations]]\nAddress = \"0x00000000000000000000000000000000000000ee\"\nAmount = \"0\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "engine.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", strings.TrimSpace(body))
			}
		})
	}
}

package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendify/native/fixedpoint"
	"lendify/native/ledger"
	"lendify/native/lending"
	"lendify/native/rates"
)

// Runtime is the parsed form of Config consumed by the bootstrap.
type Runtime struct {
	Token          ledger.Metadata
	InitialSupply  uint64
	Treasury       common.Address
	Reserve        common.Address
	Vault          common.Address
	ReserveFunding *big.Int

	Lending         lending.Config
	Rates           rates.Parameters
	CollateralPrice *big.Int
	Paused          []string
	Allocations     []RuntimeAllocation
}

// RuntimeAllocation is a parsed Allocation.
type RuntimeAllocation struct {
	Account common.Address
	Amount  *big.Int
}

// ValidateConfig checks that every field parses.
func ValidateConfig(c Config) error {
	_, err := c.Runtime()
	return err
}

// Runtime parses addresses, decimals and durations into runtime values.
func (c Config) Runtime() (Runtime, error) {
	rt := Runtime{
		Token: ledger.Metadata{
			Name:     c.Token.Name,
			Symbol:   c.Token.Symbol,
			Decimals: c.Token.Decimals,
		},
		InitialSupply: c.Token.InitialSupply,
	}
	var err error
	if rt.Treasury, err = parseAddress("accounts.Treasury", c.Accounts.Treasury); err != nil {
		return rt, err
	}
	if rt.Reserve, err = parseAddress("accounts.Reserve", c.Accounts.Reserve); err != nil {
		return rt, err
	}
	if rt.Vault, err = parseAddress("accounts.Vault", c.Accounts.Vault); err != nil {
		return rt, err
	}
	if rt.Vault == rt.Reserve {
		return rt, fmt.Errorf("accounts: vault and reserve must differ")
	}
	if strings.TrimSpace(c.Accounts.SeizeRecipient) != "" {
		if rt.Lending.SeizeRecipient, err = parseAddress("accounts.SeizeRecipient", c.Accounts.SeizeRecipient); err != nil {
			return rt, err
		}
	}
	rt.ReserveFunding = big.NewInt(0)
	if strings.TrimSpace(c.Accounts.ReserveFunding) != "" {
		funding, err := fixedpoint.ParseAmount(c.Accounts.ReserveFunding)
		if err != nil || funding.Sign() < 0 {
			return rt, fmt.Errorf("invalid accounts.ReserveFunding %q", c.Accounts.ReserveFunding)
		}
		rt.ReserveFunding = funding
	}

	if rt.Lending.MinCollateralRatio, err = parsePositiveDecimal("risk.MinCollateralRatio", c.Risk.MinCollateralRatio); err != nil {
		return rt, err
	}
	base, err := parseDecimal("risk.BaseRatePerPeriod", c.Risk.BaseRatePerPeriod)
	if err != nil {
		return rt, err
	}
	slope, err := parseDecimal("risk.Slope", c.Risk.Slope)
	if err != nil {
		return rt, err
	}
	rt.Rates = rates.Parameters{BaseRatePerPeriod: base, Slope: slope}
	if rt.CollateralPrice, err = parsePositiveDecimal("risk.CollateralPrice", c.Risk.CollateralPrice); err != nil {
		return rt, err
	}
	period, err := time.ParseDuration(strings.TrimSpace(c.Risk.AccrualPeriod))
	if err != nil {
		return rt, fmt.Errorf("invalid risk.AccrualPeriod: %w", err)
	}
	if period <= 0 {
		return rt, fmt.Errorf("risk.AccrualPeriod must be positive")
	}
	rt.Lending.AccrualPeriod = period

	if c.Pauses.Lending {
		rt.Paused = append(rt.Paused, "lending")
	}

	for i, alloc := range c.Allocations {
		account, err := parseAddress(fmt.Sprintf("allocations[%d].Address", i), alloc.Address)
		if err != nil {
			return rt, err
		}
		amount, err := fixedpoint.ParseAmount(alloc.Amount)
		if err != nil || amount.Sign() <= 0 {
			return rt, fmt.Errorf("invalid allocations[%d].Amount %q", i, alloc.Amount)
		}
		rt.Allocations = append(rt.Allocations, RuntimeAllocation{Account: account, Amount: amount})
	}
	return rt, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid %s %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseDecimal(field, value string) (*big.Int, error) {
	v, err := fixedpoint.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return v, nil
}

func parsePositiveDecimal(field, value string) (*big.Int, error) {
	v, err := parseDecimal(field, value)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return v, nil
}

package main

import (
	"fmt"
	"math/big"

	engineconfig "lendify/config"
	nativecommon "lendify/native/common"
	"lendify/native/ledger"
	"lendify/native/lending"
	"lendify/native/rates"
	"lendify/native/vault"
)

// node wires the core components described by the engine config.
type node struct {
	ledger *ledger.Ledger
	vault  *vault.Vault
	price  *vault.StaticPrice
	engine *lending.Engine
	pauses *nativecommon.PauseSet
}

// buildNode mints the initial supply to the treasury, funds the reserve and
// applies genesis allocations before building the engine on the ledger.
func buildNode(rt engineconfig.Runtime) (*node, error) {
	l, err := ledger.NewWithSupply(rt.Token, rt.Treasury, rt.InitialSupply)
	if err != nil {
		return nil, fmt.Errorf("mint initial supply: %w", err)
	}
	if rt.ReserveFunding != nil && rt.ReserveFunding.Sign() > 0 {
		if err := l.Transfer(rt.Treasury, rt.Reserve, rt.ReserveFunding); err != nil {
			return nil, fmt.Errorf("fund reserve: %w", err)
		}
	}
	for _, alloc := range rt.Allocations {
		if err := l.Transfer(rt.Treasury, alloc.Account, alloc.Amount); err != nil {
			return nil, fmt.Errorf("allocate to %s: %w", alloc.Account.Hex(), err)
		}
	}
	price := vault.NewStaticPrice(rt.CollateralPrice)
	v, err := vault.New(l, rt.Vault, price)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	model, err := rates.NewModel(rt.Rates)
	if err != nil {
		return nil, fmt.Errorf("init rate model: %w", err)
	}
	engine, err := lending.NewEngine(rt.Lending, lending.Deps{
		Ledger:  l,
		Vault:   v,
		Rates:   model,
		Reserve: rt.Reserve,
	})
	if err != nil {
		return nil, fmt.Errorf("init lending engine: %w", err)
	}
	pauses := nativecommon.NewPauseSet(rt.Paused...)
	engine.SetPauses(pauses)
	// Utilisation is outstanding principal over the pool it was drawn from.
	engine.SetUtilisationSource(func() *big.Int {
		borrowed := engine.Outstanding()
		supplied := new(big.Int).Add(l.BalanceOf(rt.Reserve), borrowed)
		return rates.Utilisation(borrowed, supplied)
	})
	return &node{ledger: l, vault: v, price: price, engine: engine, pauses: pauses}, nil
}

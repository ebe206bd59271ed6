package vault

import (
	"math/big"
	"sync"

	"lendify/native/fixedpoint"
)

// PriceOracle values an amount of collateral in principal-asset base units.
// Implementations must be pure for a given state; the vault never caches the
// result.
type PriceOracle interface {
	PriceOf(amount *big.Int) *big.Int
}

// PriceFunc adapts a plain function to the PriceOracle interface.
type PriceFunc func(amount *big.Int) *big.Int

// PriceOf implements PriceOracle.
func (f PriceFunc) PriceOf(amount *big.Int) *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	return f(amount)
}

// StaticPrice values collateral at a settable scaled unit price. A unit price
// of fixedpoint.One() values collateral one-for-one against the principal
// asset.
type StaticPrice struct {
	mu   sync.RWMutex
	unit *big.Int
}

// NewStaticPrice returns an oracle quoting the supplied scaled unit price.
func NewStaticPrice(unit *big.Int) *StaticPrice {
	p := &StaticPrice{}
	p.Set(unit)
	return p
}

// Set replaces the quoted unit price. Negative or nil prices quote zero.
func (p *StaticPrice) Set(unit *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if unit == nil || unit.Sign() < 0 {
		p.unit = big.NewInt(0)
		return
	}
	p.unit = new(big.Int).Set(unit)
}

// Unit returns the current scaled unit price.
func (p *StaticPrice) Unit() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.unit)
}

// PriceOf implements PriceOracle.
func (p *StaticPrice) PriceOf(amount *big.Int) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fixedpoint.MulScaled(amount, p.unit)
}

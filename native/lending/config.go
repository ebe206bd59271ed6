package lending

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendify/native/fixedpoint"
	"lendify/native/ledger"
	"lendify/native/rates"
	"lendify/native/vault"
)

const (
	// DefaultAccrualPeriod is used when Config.AccrualPeriod is zero.
	DefaultAccrualPeriod = 24 * time.Hour
)

// DefaultMinCollateralRatio is 1.5 scaled.
func DefaultMinCollateralRatio() *big.Int { return fixedpoint.MustDecimal("1.5") }

// Config captures the runtime risk settings for the engine.
type Config struct {
	// MinCollateralRatio is the scaled collateral value to debt threshold
	// required at creation and below which loans become liquidatable.
	MinCollateralRatio *big.Int
	// AccrualPeriod is the length of one interest period.
	AccrualPeriod time.Duration
	// SeizeRecipient receives liquidated collateral. The zero address routes
	// it to the reserve.
	SeizeRecipient common.Address
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c.MinCollateralRatio == nil || c.MinCollateralRatio.Sign() == 0 {
		c.MinCollateralRatio = DefaultMinCollateralRatio()
	}
	if c.AccrualPeriod == 0 {
		c.AccrualPeriod = DefaultAccrualPeriod
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.MinCollateralRatio == nil || c.MinCollateralRatio.Sign() <= 0 {
		return errors.New("lending engine: minimum collateral ratio must be positive")
	}
	if c.AccrualPeriod <= 0 {
		return errors.New("lending engine: accrual period must be positive")
	}
	return nil
}

// CollateralVault is the custody capability the engine drives. It is
// satisfied by *vault.Vault.
type CollateralVault interface {
	Lock(owner common.Address, amount *big.Int) (vault.PositionID, error)
	Augment(id vault.PositionID, owner common.Address, amount *big.Int) error
	Associate(id vault.PositionID, loanID uint64) error
	Settle(id vault.PositionID, loanID uint64) (*big.Int, error)
	Seize(id vault.PositionID, loanID uint64, to common.Address) (*big.Int, error)
	Abort(id vault.PositionID) error
	Ratio(collateral, debt *big.Int) (*big.Int, error)
	Value(collateral *big.Int) *big.Int
}

// RateModel prices new loans and accrues interest on existing ones. It is
// satisfied by *rates.Model.
type RateModel interface {
	CurrentRate(utilisation *big.Int) *big.Int
	Accrue(terms rates.Terms, elapsedPeriods int64) (*big.Int, error)
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Ledger ledger.TokenLedger
	Vault  CollateralVault
	Rates  RateModel
	// Reserve funds principal and receives repayments.
	Reserve common.Address
}

// UtilisationSource reports the current scaled pool utilisation consumed by
// the rate model at loan creation.
type UtilisationSource func() *big.Int

var (
	_ CollateralVault = (*vault.Vault)(nil)
	_ RateModel       = (*rates.Model)(nil)
)
